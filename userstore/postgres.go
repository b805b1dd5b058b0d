package userstore

import (
	"context"
	"crypto/rand"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	otpbroker "github.com/MrEthical07/otpbroker"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

//go:embed schema.sql
var schemaSQL string

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Postgres stores users in a single table. The pool is owned by the caller
// and is never closed here.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
	users  string
}

// PostgresOption configures the store.
type PostgresOption func(*Postgres) error

// WithSchema sets the schema holding the users table (default "public").
func WithSchema(schema string) PostgresOption {
	return func(p *Postgres) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("userstore: invalid schema identifier %q", schema)
		}
		p.schema = schema
		return nil
	}
}

func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.pool == nil {
		return nil, errors.New("userstore: nil pool")
	}
	p.users = pgx.Identifier{p.schema, "users"}.Sanitize()
	return p, nil
}

// Open parses dsn, connects and checks connectivity within three seconds.
func Open(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates the users table when it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, strings.ReplaceAll(schemaSQL, "{{users}}", p.users))
	return err
}

const userColumns = `id, email, name, password_hash, role, status, created_at`

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (otpbroker.User, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM `+p.users+` WHERE email = $1`, emailKey(email))
	return scanUser(row)
}

func (p *Postgres) GetUserByID(ctx context.Context, id string) (otpbroker.User, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM `+p.users+` WHERE id = $1`, id)
	return scanUser(row)
}

func (p *Postgres) CreateUser(ctx context.Context, in otpbroker.CreateUserInput) (otpbroker.User, error) {
	now := time.Now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return otpbroker.User{}, err
	}

	u := otpbroker.User{
		ID:           id.String(),
		Email:        emailKey(in.Email),
		Name:         in.Name,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		Status:       in.Status,
		CreatedAt:    now,
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO `+p.users+` (id, email, name, password_hash, role, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.Status.String(), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return otpbroker.User{}, otpbroker.ErrAccountExists
		}
		return otpbroker.User{}, fmt.Errorf("userstore: insert user: %w", err)
	}
	return u, nil
}

func (p *Postgres) UpdateStatus(ctx context.Context, id string, status otpbroker.AccountStatus) error {
	return p.update(ctx, `status = $2`, id, status.String())
}

func (p *Postgres) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return p.update(ctx, `password_hash = $2`, id, hash)
}

func (p *Postgres) update(ctx context.Context, set, id string, value any) error {
	tag, err := p.pool.Exec(ctx, `UPDATE `+p.users+` SET `+set+`, updated_at = now() WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("userstore: update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return otpbroker.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (otpbroker.User, error) {
	var (
		u      otpbroker.User
		role   string
		status string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &status, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return otpbroker.User{}, otpbroker.ErrUserNotFound
		}
		return otpbroker.User{}, fmt.Errorf("userstore: scan user: %w", err)
	}

	st, ok := otpbroker.ParseAccountStatus(status)
	if !ok {
		return otpbroker.User{}, fmt.Errorf("userstore: unknown status %q for user %s", status, u.ID)
	}
	u.Role = otpbroker.Role(role)
	u.Status = st
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
