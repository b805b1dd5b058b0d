package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/otpbroker"
	"github.com/MrEthical07/otpbroker/mailer"
	"github.com/MrEthical07/otpbroker/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type loadtestOptions struct {
	users       int
	concurrency int
	ops         int
	redisAddr   string
}

var loadtestOpts loadtestOptions

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Measure token and validation throughput against Redis",
	Long: `Seeds users with live sessions, then runs two phases:
  temp-token  issue a temp token and redeem it
  validate    validate an access token (JWT + session lookup)

Without --redis-addr an in-process Redis is used. Rate limits are lifted for
the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoadtest(cmd.Context(), cmd.OutOrStdout(), loadtestOpts)
	},
}

func init() {
	loadtestCmd.Flags().IntVar(&loadtestOpts.users, "users", 1000, "number of users to seed")
	loadtestCmd.Flags().IntVar(&loadtestOpts.concurrency, "concurrency", 64, "number of concurrent workers")
	loadtestCmd.Flags().IntVar(&loadtestOpts.ops, "ops", 20000, "operations per phase")
	loadtestCmd.Flags().StringVar(&loadtestOpts.redisAddr, "redis-addr", "", "redis address; in-process redis when empty")
}

func runLoadtest(ctx context.Context, out io.Writer, o loadtestOptions) error {
	if o.users <= 0 || o.concurrency <= 0 || o.ops <= 0 {
		return errors.New("users, concurrency, and ops must be > 0")
	}

	addr := o.redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("failed to start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	engine, users, err := loadtestEngine(client)
	if err != nil {
		return err
	}
	defer engine.Close()

	emails := make([]string, o.users)
	access := make([]string, o.users)
	fmt.Fprintf(out, "seeding %d users...\n", o.users)
	startSeed := time.Now()
	for i := range emails {
		emails[i] = fmt.Sprintf("load-%d@example.com", i)
		if _, err := users.CreateUser(ctx, otpbroker.CreateUserInput{
			Email:  emails[i],
			Name:   "Load Test",
			Role:   otpbroker.RoleStudent,
			Status: otpbroker.AccountActive,
		}); err != nil {
			return err
		}
		signIn, err := engine.IssueSignInToken(ctx, emails[i])
		if err != nil {
			return err
		}
		tokens, err := engine.ExchangeSignInToken(ctx, signIn)
		if err != nil {
			return err
		}
		access[i] = tokens.AccessToken
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	tempStats, err := runPhase(ctx, o.ops, o.concurrency, func(ctx context.Context, r *mrand.Rand) error {
		email := emails[r.Intn(len(emails))]
		token, err := engine.GenerateTempToken(ctx, email)
		if err != nil {
			return err
		}
		got, err := engine.GetEmailFromToken(ctx, token)
		if err == nil && got != email {
			return fmt.Errorf("token redeemed for %s, want %s", got, email)
		}
		return err
	})
	if err != nil {
		return err
	}

	validateStats, err := runPhase(ctx, o.ops, o.concurrency, func(ctx context.Context, r *mrand.Rand) error {
		_, err := engine.Validate(ctx, access[r.Intn(len(access))])
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "temp-token", tempStats)
	printStats(out, "validate", validateStats)
	return nil
}

func loadtestEngine(client redis.UniversalClient) (*otpbroker.Engine, *userstore.Memory, error) {
	cfg := otpbroker.DefaultConfig()
	cfg.JWT.PrivateKey = make([]byte, 32)
	if _, err := rand.Read(cfg.JWT.PrivateKey); err != nil {
		return nil, nil, err
	}
	unlimited := otpbroker.Window{Max: 1 << 30, Length: 24 * time.Hour}
	cfg.RateLimit.TempToken = unlimited
	cfg.RateLimit.EmailFromToken = unlimited
	cfg.RateLimit.SignInToken = unlimited

	users := userstore.NewMemory()
	engine, err := otpbroker.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(users).
		WithMailer(mailer.NewConsole(zap.NewNop())).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return nil, nil, err
	}
	return engine, users, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

// runPhase spreads ops calls of op over concurrency workers. Failed calls are
// counted, not returned; only a cancelled ctx stops the phase early.
func runPhase(ctx context.Context, ops, concurrency int, op func(context.Context, *mrand.Rand) error) (phaseStats, error) {
	var (
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		worker := w
		g.Go(func() error {
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return nil
				}
				t0 := time.Now()
				err := op(gctx, r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, err
	}
	return computeStats(time.Since(start), latencies, failures), nil
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
