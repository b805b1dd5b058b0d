package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/otpbroker"
	"github.com/MrEthical07/otpbroker/internal/httpapi"
	"github.com/MrEthical07/otpbroker/mailer"
	promexport "github.com/MrEthical07/otpbroker/metrics/export/prometheus"
	"github.com/MrEthical07/otpbroker/report"
	"github.com/MrEthical07/otpbroker/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Runs the HTTP API until SIGINT or SIGTERM.

With --dev the broker uses an in-process Redis, in-memory users and a mailer
that logs messages instead of sending them. A random signing key is generated
when none is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if dev, _ := cmd.Flags().GetBool("dev"); dev {
			conf.Dev = true
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, conf, logger)
	},
}

func init() {
	serveCmd.Flags().Bool("dev", false, "use in-process Redis and in-memory users")
}

// deps holds everything serve opens, closed in reverse order.
type deps struct {
	redis    redis.UniversalClient
	users    otpbroker.UserProvider
	mail     mailer.Mailer
	reporter *report.Rollbar
	closers  []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func openDeps(ctx context.Context, s settings, logger *zap.Logger) (*deps, error) {
	d := &deps{}

	if s.Dev {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("starting miniredis: %w", err)
		}
		d.closers = append(d.closers, mr.Close)
		logger.Warn("dev mode: using in-process redis", zap.String("addr", mr.Addr()))
		s.Redis.Addrs = []string{mr.Addr()}
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.Redis.Addrs,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
	})
	d.redis = client
	d.closers = append(d.closers, func() { _ = client.Close() })

	switch {
	case s.Database.URL != "" && !s.Dev:
		pool, err := userstore.Open(ctx, s.Database.URL, s.Database.MaxConns)
		if err != nil {
			d.close()
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		users, err := userstore.NewPostgres(pool, userstore.WithSchema(s.Database.Schema))
		if err != nil {
			d.close()
			return nil, err
		}
		d.users = users
	default:
		logger.Warn("using in-memory user store; accounts are lost on restart")
		d.users = userstore.NewMemory()
	}

	if s.SendGrid.APIKey != "" && !s.Dev {
		sg, err := mailer.NewSendGrid(mailer.SendGridConfig{
			APIKey:    s.SendGrid.APIKey,
			FromEmail: s.SendGrid.FromEmail,
			FromName:  s.SendGrid.FromName,
		})
		if err != nil {
			d.close()
			return nil, err
		}
		d.mail = sg
	} else {
		d.mail = mailer.NewConsole(logger)
	}

	if s.Rollbar.Token != "" {
		d.reporter = report.NewRollbar(report.Config{
			Token:       s.Rollbar.Token,
			Environment: s.Rollbar.Environment,
			CodeVersion: version,
		})
		d.closers = append(d.closers, func() { _ = d.reporter.Close() })
	}

	return d, nil
}

func buildEngine(s settings, d *deps, logger *zap.Logger) (*otpbroker.Engine, error) {
	if s.Dev && s.JWT.Key == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		s.JWT.Key = base64.StdEncoding.EncodeToString(key)
		logger.Warn("dev mode: generated a random signing key; tokens do not survive restarts")
	}

	cfg, err := s.engineConfig()
	if err != nil {
		return nil, err
	}

	b := otpbroker.New().
		WithConfig(cfg).
		WithRedis(d.redis).
		WithUserProvider(d.users).
		WithMailer(d.mail).
		WithLogger(logger)
	if d.reporter != nil {
		b.WithErrorReporter(d.reporter)
	}
	return b.Build()
}

// runServe blocks until ctx is done or the server fails.
func runServe(ctx context.Context, s settings, logger *zap.Logger) error {
	d, err := openDeps(ctx, s, logger)
	if err != nil {
		return err
	}
	defer d.close()

	engine, err := buildEngine(s, d, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	for _, w := range engine.SecurityReport().Warnings {
		logger.Warn("security", zap.String("warning", w))
	}

	opts := &httpapi.Options{
		Address:    s.Address,
		Debug:      s.Debug,
		TrustProxy: s.TrustProxy,
		Engine:     engine,
		Logger:     logger,
		Metrics:    promexport.Handler(promexport.NewCollector(engine)),
	}
	if d.reporter != nil {
		opts.Reporter = d.reporter
	}
	srv, err := httpapi.NewServer(opts)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
