package report

import (
	"context"

	otpbroker "github.com/MrEthical07/otpbroker"
	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
)

// Config identifies this deployment to Rollbar.
type Config struct {
	Token       string
	Environment string
	CodeVersion string
	ServerHost  string
	// Endpoint overrides the Rollbar API URL.
	Endpoint string
}

// Rollbar is an otpbroker.ErrorReporter. Items are sent asynchronously;
// call Close on shutdown to flush them.
type Rollbar struct {
	client *rollbar.Client
}

var _ otpbroker.ErrorReporter = (*Rollbar)(nil)

func NewRollbar(cfg Config) *Rollbar {
	return newRollbar(rollbar.New(cfg.Token, cfg.Environment, cfg.CodeVersion, cfg.ServerHost, ""), cfg)
}

func newRollbar(client *rollbar.Client, cfg Config) *Rollbar {
	client.SetStackTracer(errors.StackTracer)
	if cfg.Endpoint != "" {
		client.SetEndpoint(cfg.Endpoint)
	}
	client.SetEnabled(cfg.Token != "")
	return &Rollbar{client: client}
}

// Report sends err at error level with fields as extras.
func (r *Rollbar) Report(ctx context.Context, err error, fields map[string]string) {
	if r == nil || err == nil {
		return
	}
	extras := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		extras[k] = v
	}
	r.client.ErrorWithExtrasAndContext(ctx, rollbar.ERR, err, extras)
}

func (r *Rollbar) Close() error {
	if r == nil {
		return nil
	}
	return r.client.Close()
}
