package observability

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/getsentry/sentry-go"
	"github.com/robertarktes/smarthost-reservations/internal/config"
)

// SetupSentry enables error reporting when SENTRY_DSN is set. The returned
// func flushes buffered events.
func SetupSentry(cfg *config.Config, service string) (func(), error) {
	if cfg.SentryDSN == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		ServerName:       service,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init sentry")
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// ReportError forwards err to Sentry. It is a no-op when Sentry is not configured.
func ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
