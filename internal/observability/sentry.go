package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry wires error reporting. A missing DSN disables it without
// failing startup, so local runs work with no Sentry project at all.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		ServerName:       "analytics-hub",
		AttachStacktrace: true,
	})
}

// FlushSentry drains buffered events on shutdown. Serverless invocations
// call this before the process is frozen.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
