package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/systmms/bootcfg/internal/errors"
)

// withProbeTimeout creates a context with timeout for a single probe
func withProbeTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// probeTimeoutError wraps deadline errors with a suggestion for the probe kind
func probeTimeoutError(ctx context.Context, err error, kind string, timeout time.Duration) error {
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	return apperrors.UserError{
		Message:    "Capability probe timed out",
		Details:    fmt.Sprintf("Probe exceeded %s timeout", timeout),
		Suggestion: getTimeoutSuggestion(kind),
		Err:        err,
	}
}

// getTimeoutSuggestion provides helpful suggestions for probe timeouts
func getTimeoutSuggestion(kind string) string {
	switch kind {
	case "redis":
		return "Check that redis is listening on REDIS_HOST:REDIS_PORT and that REDIS_PASSWORD is correct"
	case "tcp":
		return "Check that the service is listening and reachable from this host"
	case "sql":
		return "Check the database DSN and that the server accepts connections"
	case "keyring":
		return "The OS keyring did not answer. On Linux make sure a Secret Service daemon is running"
	}
	return "Increase the probe timeout or check network connectivity"
}
