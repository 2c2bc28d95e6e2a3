package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/systmms/bootcfg/internal/logging"
)

// Reloadable can be reloaded on demand.
type Reloadable interface {
	Reload(ctx context.Context) (*Report, error)
}

// Reloader re-resolves configuration when the process receives SIGHUP.
type Reloader struct {
	target   Reloadable
	logger   *logging.Logger
	signals  <-chan os.Signal
	onReload func(*Report, error)
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithSignals replaces SIGHUP delivery with ch (for tests).
func WithSignals(ch <-chan os.Signal) ReloaderOption {
	return func(r *Reloader) { r.signals = ch }
}

// OnReload is called after every reload attempt.
func OnReload(fn func(*Report, error)) ReloaderOption {
	return func(r *Reloader) { r.onReload = fn }
}

// NewReloader creates a reloader for target.
func NewReloader(target Reloadable, logger *logging.Logger, opts ...ReloaderOption) *Reloader {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Reloader{target: target, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until ctx is done, reloading on every signal.
func (r *Reloader) Run(ctx context.Context) {
	signals := r.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGHUP)
		defer signal.Stop(ch)
		signals = ch
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			r.logger.Info("Reload requested")
			report, err := r.target.Reload(ctx)
			if err != nil {
				r.logger.Error("Reload failed: %v", err)
			} else if !report.OK() {
				r.logger.Warn("Reload finished with %d failed subsystems", len(report.Failures))
			}
			if r.onReload != nil {
				r.onReload(report, err)
			}
		}
	}
}
