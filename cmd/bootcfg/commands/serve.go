package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/bootcfg/internal/bootstrap"
	"github.com/systmms/bootcfg/internal/config"
	"github.com/systmms/bootcfg/internal/logging"
	"github.com/systmms/bootcfg/internal/metrics"
	"github.com/systmms/bootcfg/pkg/backend"
)

func NewServeCommand(cfg *config.Config) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Resolve at startup and expose the result over HTTP",
		Long: `Resolve every subsystem, then serve:

  /metrics   Prometheus metrics
  /health    liveness
  /configs   the current configurations as JSON, secrets redacted

SIGHUP reloads the environment sources and resolves everything again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := loadApp(ctx, cfg)
			if err != nil {
				return err
			}

			state := &servedState{logger: cfg.Logger}
			report, err := app.ResolveAll(ctx)
			if err != nil {
				return err
			}
			state.set(report)

			serverCfg := metrics.DefaultServerConfig()
			if app.Definition.Serve.Addr != "" {
				serverCfg.Addr = app.Definition.Serve.Addr
			}
			if cmd.Flags().Changed("addr") {
				serverCfg.Addr = addr
			}

			server := metrics.NewServer(serverCfg, app.Metrics, cfg.Logger)
			server.Handle("/configs", state)
			if err := server.Start(); err != nil {
				return err
			}
			cfg.Logger.Info("Serving on %s", server.Addr())

			reloader := bootstrap.NewReloader(app, cfg.Logger, bootstrap.OnReload(func(r *bootstrap.Report, err error) {
				if err == nil {
					state.set(r)
				}
			}))
			go reloader.Run(ctx)

			<-ctx.Done()
			cfg.Logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":9090", "Listen address")

	return cmd
}

// servedState holds the latest report and renders it for /configs.
type servedState struct {
	mu     sync.RWMutex
	report *bootstrap.Report
	logger *logging.Logger
}

func (s *servedState) set(r *bootstrap.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = r
}

type servedDocument struct {
	Configs     map[string]configView                 `json:"configs"`
	Failures    map[string]*backend.ResolutionFailure `json:"failures,omitempty"`
	Substituted []string                              `json:"substituted,omitempty"`
}

func (s *servedState) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	report := s.report
	s.mu.RUnlock()

	doc := servedDocument{Configs: map[string]configView{}}
	if report != nil {
		for name, cfg := range report.Configs {
			view, err := newConfigView(cfg, "")
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			doc.Configs[name] = view
		}
		doc.Failures = report.Failures
		doc.Substituted = report.Substituted
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil && s.logger != nil {
		s.logger.Error("Failed to write /configs: %v", err)
	}
}
