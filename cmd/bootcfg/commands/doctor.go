package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/bootcfg/internal/bootstrap"
	"github.com/systmms/bootcfg/internal/config"
	"github.com/systmms/bootcfg/internal/resolve"
)

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check capabilities and explain every subsystem",
		Long: `Run every capability probe and evaluate every candidate provider.

This command checks:
- Configuration file validity
- Environment sources
- Capability probes (redis, memcached, SQL drivers, keyring, ...)
- The decryption key for encrypted secrets
- Which provider each subsystem resolves to, and why the others were rejected

Use --strict to fail when any subsystem has no eligible provider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg.Logger.Info("Checking bootcfg configuration...")
			app, err := loadApp(ctx, cfg)
			if err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Logger.Info("✓ Configuration loaded successfully")

			if app.Probes != nil {
				_, _ = fmt.Fprintln(out, "Capabilities:")
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintf(w, "CAPABILITY\tKIND\tSTATUS\tMESSAGE\n")
				_, _ = fmt.Fprintf(w, "----------\t----\t------\t-------\n")
				for _, name := range app.Probes.Names() {
					status, message := "✓ available", ""
					if err := app.Probes.Check(ctx, name); err != nil {
						status, message = "✗ unavailable", firstLine(err.Error())
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, app.Probes.Kind(name), status, message)
				}
				_ = w.Flush()
				_, _ = fmt.Fprintln(out)
			}

			if err := app.Secrets.Ready(ctx); err != nil {
				_, _ = fmt.Fprintf(out, "Decryption key: ✗ %s\n\n", firstLine(err.Error()))
			} else {
				_, _ = fmt.Fprintf(out, "Decryption key: ✓ available\n\n")
			}

			env := app.Environment()
			verdicts := make(map[string][]resolve.Verdict)
			for _, subsystem := range app.Subsystems() {
				verdicts[subsystem] = app.Engine.Explain(ctx, subsystem, env)
			}
			displayVerdicts(out, app.Subsystems(), verdicts)

			report, err := app.ResolveAll(ctx)
			if err != nil {
				return err
			}
			displayReport(out, report)

			resolved := len(report.Configs) - len(report.Substituted)
			_, _ = fmt.Fprintf(out, "\nSummary: %d/%d subsystems resolved", resolved, len(report.Subsystems()))
			if len(report.Substituted) > 0 {
				_, _ = fmt.Fprintf(out, ", %d on last resort", len(report.Substituted))
			}
			_, _ = fmt.Fprintln(out)

			if strict && !report.OK() {
				return fmt.Errorf("%d subsystems have no eligible provider", len(report.Failures))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when a subsystem cannot be resolved")

	return cmd
}

func displayVerdicts(out io.Writer, subsystems []string, verdicts map[string][]resolve.Verdict) {
	_, _ = fmt.Fprintln(out, "Candidates:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "SUBSYSTEM\tPROVIDER\tPRIORITY\tSTATUS\tREASON\n")
	_, _ = fmt.Fprintf(w, "---------\t--------\t--------\t------\t------\n")
	for _, subsystem := range subsystems {
		for _, v := range verdicts[subsystem] {
			status := "✓ eligible"
			if !v.Eligible {
				status = "✗ rejected"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", subsystem, v.Provider, v.Priority, status, firstLine(v.Reason))
		}
	}
	_ = w.Flush()
	_, _ = fmt.Fprintln(out)
}

func displayReport(out io.Writer, report *bootstrap.Report) {
	_, _ = fmt.Fprintln(out, "Selected:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "SUBSYSTEM\tPREFERENCE\tPROVIDER\n")
	_, _ = fmt.Fprintf(w, "---------\t----------\t--------\n")
	for _, subsystem := range report.Subsystems() {
		if cfg, ok := report.Configs[subsystem]; ok {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", subsystem, cfg.Preference, cfg.Provider)
			continue
		}
		failure := report.Failures[subsystem]
		_, _ = fmt.Fprintf(w, "%s\t%s\t✗ none\n", subsystem, failure.Preference)
	}
	_ = w.Flush()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
