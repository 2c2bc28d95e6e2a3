package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/bootcfg/internal/config"
	"github.com/systmms/bootcfg/pkg/backend"
)

func NewProvidersCommand(cfg *config.Config) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List registered providers",
		Long: `Display the provider table: every subsystem with its candidates in
priority order, the capability each one needs and its documented default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			reg := app.Registry
			out := cmd.OutOrStdout()

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "SUBSYSTEM\tPROVIDER\tPRIORITY\tCAPABILITY\tENABLED BY\tDEFAULT\n")
			_, _ = fmt.Fprintf(w, "---------\t--------\t--------\t----------\t----------\t-------\n")
			for _, subsystem := range reg.Subsystems() {
				spec, _ := reg.Subsystem(subsystem)
				for _, def := range reg.CandidatesFor(subsystem) {
					isDefault := ""
					if def.Name == spec.DefaultProvider {
						isDefault = "yes"
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
						subsystem, def.Name, def.Priority, dash(def.Capability), dash(def.EnabledBy), isDefault)
				}
			}
			_ = w.Flush()

			if !verbose {
				return nil
			}

			for _, subsystem := range reg.Subsystems() {
				spec, _ := reg.Subsystem(subsystem)
				_, _ = fmt.Fprintf(out, "\n%s", subsystem)
				if spec.PreferenceEnv != "" {
					_, _ = fmt.Fprintf(out, " (preference: %s)", spec.PreferenceEnv)
				}
				_, _ = fmt.Fprintln(out)
				if len(spec.Purposes) > 0 {
					_, _ = fmt.Fprintf(out, "  purposes: %s\n", strings.Join(purposeNames(spec.Purposes), ", "))
				}
				for _, def := range reg.CandidatesFor(subsystem) {
					_, _ = fmt.Fprintf(out, "  %s:\n", def.Name)
					for _, f := range def.Fields {
						line := fmt.Sprintf("    • %s (%s) from %s", f.Key, f.Kind, f.EnvName())
						if f.Required {
							line += ", required"
						}
						if f.HasDefault() && f.Kind != backend.KindSecret {
							line += fmt.Sprintf(", default %q", *f.Default)
						}
						_, _ = fmt.Fprintln(out, line)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show the fields of every provider")

	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func purposeNames(purposes []backend.PurposeSpec) []string {
	names := make([]string, 0, len(purposes))
	for _, p := range purposes {
		names = append(names, p.Name)
	}
	return names
}
