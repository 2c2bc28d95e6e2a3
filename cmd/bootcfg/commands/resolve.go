package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/bootcfg/internal/config"
	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/pkg/backend"
)

func NewResolveCommand(cfg *config.Config) *cobra.Command {
	var (
		prefer  string
		purpose string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "resolve <subsystem>",
		Short: "Resolve the backend for one subsystem",
		Long: `Select the provider serving a subsystem and print its configuration.

Without --prefer the preference comes from the subsystem's preference
variable (for example CACHE_ENGINE), defaulting to auto. Secret fields are
always printed redacted.`,
		Example: `  bootcfg resolve cache
  bootcfg resolve cache --prefer redis --purpose _cake_core_
  bootcfg resolve storage --format json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: subsystemCompleter(cfg),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			subsystem := args[0]

			app, err := loadApp(ctx, cfg)
			if err != nil {
				return err
			}

			env := app.Environment()
			if prefer == "" {
				prefer = app.Engine.Preference(subsystem, env)
			}

			resolved, err := app.Engine.Resolve(ctx, backend.ResolutionRequest{
				Subsystem:   subsystem,
				Preference:  prefer,
				Environment: env,
			})
			if err != nil {
				var failure *backend.ResolutionFailure
				if errors.As(err, &failure) {
					if werr := writeDocument(cmd.OutOrStdout(), format, failure); werr != nil {
						return werr
					}
					return apperrors.UserError{
						Message:    fmt.Sprintf("No eligible provider for %s", subsystem),
						Suggestion: "Run 'bootcfg doctor' to see why each candidate was rejected",
						Err:        err,
					}
				}
				return err
			}

			view, err := newConfigView(resolved, purpose)
			if err != nil {
				return apperrors.UserError{
					Message:    err.Error(),
					Suggestion: fmt.Sprintf("Available purposes: %v", resolved.PurposeNames()),
				}
			}
			return writeDocument(cmd.OutOrStdout(), format, view)
		},
	}

	cmd.Flags().StringVar(&prefer, "prefer", "", "Provider name or 'auto' (overrides the preference variable)")
	cmd.Flags().StringVar(&purpose, "purpose", "", "Derive the configuration for a purpose")
	cmd.Flags().StringVarP(&format, "format", "o", "yaml", "Output format: yaml or json")

	return cmd
}
