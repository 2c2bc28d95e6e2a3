package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/systmms/bootcfg/internal/config"
	"github.com/systmms/bootcfg/internal/registry"
)

var completionShells = map[string]func(root *cobra.Command, w io.Writer) error{
	"bash": func(root *cobra.Command, w io.Writer) error { return root.GenBashCompletionV2(w, true) },
	"zsh":  func(root *cobra.Command, w io.Writer) error { return root.GenZshCompletion(w) },
	"fish": func(root *cobra.Command, w io.Writer) error { return root.GenFishCompletion(w, true) },
	"powershell": func(root *cobra.Command, w io.Writer) error {
		return root.GenPowerShellCompletionWithDesc(w)
	},
}

// NewCompletionCommand creates the completion command for generating shell completions.
func NewCompletionCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate a shell completion script for bootcfg. Subsystem names are
completed from the provider tables, including the one named in bootcfg.yaml.

  $ source <(bootcfg completion bash)
  $ bootcfg completion zsh > "${fpath[1]}/_bootcfg"
  $ bootcfg completion fish > ~/.config/fish/completions/bootcfg.fish
  PS> bootcfg completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, ok := completionShells[args[0]]
			if !ok {
				return fmt.Errorf("unsupported shell %q", args[0])
			}
			return gen(cmd.Root(), cmd.OutOrStdout())
		},
	}

	return cmd
}

// subsystemCompleter completes the first argument with subsystem names from
// the builtin table plus the configured extra table, when it loads.
func subsystemCompleter(cfg *config.Config) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		reg, err := registry.Builtin()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		if cfg.Load() == nil && cfg.Definition.Providers != "" {
			// A broken extra table still leaves the builtin names.
			_ = reg.LoadFile(cfg.Definition.Providers)
		}
		return reg.Subsystems(), cobra.ShellCompDirectiveNoFileComp
	}
}
