package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/bootcfg/internal/config"
	apperrors "github.com/systmms/bootcfg/internal/errors"
)

func NewEncryptCommand(cfg *config.Config) *cobra.Command {
	var keepNewline bool

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a secret value read from stdin",
		Long: `Encrypt a value into an enc:v1: envelope that can be stored in an
environment variable of kind secret. The passphrase comes from the key source
configured under 'secrets' (BOOTCFG_KEY by default, looked up in the configured
sources before the process environment).`,
		Example: `  printf 'hunter2' | bootcfg encrypt
  BOOTCFG_KEY=... bootcfg encrypt < password.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}

			data, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			value := string(data)
			if !keepNewline {
				value = strings.TrimRight(value, "\r\n")
			}
			if value == "" {
				return apperrors.UserError{
					Message:    "Nothing to encrypt",
					Suggestion: "Pipe the value on stdin: printf 'value' | bootcfg encrypt",
				}
			}

			layer, err := cfg.Definition.SourceLayer()
			if err != nil {
				return err
			}
			env, err := layer.Load(cmd.Context())
			if err != nil {
				return err
			}
			m := cfg.Definition.Materializer(cfg.Logger, func() map[string]string { return env })
			envelope, err := m.Conceal(cmd.Context(), value)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), envelope)
			return err
		},
	}

	cmd.Flags().BoolVar(&keepNewline, "keep-newline", false, "Do not strip the trailing newline")

	return cmd
}
