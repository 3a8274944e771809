package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/kmsenv/internal/envfile"
	"github.com/systmms/kmsenv/internal/store"
)

func NewDecryptCommand(app *App) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Print shell exports for encrypted environment variables",
		Long: `Read KMS_DATA_KEY and secure: values from the process environment
and print one export line per decrypted value. Evaluate the output in the
shell that starts your application:

  eval "$(kmsenv decrypt)"

Nothing is printed when KMS_DATA_KEY is not set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var env store.Snapshot
			if fromFile != "" {
				content, err := os.ReadFile(fromFile)
				if err != nil {
					return &store.IOError{Op: "read", Path: fromFile, Err: err}
				}
				pairs, err := envfile.Parse(string(content))
				if err != nil {
					return fmt.Errorf("%s: %w", fromFile, err)
				}
				env = store.Snapshot(pairs)
			} else {
				env = store.SnapshotFromEnviron(app.environ())
			}

			st, err := app.store(cmd.Context(), app.settings("", ""))
			if err != nil {
				return err
			}
			out, err := st.Decrypt(cmd.Context(), env)
			if err != nil {
				return err
			}

			if out != "" {
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromFile, "from-file", "", "Read KEY=VALUE lines from a file instead of the environment")

	return cmd
}
