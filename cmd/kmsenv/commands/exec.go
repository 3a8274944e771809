package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/kmsenv/internal/envelope"
	"github.com/systmms/kmsenv/internal/envfile"
	"github.com/systmms/kmsenv/internal/execenv"
	"github.com/systmms/kmsenv/internal/store"
)

func NewExecCommand(app *App) *cobra.Command {
	var (
		printVars  bool
		workingDir string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec -- <command> [args...]",
		Short: "Run a command with encrypted environment variables decrypted",
		Long: `Decrypt every secure: variable of the current environment using
KMS_DATA_KEY and run the command with the result. Decrypted values only
exist in the child's environment.

The command must be separated from kmsenv arguments with '--'.

Examples:
  kmsenv exec -- node server.js
  kmsenv exec --print -- ./start.sh`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := execenv.ValidateCommand(args); err != nil {
				return err
			}

			env := store.SnapshotFromEnviron(app.environ())
			var decrypted []string
			for _, p := range env {
				if envelope.IsEncrypted(p.Value) {
					decrypted = append(decrypted, p.Key)
				}
			}

			st, err := app.store(cmd.Context(), app.settings("", ""))
			if err != nil {
				return err
			}
			environment, err := st.Environ(cmd.Context(), env)
			if err != nil {
				return err
			}
			if _, ok := env.Lookup(envfile.DataKeyName); !ok {
				decrypted = nil
			}

			return execenv.New(app.Config.Logger).Exec(cmd.Context(), execenv.ExecOptions{
				Command:     args,
				Environment: environment,
				Decrypted:   decrypted,
				PrintVars:   printVars,
				WorkingDir:  workingDir,
				Timeout:     timeout,
				Stdin:       cmd.InOrStdin(),
				Stdout:      cmd.OutOrStdout(),
				Stderr:      cmd.ErrOrStderr(),
			})
		},
	}

	cmd.Flags().BoolVar(&printVars, "print", false, "Print decrypted variable names (values masked)")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "Working directory for the command")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Kill the command after this long (0 for no timeout)")

	return cmd
}
