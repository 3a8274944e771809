package commands

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/kmsenv/internal/envfile"
	"github.com/systmms/kmsenv/internal/logging"
)

func NewAddCommand(app *App) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "add KEY=VALUE [KEY=VALUE...]",
		Short: "Encrypt values and add them to the secrets file",
		Long: `Encrypt each VALUE with the file's data key and store it as
KEY=secure:<iv>$<ciphertext>. Existing keys are replaced in place, new keys
are appended.`,
		Example: `  kmsenv add DB_PASSWORD=hunter2 API_TOKEN=abc123`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := app.settings("", file)

			st, err := app.store(cmd.Context(), s)
			if err != nil {
				return err
			}
			if err := st.Add(cmd.Context(), s.File, args); err != nil {
				// Rejected entries are echoed back; keep their values out of it
				var fe *envfile.FormatError
				if errors.As(err, &fe) && fe.Line == 0 {
					fe.Content = logging.Redact(fe.Content, entryValues(args))
				}
				return err
			}

			app.Config.Logger.Info("Added %d value(s) to %s", len(args), s.File)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Secrets file (default .env)")

	return cmd
}

func entryValues(entries []string) []string {
	values := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, v, ok := strings.Cut(e, "="); ok {
			values = append(values, strings.TrimSpace(v))
		}
	}
	return values
}
