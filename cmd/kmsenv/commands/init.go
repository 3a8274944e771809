package commands

import (
	"github.com/spf13/cobra"

	kerrors "github.com/systmms/kmsenv/internal/errors"
)

func NewInitCommand(app *App) *cobra.Command {
	var keyID, file string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a data key and write it to the secrets file",
		Long: `Ask KMS for a new AES-256 data key under --key-id and store its
protected form as KMS_DATA_KEY at the top of the secrets file.

Existing entries are kept. Values encrypted under a previous data key are
not re-encrypted and will no longer decrypt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := app.settings(keyID, file)
			if s.KeyID == "" {
				return kerrors.ConfigError{
					Field:      "key_id",
					Message:    "no KMS key given",
					Suggestion: "Pass --key-id, set KMSENV_KEY_ID, or add key_id to kmsenv.yaml",
				}
			}

			st, err := app.store(cmd.Context(), s)
			if err != nil {
				return err
			}
			res, err := st.Initialize(cmd.Context(), s.KeyID, s.File)
			if err != nil {
				return err
			}

			app.Config.Logger.Info("Initialized %s with a data key from %s", s.File, res.KeyID)
			if res.Region != "" {
				app.Config.Logger.Info("Region: %s", res.Region)
			}
			if res.Preserved > 0 {
				app.Config.Logger.Debug("Kept %d existing entries", res.Preserved)
			}
			if res.Stale > 0 {
				app.Config.Logger.Warn("%d encrypted value(s) belong to the previous data key and must be re-added", res.Stale)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&keyID, "key-id", "", "KMS key id, ARN or alias (e.g. alias/ecs)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Secrets file (default .env)")

	return cmd
}
