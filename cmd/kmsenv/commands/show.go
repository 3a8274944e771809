package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewShowCommand(app *App) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the secrets file with values decrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := app.settings("", file)

			st, err := app.store(cmd.Context(), s)
			if err != nil {
				return err
			}
			out, err := st.Show(cmd.Context(), s.File)
			if err != nil {
				return err
			}

			if out != "" {
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Secrets file (default .env)")

	return cmd
}
