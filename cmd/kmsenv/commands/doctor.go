package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"

	"github.com/systmms/kmsenv/internal/config"
	kerrors "github.com/systmms/kmsenv/internal/errors"
)

// CheckResult is one row of the doctor report.
type CheckResult struct {
	Name   string
	Status string // ok, error, skipped
	Detail string
	Err    error
}

func NewDoctorCommand(app *App) *cobra.Command {
	var keyID string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check AWS credentials and KMS key access",
		Long: `Verify that kmsenv can talk to AWS.

This command checks:
- Which AWS identity the credential chain resolves to
- Whether the KMS key exists, is enabled, and in which region`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := app.settings(keyID, "")
			results := make([]CheckResult, 0, 3)

			if app.Config.Path != "" {
				results = append(results, CheckResult{Name: "config", Status: "ok", Detail: app.Config.Path})
			}

			identity := CheckResult{Name: "credentials"}
			client, err := app.sts(ctx, s)
			if err == nil {
				var out *sts.GetCallerIdentityOutput
				out, err = client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
				if err == nil {
					identity.Status = "ok"
					identity.Detail = fmt.Sprintf("%s (account %s)", aws.ToString(out.Arn), aws.ToString(out.Account))
				}
			}
			if err != nil {
				identity.Status = "error"
				identity.Err = kerrors.UserError{
					Message:    "Unable to resolve AWS credentials",
					Details:    err.Error(),
					Suggestion: "Configure AWS credentials: 'aws configure', set AWS_PROFILE, or pass --access-key-id/--secret-access-key",
					Err:        err,
				}
				identity.Detail = err.Error()
			}
			results = append(results, identity)

			if s.KeyID == "" {
				results = append(results, CheckResult{Name: "kms key", Status: "skipped", Detail: "no key id given"})
			} else {
				results = append(results, checkKey(cmd, app, s))
			}

			displayResults(cmd, results)

			for _, r := range results {
				if r.Err != nil {
					return r.Err
				}
			}
			app.Config.Logger.Info("All checks passed")
			return nil
		},
	}

	cmd.Flags().StringVar(&keyID, "key-id", "", "KMS key id, ARN or alias to check")

	return cmd
}

func checkKey(cmd *cobra.Command, app *App, s config.Settings) CheckResult {
	r := CheckResult{Name: "kms key"}
	keyID := s.KeyID

	adapter, err := app.adapter(cmd.Context(), s)
	if err == nil {
		info, derr := adapter.DescribeKey(cmd.Context(), keyID)
		if derr == nil {
			r.Detail = fmt.Sprintf("%s [%s]", info.ARN, info.State)
			if info.Region != "" {
				r.Detail += " in " + info.Region
			}
			if info.Enabled {
				r.Status = "ok"
				return r
			}
			r.Status = "error"
			r.Err = kerrors.UserError{
				Message:    fmt.Sprintf("KMS key %s is not enabled (state %s)", keyID, info.State),
				Suggestion: "Enable the key or choose another with --key-id",
			}
			return r
		}
		err = derr
	}

	r.Status = "error"
	r.Detail = err.Error()
	r.Err = err
	return r
}

func displayResults(cmd *cobra.Command, results []CheckResult) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Status, r.Detail)
	}
	_ = w.Flush()
}
