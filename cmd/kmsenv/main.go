package main

import (
	"context"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/systmms/kmsenv/cmd/kmsenv/commands"
	"github.com/systmms/kmsenv/internal/config"
	kerrors "github.com/systmms/kmsenv/internal/errors"
	"github.com/systmms/kmsenv/internal/logging"
	"github.com/systmms/kmsenv/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Wipe enclaves and locked buffers on SIGINT/SIGTERM
	memguard.CatchInterrupt()

	code := run()
	memguard.Purge()
	os.Exit(code)
}

func run() int {
	// Global flags
	var (
		configFile  string
		noColor     bool
		debug       bool
		metricsFile string
	)

	cfg := &config.Config{Logger: logging.New(false, false)}
	app := &commands.App{
		Config:  cfg,
		Metrics: metrics.New(),
	}

	rootCmd := &cobra.Command{
		Use:   "kmsenv",
		Short: "Envelope-encrypt .env secrets with AWS KMS",
		Long: `kmsenv keeps secrets in a .env file encrypted under a data key that
only AWS KMS can unwrap, and decrypts them into the environment at startup.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logger with parsed flags
			cfg.Logger = logging.New(debug, noColor)
			cfg.Path = configFile
			return cfg.Load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file path (default kmsenv.yaml if present)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	flags.StringVarP(&app.Flags.Region, "region", "r", "", "AWS region")
	flags.StringVar(&app.Flags.Profile, "profile", "", "AWS shared config profile")
	flags.StringVarP(&app.Flags.AccessKeyID, "access-key-id", "k", "", "AWS access key id")
	flags.StringVarP(&app.Flags.SecretAccessKey, "secret-access-key", "s", "", "AWS secret access key")
	flags.StringVar(&app.Flags.Endpoint, "endpoint", "", "KMS/STS endpoint override, e.g. http://localhost:4566")
	rootCmd.MarkFlagsRequiredTogether("access-key-id", "secret-access-key")

	rootCmd.AddCommand(
		commands.NewInitCommand(app),
		commands.NewAddCommand(app),
		commands.NewShowCommand(app),
		commands.NewDecryptCommand(app),
		commands.NewExecCommand(app),
		commands.NewDoctorCommand(app),
		commands.NewCompletionCommand(),
	)

	err := rootCmd.ExecuteContext(context.Background())

	if metricsFile != "" {
		if werr := app.Metrics.WriteTextfile(metricsFile); werr != nil {
			cfg.Logger.Warn("Failed to write metrics to %s: %v", metricsFile, werr)
		}
	}

	if err != nil {
		cfg.Logger.Error("%v", kerrors.Explain(err))
		return kerrors.ExitCode(err)
	}
	return kerrors.ExitOK
}
