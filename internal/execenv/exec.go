package execenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	kerrors "github.com/systmms/kmsenv/internal/errors"
	"github.com/systmms/kmsenv/internal/logging"
)

// Executor runs a child process with a decrypted environment
type Executor struct {
	logger *logging.Logger
}

// New creates a new executor
func New(logger *logging.Logger) *Executor {
	return &Executor{
		logger: logger,
	}
}

// ExecOptions configures command execution
type ExecOptions struct {
	Command     []string      // Command and arguments to run
	Environment []string      // Complete KEY=VALUE environment of the child
	Decrypted   []string      // Names of variables that were decrypted
	PrintVars   bool          // Print decrypted variable names with masked values
	WorkingDir  string        // Working directory for the command
	Timeout     time.Duration // Zero for no timeout

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ExitError carries a non-zero exit status of the child process.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// ExitCode lets the CLI exit with the child's status.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// Exec runs a command with the provided environment. A non-zero exit of the
// child is returned as *ExitError.
func (e *Executor) Exec(ctx context.Context, options ExecOptions) error {
	if err := ValidateCommand(options.Command); err != nil {
		return err
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	if options.PrintVars {
		e.printEnvironment(errWriter(options.Stderr), options.Environment, options.Decrypted)
	}

	cmdName := options.Command[0]
	cmd := exec.CommandContext(ctx, cmdName, options.Command[1:]...)
	cmd.Env = options.Environment
	cmd.Stdin = options.Stdin
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	cmd.Stdout = options.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = errWriter(options.Stderr)
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}

	e.logger.Debug("Executing command: %s", strings.Join(options.Command, " "))
	e.logger.Debug("Environment variables decrypted: %d", len(options.Decrypted))

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return &ExitError{Command: cmdName, Code: exitErr.ExitCode()}
	}
	return kerrors.UserError{
		Message:    fmt.Sprintf("Failed to run %s", cmdName),
		Details:    err.Error(),
		Suggestion: "Check the command output above for details",
		Err:        err,
	}
}

func errWriter(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}

// printEnvironment lists the decrypted variables with masked values
func (e *Executor) printEnvironment(w io.Writer, environment, decrypted []string) {
	if len(decrypted) == 0 {
		fmt.Fprintln(w, "No environment variables decrypted")
		return
	}

	values := make(map[string]string, len(environment))
	for _, kv := range environment {
		if k, v, ok := strings.Cut(kv, "="); ok {
			values[k] = v
		}
	}

	fmt.Fprintf(w, "Decrypted %d environment variables:\n", len(decrypted))
	for _, key := range decrypted {
		fmt.Fprintf(w, "  %s=%s\n", key, maskValue(values[key]))
	}
	fmt.Fprintln(w)
}

// maskValue masks a secret value for display
func maskValue(value string) string {
	if len(value) == 0 {
		return "(empty)"
	}

	if len(value) <= 3 {
		return strings.Repeat("*", len(value))
	}

	// Show first and last characters for short values
	if len(value) <= 8 {
		return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
	}

	return value[:3] + strings.Repeat("*", 8) + value[len(value)-2:]
}

// ValidateCommand checks that a command was given and is on PATH
func ValidateCommand(command []string) error {
	if len(command) == 0 {
		return kerrors.UserError{
			Message:    "No command specified",
			Suggestion: "Provide a command after -- (e.g., kmsenv exec -- node server.js)",
		}
	}

	cmdName := command[0]
	if _, err := exec.LookPath(cmdName); err != nil {
		return kerrors.UserError{
			Message:    fmt.Sprintf("Command '%s' not found", cmdName),
			Details:    err.Error(),
			Suggestion: "Check that the command is installed and in your PATH",
			Err:        err,
		}
	}
	return nil
}
