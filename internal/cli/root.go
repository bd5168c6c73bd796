// Package cli implements the punchsync command line.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/punchsync/internal/app"
	"github.com/kimhsiao/punchsync/internal/config"
	apperrors "github.com/kimhsiao/punchsync/internal/errors"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	Verbose    bool

	// AppOptions are passed to app.New (for testing).
	AppOptions []app.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand(appOpts ...app.Option) *cobra.Command {
	opts := &RootOptions{AppOptions: appOpts}

	cmd := &cobra.Command{
		Use:   "punchsync",
		Short: "Offline-first attendance punches",
		Long: `punchsync records attendance punches, keeps them on the device while the
attendance service cannot be reached, and delivers them once it can.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "punchsync.yaml", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewPunchCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewDaemonCommand(opts))
	cmd.AddCommand(NewStubServerCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// openApp loads the configuration and opens the local stores.
func openApp(opts *RootOptions) (*app.App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	a, err := app.New(cfg, opts.AppOptions...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start", err)
	}
	return a, nil
}

// failWith reports an application error and maps it to ExitFailure.
func failWith(f *OutputFormatter, err error, details interface{}) error {
	code := apperrors.CodeOf(err)
	message := apperrors.UserMessage(code)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	return f.Fail(ExitFailure, string(code), message, details)
}
