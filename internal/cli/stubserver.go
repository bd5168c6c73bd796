package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/punchsync/internal/attendanceserver"
	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/models"
)

// StubServerOptions holds flags for the stub-server command.
type StubServerOptions struct {
	*RootOptions
	Addr     string
	Secret   string
	TimeZone string
	TokenTTL time.Duration
	Users    []string
	Origins  []string
}

// NewStubServerCommand creates the stub-server command.
func NewStubServerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StubServerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stub-server",
		Short: "Run an in-memory attendance service for local development",
		Long: `Serve the check-in, check-out and login endpoints from memory with the
same day rules as the real service.

Example:
  punchsync stub-server --addr :8080 --user ayu:secret:emp-7:Ayu`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStubServer(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "token signing secret")
	cmd.Flags().StringVar(&opts.TimeZone, "time-zone", "Local", "zone calendar days are computed in")
	cmd.Flags().DurationVar(&opts.TokenTTL, "token-ttl", 12*time.Hour, "lifetime of issued tokens")
	cmd.Flags().StringArrayVar(&opts.Users, "user", nil, "account as username:password:employee_id[:name] (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Origins, "cors-origin", nil, "allowed browser origins")

	return cmd
}

// parseUser splits username:password:employee_id[:name].
func parseUser(entry string) (string, string, models.Profile, error) {
	parts := strings.SplitN(entry, ":", 4)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", models.Profile{}, fmt.Errorf("invalid user %q: want username:password:employee_id[:name]", entry)
	}
	profile := models.Profile{EmployeeID: parts[2], Name: parts[0]}
	if len(parts) == 4 && parts[3] != "" {
		profile.Name = parts[3]
	}
	return parts[0], parts[1], profile, nil
}

func newStubServer(opts *StubServerOptions) (*attendanceserver.Server, error) {
	loc := time.Local
	if opts.TimeZone != "" && opts.TimeZone != "Local" {
		var err error
		if loc, err = time.LoadLocation(opts.TimeZone); err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %w", opts.TimeZone, err)
		}
	}

	srv := attendanceserver.New(attendanceserver.Options{
		Secret:         []byte(opts.Secret),
		TokenTTL:       opts.TokenTTL,
		Location:       loc,
		AllowedOrigins: opts.Origins,
	})
	for _, entry := range opts.Users {
		username, password, profile, err := parseUser(entry)
		if err != nil {
			return nil, err
		}
		if err := srv.AddUser(username, password, profile); err != nil {
			return nil, fmt.Errorf("failed to add user %s: %w", username, err)
		}
	}
	return srv, nil
}

func runStubServer(opts *StubServerOptions, cmd *cobra.Command) error {
	logLevel := logging.LevelInfo
	if opts.Verbose {
		logLevel = logging.LevelDebug
	}
	logging.Init(cmd.ErrOrStderr(), logLevel)

	stub, err := newStubServer(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid stub-server flags", err)
	}

	server := &http.Server{
		Addr:              opts.Addr,
		Handler:           stub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Stub attendance service listening", map[string]interface{}{
			"addr":  opts.Addr,
			"users": len(opts.Users),
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "stub server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "stub server shutdown failed", err)
	}
	logging.Info("Stub attendance service stopped", nil)
	return nil
}
