package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/punchsync/internal/logging"
	"github.com/kimhsiao/punchsync/internal/statusapi"
	"github.com/kimhsiao/punchsync/internal/telemetry"
)

// DaemonOptions holds flags for the daemon command.
type DaemonOptions struct {
	*RootOptions
	Listen string
}

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DaemonOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Drain the queue periodically until interrupted",
		Long: `Run the background drain scheduler. Queued punches are delivered at the
configured drain interval and once at startup.

With --listen the daemon also serves a local API for kiosk front ends:
  GET  /api/health   GET /api/status   GET /api/metrics
  POST /api/punch    POST /api/drain   GET /ws (event stream)

Example:
  punchsync daemon --listen 127.0.0.1:8090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "address of the local status API (disabled when empty)")

	return cmd
}

func runDaemon(opts *DaemonOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logging.Info("Received signal, shutting down", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	var server *http.Server
	var api *statusapi.Server
	errCh := make(chan error, 1)
	if opts.Listen != "" {
		api = statusapi.New(a.Engine, a.Scheduler, telemetry.Default())
		a.OnTransition(api.Transition)
		a.Scheduler.OnDrain(api.DrainDone)

		server = &http.Server{
			Addr:              opts.Listen,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logging.Info("Status API listening", map[string]interface{}{"addr": opts.Listen})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	a.Scheduler.Start(ctx)
	a.Scheduler.TriggerDrain(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = WrapExitError(ExitCommandError, "status API failed", err)
	}

	if server != nil {
		api.Hub().Close()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Status API shutdown failed", map[string]interface{}{"error": err.Error()})
		}
		stop()
	}
	a.Scheduler.Stop()
	return runErr
}
