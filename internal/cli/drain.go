package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	syncpkg "github.com/kimhsiao/punchsync/internal/sync"
)

type drainView struct {
	*syncpkg.DrainResult
}

func (v drainView) String() string {
	s := fmt.Sprintf("synced %d, errors %d, skipped %d, purged %d (%s)",
		v.Synced, v.Errors, v.Skipped, v.Purged, v.Duration)
	if v.Interrupted {
		s += ", interrupted"
	}
	return s
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Deliver queued punches now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(rootOpts, cmd)
		},
	}
}

func runDrain(opts *RootOptions, cmd *cobra.Command) error {
	f := formatter(opts, cmd)
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Scheduler.DrainNow(cmd.Context())
	if err != nil {
		return failWith(f, err, result)
	}
	return f.Success(drainView{result})
}
