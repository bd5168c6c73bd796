package cli

import (
	"github.com/spf13/cobra"
)

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the number of punches awaiting delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(rootOpts, cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Engine.PendingCount()
			if err != nil {
				return failWith(f, err, nil)
			}
			return f.Success(n)
		},
	}
}
