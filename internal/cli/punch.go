package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/punchsync/internal/models"
	syncpkg "github.com/kimhsiao/punchsync/internal/sync"
)

// PunchOptions holds flags for the punch command.
type PunchOptions struct {
	*RootOptions
	ScanType  string
	Latitude  float64
	Longitude float64
}

type punchView struct {
	syncpkg.PunchResult
}

func (v punchView) String() string {
	var b strings.Builder
	switch v.Outcome {
	case syncpkg.OutcomeSuccess:
		fmt.Fprintf(&b, "%s: %s", v.Kind, v.Message)
		if v.Queued {
			b.WriteString(" (queued)")
		}
	case syncpkg.OutcomeBlocked:
		fmt.Fprintf(&b, "blocked: %s", v.Message)
	default:
		fmt.Fprintf(&b, "failed [%s]: %s", v.Code, v.Message)
	}
	return b.String()
}

// NewPunchCommand creates the punch command.
func NewPunchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PunchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "punch",
		Short: "Record a check-in or check-out",
		Long: `Record an attendance punch for the signed-in employee.

The side (check-in or check-out) follows from today's punches. When the
attendance service cannot be reached the punch is saved on the device and
delivered by a later drain.

Example:
  punchsync punch --scan-type face --lat -6.2 --lon 106.8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPunch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ScanType, "scan-type", string(models.ScanTypeFace), "verification method (face|fingerprint|manual)")
	cmd.Flags().Float64Var(&opts.Latitude, "lat", 0, "latitude of the capture")
	cmd.Flags().Float64Var(&opts.Longitude, "lon", 0, "longitude of the capture")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")

	return cmd
}

func runPunch(opts *PunchOptions, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)

	scanType := models.ScanType(opts.ScanType)
	if !scanType.Valid() {
		return f.Fail(ExitCommandError, "INVALID_ARGUMENT", fmt.Sprintf("unknown scan type %q", opts.ScanType), nil)
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.Engine.SubmitPunch(cmd.Context(), scanType, opts.Latitude, opts.Longitude)
	if res.Outcome != syncpkg.OutcomeSuccess {
		return f.Fail(ExitFailure, string(res.Code), punchView{res}.String(), res)
	}
	return f.Success(punchView{res})
}
