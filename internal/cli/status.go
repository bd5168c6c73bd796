package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/punchsync/internal/models"
)

type statusView struct {
	Day              models.DayStatus `json:"day"`
	Pending          int              `json:"pending"`
	SignedIn         bool             `json:"signed_in"`
	EmployeeID       string           `json:"employee_id,omitempty"`
	SessionExpiresAt *time.Time       `json:"session_expires_at,omitempty"`
}

func clock(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("15:04:05")
}

func (v statusView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "date:      %s\n", v.Day.Date)
	fmt.Fprintf(&b, "check-in:  %s\n", clock(v.Day.CheckInTime))
	fmt.Fprintf(&b, "check-out: %s\n", clock(v.Day.CheckOutTime))
	fmt.Fprintf(&b, "pending:   %d\n", v.Pending)
	if v.SignedIn {
		fmt.Fprintf(&b, "session:   %s until %s", v.EmployeeID, v.SessionExpiresAt.Format(time.RFC3339))
	} else {
		b.WriteString("session:   signed out")
	}
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show today's punches and the queue size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	f := formatter(opts, cmd)
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := a.Engine.TodayStatus()
	if err != nil {
		return failWith(f, err, nil)
	}
	pending, err := a.Engine.PendingCount()
	if err != nil {
		return failWith(f, err, nil)
	}

	view := statusView{Day: day, Pending: pending}
	if s := a.Credentials.Session(); s.LoggedIn() {
		view.SignedIn = true
		if s.Profile != nil {
			view.EmployeeID = s.Profile.EmployeeID
		}
		exp := time.UnixMilli(s.ExpiresAtMs)
		view.SessionExpiresAt = &exp
	}
	return f.Success(view)
}
