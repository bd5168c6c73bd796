package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Username string
	Password string
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session on this device",
		Long: `Sign in against the attendance service. The token is stored encrypted
under the data directory. The password may also be given in PUNCHSYNC_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Username, "username", "u", "", "account name (required)")
	cmd.Flags().StringVarP(&opts.Password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func runLogin(opts *LoginOptions, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)
	password := opts.Password
	if password == "" {
		password = os.Getenv("PUNCHSYNC_PASSWORD")
	}
	if password == "" {
		return f.Fail(ExitCommandError, "INVALID_ARGUMENT", "password is required", nil)
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	profile, err := a.Login(cmd.Context(), opts.Username, password)
	if err != nil {
		return failWith(f, err, nil)
	}
	if f.Format == "json" {
		return f.Success(profile)
	}
	return f.Success(fmt.Sprintf("signed in as %s (%s)", profile.Name, profile.EmployeeID))
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session (queued punches are kept)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(rootOpts, cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Logout(); err != nil {
				return failWith(f, err, nil)
			}
			return f.Success("signed out")
		},
	}
}
