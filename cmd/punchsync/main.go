// Command punchsync records attendance punches and delivers them to the
// attendance service, keeping them on the device while it is unreachable.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kimhsiao/punchsync/internal/cli"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	cmd := cli.NewRootCommand()
	cmd.Version = Version

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
