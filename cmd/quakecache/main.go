// Command quakecache keeps a local store populated with earthquake records
// from an FDSN event service, fetching only the UTC days not cached yet.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/quakecache/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
