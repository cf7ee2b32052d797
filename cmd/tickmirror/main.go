// Command tickmirror mirrors a SQLite database into memory and runs the tick
// pipeline against the mirror.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tickmirror/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tickmirror:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
