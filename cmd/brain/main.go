// Command brain answers questions about battery assets with evidence attached.
package main

import (
	"fmt"
	"os"

	"github.com/kubilitics/kubilitics-brain/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
