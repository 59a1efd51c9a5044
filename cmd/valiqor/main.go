// valiqor records, inspects and maintains local redacted trace files.
package main

import (
	"os"

	"github.com/harun/valiqor/internal/cli"
)

func main() {
	// cobra has already printed the error
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
