// Command armada orchestrates code-analysis agents against a pull-request
// diff and reports merged findings with deterministic exit codes.
package main

import (
	"os"

	"github.com/dshills/armada/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
