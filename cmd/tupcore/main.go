// Command tupcore is a thin harness over internal/cmd: the store,
// scanner, graph builder, and reconciler are the product; this binary
// only wires their CLI surface together.
package main

import (
	"os"

	"github.com/tupcore/tupcore/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
