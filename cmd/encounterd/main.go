// Command encounterd runs the encounter generation gateway and the session engine.
package main

import (
	"fmt"
	"os"

	"github.com/questforge/encounterd/cmd/encounterd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
