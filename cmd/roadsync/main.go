// Command roadsync plans and applies lane-override sessions against a stored
// road network and manages snapshot archives of that network.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "roadsync:", err)
		os.Exit(1)
	}
}
