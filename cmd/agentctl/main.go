// Command agentctl is the operator-facing CLI for agentd: start a
// session, stop it, or check its status over the control plane's HTTP
// surface.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
