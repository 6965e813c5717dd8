// detectenginectl is the operator CLI for a running detect-engine process:
// it talks to the admin HTTP endpoint for status and reload triggering, and
// resolves configuration locally for pre-flight validation.
package main

import (
	"os"

	"github.com/cheewill/detectengine/cmd/detectenginectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
