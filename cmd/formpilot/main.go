// File: cmd/formpilot/main.go
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/ezmig/formpilot/cmd"
	"github.com/ezmig/formpilot/internal/observability"
)

const panicLogFile = "panic.log"

func main() {
	defer func() {
		if r := recover(); r != nil {
			// Best effort: capture the stack before dying so a crash in the
			// field is diagnosable.
			report := fmt.Sprintf("panic: %v\n\n%s\n", r, debug.Stack())
			os.WriteFile(panicLogFile, []byte(report), 0o644)
			fmt.Fprintln(os.Stderr, report)
			observability.Sync()
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
