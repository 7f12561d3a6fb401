package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fmueller/voxserve/internal/cli"
	"github.com/spf13/cobra"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes the command line and maps errors to exit codes: 2 for
// command line mistakes, 1 for everything else.
func run(args []string, stderr io.Writer) int {
	root := cli.NewRootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return 0
	}

	fmt.Fprintf(stderr, "voxserve: %v\n", err)
	if !isUsageError(err) {
		return exitFailure
	}
	fmt.Fprintf(stderr, "See '%s --help'.\n", helpTarget(root, args))
	return exitUsage
}

var usagePatterns = []string{
	"unknown command",
	"unknown flag",
	"unknown shorthand flag",
	"invalid argument",
	"flag needs an argument",
	"accepts ",
	"requires at least",
	"requires at most",
	"requires between",
	"required flag",
}

func isUsageError(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	for _, pattern := range usagePatterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}

// helpTarget names the command whose help fits the failed invocation. Flags
// given to the bare root belong to the implicit serve command.
func helpTarget(root *cobra.Command, args []string) string {
	found, _, err := root.Find(args)
	if err != nil || found == nil {
		return root.CommandPath()
	}
	if found == root && len(args) > 0 {
		if serve, _, err := root.Find([]string{"serve"}); err == nil && serve != root {
			return serve.CommandPath()
		}
	}
	return found.CommandPath()
}
