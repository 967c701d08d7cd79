// Command analyst runs dual-model chart analysis from the command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"

	"chart-analyst/internal/cli"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/logging"
	"chart-analyst/internal/security"
)

func main() {
	root := cli.NewRootCmd(nil, logging.NewLogger())
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint(apperrors.Kind(err)+":"), security.Redact(err.Error()))
		os.Exit(1)
	}
}
