// Package commands implements the tinkerpen CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/logging"
)

// NewRootCmd builds the tinkerpen command tree.
func NewRootCmd(version string) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "tinkerpen",
		Short: "Live HTML/CSS/JS pens for tutorials",
		Long: `tinkerpen hosts editable HTML/CSS/JS pens next to lesson prose and
runs them in a sandbox, capturing console output from the guest page.

Examples:
  tinkerpen serve ./lessons            # Serve a lesson directory
  tinkerpen serve --sandbox headless   # Run pens server-side
  tinkerpen run --js app.js            # Run a snippet and print its console
  tinkerpen run --lesson intro.md --pen counter --click button
  tinkerpen lint app.js intro.md       # Check JS syntax
  tinkerpen export -o pen.zip --html index.html --js app.js`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(&logLevel),
		newRunCmd(&logLevel),
		newAssembleCmd(),
		newLintCmd(),
		newExportCmd(),
		newVersionCmd(version),
	)
	return cmd
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tinkerpen version %s\n", version)
		},
	}
}

// cliLogger is the logger of the one-shot commands: quiet unless asked.
func cliLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = "error"
	}
	return logging.New(logging.Config{Level: level, Development: true})
}
