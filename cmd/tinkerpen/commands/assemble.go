package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/livetemplate/tinkerpen"
)

func newAssembleCmd() *cobra.Command {
	var (
		sources sourceFlags
		output  string
		bridge  string
		session string
	)

	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Print the document a pen runs",
		Long: `Assemble the guest document from a pen's buffers, console shim included.
Opened on its own the page still runs; console messages simply have no
parent frame to reach.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := sources.load()
			if err != nil {
				return err
			}

			doc := tinkerpen.Assemble(src, tinkerpen.BridgeConfig{Name: bridge, Session: session, Run: 1})
			return writeOutput(cmd, output, func(w io.Writer) error {
				_, err := io.WriteString(w, doc)
				return err
			})
		},
	}
	sources.register(cmd)

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "-", `output file ("-" for stdout)`)
	flags.StringVar(&bridge, "bridge", tinkerpen.DefaultBridgeName, "console message type")
	flags.StringVar(&session, "session", "cli", "pen id embedded in console messages")
	return cmd
}

// writeOutput runs write against stdout for "-" or against the named file.
func writeOutput(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(cmd.OutOrStdout())
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
