package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/livetemplate/tinkerpen"
)

func newExportCmd() *cobra.Command {
	var (
		sources sourceFlags
		output  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a pen archive",
		Long: `Write the pen's buffers as a zip holding index.html, style.css and
script.js. The archive can be read back with --archive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := sources.load()
			if err != nil {
				return err
			}
			if output == "-" {
				if f, ok := cmd.OutOrStdout().(*os.File); ok && isTerminal(f) {
					return fmt.Errorf("refusing to write a zip to a terminal; use -o")
				}
			}
			return writeOutput(cmd, output, func(w io.Writer) error {
				return tinkerpen.WriteArchive(w, src)
			})
		},
	}
	sources.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "pen.zip", `output file ("-" for stdout)`)
	return cmd
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
