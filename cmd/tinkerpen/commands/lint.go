package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livetemplate/tinkerpen"
)

// lintTarget is one script to check: a .js file or a lesson pen.
type lintTarget struct {
	name string
	js   string
}

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <file>...",
		Short: "Check JavaScript syntax",
		Long: `Check the syntax of .js files and of the JavaScript in every pen of
.md lessons. Problems are printed as file:line:column: message.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var targets []lintTarget
			for _, path := range args {
				t, err := lintTargets(path)
				if err != nil {
					return err
				}
				targets = append(targets, t...)
			}

			problems := 0
			out := cmd.OutOrStdout()
			for _, t := range targets {
				err := tinkerpen.Lint(t.js)
				var syntax *tinkerpen.SyntaxError
				if !errors.As(err, &syntax) {
					continue
				}
				problems++
				fmt.Fprintf(out, "%s:%d:%d: %s\n", t.name, syntax.Line, syntax.Column, syntax.Message)
			}

			if problems > 0 {
				return fmt.Errorf("%d script(s) with syntax errors", problems)
			}
			fmt.Fprintf(out, "✓ %d script(s) ok\n", len(targets))
			return nil
		},
	}
}

func lintTargets(path string) ([]lintTarget, error) {
	if strings.EqualFold(filepath.Ext(path), ".md") {
		lesson, err := parseLessonFile(path)
		if err != nil {
			return nil, err
		}
		targets := make([]lintTarget, 0, len(lesson.Pens))
		for _, pen := range lesson.Pens {
			targets = append(targets, lintTarget{
				name: path + "#" + pen.ID,
				js:   pen.Sources.JS,
			})
		}
		return targets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return []lintTarget{{name: path, js: string(data)}}, nil
}
