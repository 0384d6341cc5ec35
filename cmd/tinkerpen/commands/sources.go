package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/livetemplate/tinkerpen"
)

var errNoSources = errors.New("no sources: use --html, --css, --js, --lesson or --archive")

// sourceFlags selects the buffers a one-shot command works on. An archive
// or lesson pen is the base; single-file flags replace individual tabs.
type sourceFlags struct {
	html, css, js string
	lesson, pen   string
	archive       string
	normalize     bool
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.html, "html", "", "HTML file")
	flags.StringVar(&f.css, "css", "", "CSS file")
	flags.StringVar(&f.js, "js", "", "JavaScript file")
	flags.StringVar(&f.lesson, "lesson", "", "lesson markdown file to take a pen from")
	flags.StringVar(&f.pen, "pen", "", "pen id within --lesson (default: the first pen)")
	flags.StringVar(&f.archive, "archive", "", "exported pen archive (.zip)")
	flags.BoolVar(&f.normalize, "normalize", false, `expand escaped \n, \t, \" and \\ in the sources`)
}

func (f *sourceFlags) load() (tinkerpen.Sources, error) {
	var src tinkerpen.Sources
	if f.archive == "" && f.lesson == "" && f.html == "" && f.css == "" && f.js == "" {
		return src, errNoSources
	}

	if f.archive != "" {
		data, err := os.ReadFile(f.archive)
		if err != nil {
			return src, fmt.Errorf("failed to read archive: %w", err)
		}
		if src, err = tinkerpen.ReadArchive(data); err != nil {
			return src, fmt.Errorf("%s: %w", f.archive, err)
		}
	}

	if f.lesson != "" {
		seed, err := lessonPen(f.lesson, f.pen)
		if err != nil {
			return src, err
		}
		src = seed.Sources
	}

	for _, file := range []struct {
		tab  tinkerpen.Tab
		path string
	}{
		{tinkerpen.TabHTML, f.html},
		{tinkerpen.TabCSS, f.css},
		{tinkerpen.TabJS, f.js},
	} {
		if file.path == "" {
			continue
		}
		data, err := os.ReadFile(file.path)
		if err != nil {
			return src, fmt.Errorf("failed to read %s: %w", file.tab, err)
		}
		src = src.With(file.tab, string(data))
	}

	if f.normalize {
		src = tinkerpen.NormalizeSources(src)
	}
	return src, nil
}

func lessonPen(path, penID string) (*tinkerpen.PenSeed, error) {
	lesson, err := parseLessonFile(path)
	if err != nil {
		return nil, err
	}
	if penID == "" {
		if len(lesson.Pens) == 0 {
			return nil, fmt.Errorf("%s: lesson has no pens", path)
		}
		return lesson.Pens[0], nil
	}
	seed, ok := lesson.Pen(penID)
	if !ok {
		return nil, fmt.Errorf("%s: pen %q not found", path, penID)
	}
	return seed, nil
}

func parseLessonFile(path string) (*tinkerpen.Lesson, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lesson: %w", err)
	}
	return tinkerpen.ParseLesson(content, path)
}
