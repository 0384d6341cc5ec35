package tinkerpen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML header of a lesson file.
type Frontmatter struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	AutoRun     bool     `yaml:"autorun"`
}

// Lesson is a parsed lesson page: prose plus the pens embedded in it.
type Lesson struct {
	Title       string
	Description string
	Tags        []string
	SourceFile  string
	// ProseHTML is the rendered markdown with pen blocks removed. It is not
	// sanitized.
	ProseHTML string
	// Pens are in order of first appearance.
	Pens []*PenSeed
}

// Pen returns the pen with the given id.
func (l *Lesson) Pen(id string) (*PenSeed, bool) {
	for _, p := range l.Pens {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// PenSeed is the initial state of one pen declared in a lesson. A pen is
// built from up to three fenced blocks that share an id:
//
//	```html pen id=counter
//	```css pen id=counter
//	```js pen id=counter autorun
type PenSeed struct {
	ID      string
	Sources Sources
	AutoRun bool
	Line    int // line of the first block
}

const defaultPenID = "main"

// ParseLesson parses lesson markdown. file is used for error messages.
func ParseLesson(content []byte, file string) (*Lesson, error) {
	fm, remaining, err := extractFrontmatter(content)
	if err != nil {
		return nil, NewLessonError(file, 1, err.Error()).
			WithSource(string(content)).
			WithHint("frontmatter must start with --- and end with --- on its own line")
	}

	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)

	doc := md.Parser().Parse(text.NewReader(remaining))
	lineOffset := bytes.Count(content[:len(content)-len(remaining)], []byte("\n"))

	lesson := &Lesson{
		Title:       fm.Title,
		Description: fm.Description,
		Tags:        fm.Tags,
		SourceFile:  file,
	}
	pens := make(map[string]*PenSeed)
	seenTabs := make(map[string]map[Tab]bool)

	var toRemove []ast.Node
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		block, ok := parsePenBlock(fenced, remaining, lineOffset)
		if !ok {
			return ast.WalkContinue, nil
		}
		if block.tabErr != nil {
			return ast.WalkStop, NewLessonError(file, block.line, block.tabErr.Error()).
				WithSource(string(content)).
				WithHint("pen blocks must be html, css or js")
		}

		seed, exists := pens[block.id]
		if !exists {
			seed = &PenSeed{ID: block.id, AutoRun: fm.AutoRun, Line: block.line}
			pens[block.id] = seed
			seenTabs[block.id] = make(map[Tab]bool)
			lesson.Pens = append(lesson.Pens, seed)
		}
		if seenTabs[block.id][block.tab] {
			return ast.WalkStop, NewLessonError(file, block.line,
				fmt.Sprintf("pen %q already has a %s block", block.id, block.tab)).
				WithSource(string(content)).
				WithHint("give the second block a different id=")
		}
		seenTabs[block.id][block.tab] = true
		seed.Sources = seed.Sources.With(block.tab, block.content)
		if block.autoRun {
			seed.AutoRun = true
		}

		toRemove = append(toRemove, n)
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	for _, node := range toRemove {
		if parent := node.Parent(); parent != nil {
			parent.RemoveChild(parent, node)
		}
	}

	var htmlBuf bytes.Buffer
	if err := md.Renderer().Render(&htmlBuf, remaining, doc); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", file, err)
	}
	lesson.ProseHTML = htmlBuf.String()

	if lesson.Title == "" {
		lesson.Title = firstHeading(doc, remaining)
	}

	return lesson, nil
}

type penBlock struct {
	id      string
	tab     Tab
	tabErr  error
	autoRun bool
	content string
	line    int
}

// parsePenBlock reads a fenced block whose info string is
// "<lang> pen [id=<id>] [autorun]". Other blocks are left alone.
func parsePenBlock(fenced *ast.FencedCodeBlock, source []byte, lineOffset int) (penBlock, bool) {
	if fenced.Info == nil {
		return penBlock{}, false
	}
	parts := strings.Fields(string(fenced.Info.Text(source)))
	if len(parts) < 2 || parts[1] != "pen" {
		return penBlock{}, false
	}

	block := penBlock{id: defaultPenID}
	block.tab, block.tabErr = ParseTab(parts[0])

	for _, part := range parts[2:] {
		if k, v, ok := strings.Cut(part, "="); ok {
			if k == "id" {
				block.id = strings.Trim(v, `"'`)
			}
			continue
		}
		if part == "autorun" {
			block.autoRun = true
		}
	}

	var buf bytes.Buffer
	lines := fenced.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(source))
	}
	block.content = strings.TrimSuffix(buf.String(), "\n")

	block.line = lineOffset + 1
	if lines.Len() > 0 {
		block.line = lineOffset + bytes.Count(source[:lines.At(0).Start], []byte("\n"))
	}
	return block, true
}

func firstHeading(doc ast.Node, source []byte) string {
	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			var b strings.Builder
			for c := h.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					b.Write(t.Segment.Value(source))
				}
			}
			title = b.String()
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}

// extractFrontmatter splits the YAML header from the markdown body.
func extractFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{}, content, nil
	}

	endIdx := bytes.Index(content[4:], []byte("\n---\n"))
	if endIdx == -1 {
		return nil, nil, fmt.Errorf("unclosed frontmatter")
	}

	yamlContent := content[4 : 4+endIdx]
	remaining := content[4+endIdx+5:]

	var fm Frontmatter
	if err := yaml.Unmarshal(yamlContent, &fm); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &fm, remaining, nil
}
