// Package catalog discovers lesson files and the pens declared in them.
package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
)

// Entry is one lesson in the catalog.
type Entry struct {
	Slug     string // URL slug (e.g., "dom/creating-elements")
	FilePath string // Relative file path (e.g., "dom/creating-elements.md")
	Lesson   *tinkerpen.Lesson
	// Prose is the lesson markdown rendered and sanitized for display.
	Prose string
}

// Catalog is the set of lessons under a directory.
type Catalog struct {
	dir    string
	ignore []string
	policy *bluemonday.Policy
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	errs    []error
}

// New creates an empty catalog for dir. Call Reload to populate it.
// ignore holds doublestar patterns relative to dir (e.g., "drafts/**").
func New(dir string, ignore []string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		dir:     dir,
		ignore:  ignore,
		policy:  bluemonday.UGCPolicy(),
		logger:  logger.Named("catalog"),
		entries: make(map[string]*Entry),
	}
}

// Load creates a catalog and reads every lesson in dir.
func Load(dir string, ignore []string, logger *zap.Logger) (*Catalog, error) {
	c := New(dir, ignore, logger)
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the catalog root.
func (c *Catalog) Dir() string { return c.dir }

// Reload rescans the directory. Lessons that fail to parse are skipped and
// reported by Errors; the rest of the catalog still loads.
func (c *Catalog) Reload() error {
	entries := make(map[string]*Entry)
	var order []string
	var errs []error

	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if path != c.dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".md" || c.ignored(relPath) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", relPath, err)
		}

		lesson, err := tinkerpen.ParseLesson(content, relPath)
		if err != nil {
			c.logger.Warn("skipping lesson", zap.String("file", relPath), zap.Error(err))
			errs = append(errs, err)
			return nil
		}

		slug := Slug(relPath)
		entries[slug] = &Entry{
			Slug:     slug,
			FilePath: relPath,
			Lesson:   lesson,
			Prose:    c.policy.Sanitize(lesson.ProseHTML),
		}
		order = append(order, slug)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", c.dir, err)
	}

	sort.Strings(order)

	c.mu.Lock()
	c.entries = entries
	c.order = order
	c.errs = errs
	c.mu.Unlock()

	c.logger.Info("catalog loaded", zap.Int("lessons", len(order)), zap.Int("errors", len(errs)))
	return nil
}

// ignored matches relPath against the ignore globs. Patterns without a
// slash also match the base name at any depth, as in .gitignore.
func (c *Catalog) ignored(relPath string) bool {
	base := path.Base(relPath)
	for _, pattern := range c.ignore {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, base); ok {
				return true
			}
		}
	}
	return false
}

// Lessons returns every entry ordered by slug.
func (c *Catalog) Lessons() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entry, 0, len(c.order))
	for _, slug := range c.order {
		out = append(out, c.entries[slug])
	}
	return out
}

// Lesson looks up an entry by slug.
func (c *Catalog) Lesson(slug string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[slug]
	return e, ok
}

// Pen looks up a pen seed by lesson slug and pen id.
func (c *Catalog) Pen(slug, penID string) (*tinkerpen.PenSeed, bool) {
	e, ok := c.Lesson(slug)
	if !ok {
		return nil, false
	}
	return e.Lesson.Pen(penID)
}

// Errors returns the parse errors from the last Reload.
func (c *Catalog) Errors() []error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]error(nil), c.errs...)
}

// Slug converts a relative markdown path to a lesson slug.
// Examples:
//   - "intro.md" → "intro"
//   - "dom/events.md" → "dom/events"
//   - "dom/index.md" → "dom"
func Slug(relPath string) string {
	slug := strings.TrimSuffix(filepath.ToSlash(relPath), ".md")
	if slug == "index" {
		return "index"
	}
	return strings.TrimSuffix(slug, "/index")
}
