package tinkerpen

import (
	"strings"
	"sync"
)

// SourceSet holds the live edit state of a pen plus the snapshot it was
// created from. The snapshot is never modified after construction.
type SourceSet struct {
	mu      sync.RWMutex
	current Sources
	initial Sources
}

// NewSourceSet creates a source set seeded with initial.
func NewSourceSet(initial Sources) *SourceSet {
	return &SourceSet{current: initial, initial: initial}
}

// Get returns the current contents of a buffer.
func (s *SourceSet) Get(tab Tab) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Get(tab)
}

// Set replaces the contents of a buffer.
func (s *SourceSet) Set(tab Tab, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.current.With(tab, text)
}

// Snapshot returns a copy of the current buffers.
func (s *SourceSet) Snapshot() Sources {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Initial returns the construction-time buffers.
func (s *SourceSet) Initial() Sources {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initial
}

// Reset restores every buffer to its initial value.
func (s *SourceSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.initial
}

// Dirty reports whether any buffer differs from the initial snapshot.
func (s *SourceSet) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != s.initial
}

// snippetEscapes are expanded one after another, so a `\\n` written in a
// seed becomes a backslash followed by a newline.
var snippetEscapes = [][2]string{
	{`\n`, "\n"},
	{`\t`, "\t"},
	{`\"`, `"`},
	{`\\`, `\`},
}

// NormalizeSnippet expands the escape sequences \n, \t, \" and \\ that
// appear when seed snippets are authored as escaped string literals.
// It is meant for seeds only; live edits are stored verbatim.
func NormalizeSnippet(s string) string {
	for _, e := range snippetEscapes {
		s = strings.ReplaceAll(s, e[0], e[1])
	}
	return s
}

// NormalizeSources applies NormalizeSnippet to every buffer.
func NormalizeSources(src Sources) Sources {
	return Sources{
		HTML: NormalizeSnippet(src.HTML),
		CSS:  NormalizeSnippet(src.CSS),
		JS:   NormalizeSnippet(src.JS),
	}
}
