// Package tinkerpen provides the core engine for live HTML/CSS/JS code
// playgrounds embedded in tutorial pages: editable source buffers, document
// assembly, console bridging, debounced re-runs and archive export.
package tinkerpen

import (
	"fmt"
	"strings"
)

// Tab identifies one of the three editable buffers.
type Tab string

const (
	TabHTML Tab = "html"
	TabCSS  Tab = "css"
	TabJS   Tab = "js"
)

// Tabs lists the buffers in display order.
var Tabs = []Tab{TabHTML, TabCSS, TabJS}

// ParseTab resolves a tab name. "javascript" is accepted as an alias for js.
func ParseTab(name string) (Tab, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "html":
		return TabHTML, nil
	case "css":
		return TabCSS, nil
	case "js", "javascript":
		return TabJS, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTab, name)
	}
}

// Filename returns the file name the tab is exported under.
func (t Tab) Filename() string {
	switch t {
	case TabHTML:
		return "index.html"
	case TabCSS:
		return "style.css"
	case TabJS:
		return "script.js"
	}
	return ""
}

// Extension returns the file extension for single-buffer downloads.
func (t Tab) Extension() string {
	switch t {
	case TabHTML:
		return "html"
	case TabCSS:
		return "css"
	case TabJS:
		return "js"
	}
	return "txt"
}

// Sources is a value snapshot of the three buffers.
type Sources struct {
	HTML string `json:"html" yaml:"html"`
	CSS  string `json:"css" yaml:"css"`
	JS   string `json:"js" yaml:"js"`
}

// Get returns the buffer for tab.
func (s Sources) Get(tab Tab) string {
	switch tab {
	case TabHTML:
		return s.HTML
	case TabCSS:
		return s.CSS
	case TabJS:
		return s.JS
	}
	return ""
}

// With returns a copy of s with the tab's buffer replaced.
func (s Sources) With(tab Tab, text string) Sources {
	switch tab {
	case TabHTML:
		s.HTML = text
	case TabCSS:
		s.CSS = text
	case TabJS:
		s.JS = text
	}
	return s
}

// Default seed snippets used when a pen is created without any.
const (
	DefaultHTML = "<!-- HTML goes here -->\n<div id='app'>Hello from tinkerpen!</div>"
	DefaultCSS  = "/* CSS goes here */\nbody { font-family: system-ui; }"
)

// DefaultSources returns the seed used for pens created without sources.
func DefaultSources() Sources {
	return Sources{HTML: DefaultHTML, CSS: DefaultCSS}
}
