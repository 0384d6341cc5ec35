package server

import (
	"github.com/livetemplate/tinkerpen"
)

// Client to server actions.
const (
	ActionEdit    = "edit"    // {tab, text}
	ActionRun     = "run"     // {}
	ActionReset   = "reset"   // {}
	ActionAutoRun = "autorun" // {enabled}
	ActionConsole = "console" // {run, level, args}
	ActionLint    = "lint"    // {}
)

// Server to client actions. ActionLint is reused.
const (
	ActionClear   = "clear"   // {run, trigger}
	ActionSources = "sources" // {sources, enabled}
	ActionLoad    = "load"    // {run, document, scripts}
	ActionLog     = "log"     // {run, entry}
	ActionEntries = "entries" // {entries}
	ActionCatalog = "catalog" // {}
	ActionError   = "error"   // {error}
)

// Message is the envelope exchanged over /pens/{id}/ws in both directions.
type Message struct {
	Action string `json:"action"`

	// edit
	Tab  string `json:"tab,omitempty"`
	Text string `json:"text,omitempty"`

	// clear, load, log, console
	Run      uint64 `json:"run,omitempty"`
	Trigger  string `json:"trigger,omitempty"`
	Document string `json:"document,omitempty"`
	// Scripts tells the client whether the document should execute in the
	// preview. Headless pens send a rendered snapshot with scripts off.
	Scripts bool `json:"scripts,omitempty"`

	// console
	Level string   `json:"level,omitempty"`
	Args  []string `json:"args,omitempty"`

	// autorun, sources
	Enabled *bool `json:"enabled,omitempty"`

	Sources *tinkerpen.Sources       `json:"sources,omitempty"`
	Entry   *tinkerpen.ConsoleEntry  `json:"entry,omitempty"`
	Entries []tinkerpen.ConsoleEntry `json:"entries,omitempty"`
	Lint    *tinkerpen.SyntaxError   `json:"lint,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

func boolPtr(b bool) *bool { return &b }
