package tinkerpen

import "context"

// Trigger records why a run happened.
type Trigger string

const (
	TriggerMount  Trigger = "mount"
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
	TriggerReset  Trigger = "reset"
)

// Run is one execution of a pen: the sources it was built from and the
// assembled document handed to the sandbox.
type Run struct {
	Session  string
	Seq      uint64
	Trigger  Trigger
	Sources  Sources
	Document string
}

// SandboxPolicy is the iframe sandbox attribute browser previews use.
// Guest and host are trusted not to attack each other; top-level
// navigation is still not granted.
const SandboxPolicy = "allow-scripts allow-same-origin allow-modals allow-pointer-lock allow-popups allow-forms"

// Sandbox executes assembled documents in an isolated context.
//
// Every Load is a cold start: the previous guest context is discarded and
// the new document is executed from scratch. Console output from the
// guest reaches the host only through the bridge message channel.
type Sandbox interface {
	Load(ctx context.Context, run Run) error
}

// SandboxFunc adapts a function to the Sandbox interface.
type SandboxFunc func(ctx context.Context, run Run) error

// Load calls f(ctx, run).
func (f SandboxFunc) Load(ctx context.Context, run Run) error {
	return f(ctx, run)
}
