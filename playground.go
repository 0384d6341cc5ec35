package tinkerpen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options configures a Playground.
type Options struct {
	// Initial seeds the buffers and is the target of Reset.
	Initial Sources
	// NormalizeSeeds expands escaped \n, \t, \" and \\ in Initial.
	NormalizeSeeds bool
	// Debounce is the auto-run quiet period (DefaultDebounce when zero).
	Debounce time.Duration
	// AutoRun arms the scheduler on every edit.
	AutoRun bool
	// BridgeName is the console message type (DefaultBridgeName when empty).
	BridgeName string
	// MaxLogEntries caps the console log (0 = unlimited).
	MaxLogEntries int
	// Logger receives lifecycle logs. A no-op logger is used when nil.
	Logger *zap.Logger
	// OnRun is called after each run has been handed to the sandbox.
	OnRun func(run Run, err error)
}

// Playground is one live pen: three source buffers, the console log of the
// current run, and the scheduler that re-runs the pen after edits.
type Playground struct {
	id        string
	opts      Options
	sources   *SourceSet
	console   *ConsoleLog
	scheduler *Scheduler
	sandbox   Sandbox
	logger    *zap.Logger

	ctx    context.Context // parent context for scheduled runs
	cancel context.CancelFunc

	runMu   sync.Mutex // serializes runs
	current Run
	mounted bool

	logMu sync.Mutex // guards seq together with the console log
	seq   uint64

	stateMu sync.RWMutex
	autoRun bool
	closed  bool
}

// New creates a pen. The sandbox is required.
func New(id string, opts Options, sandbox Sandbox) *Playground {
	if sandbox == nil {
		panic("tinkerpen: New requires a sandbox")
	}

	initial := opts.Initial
	if opts.NormalizeSeeds {
		initial = NormalizeSources(initial)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BridgeName == "" {
		opts.BridgeName = DefaultBridgeName
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Playground{
		id:      id,
		opts:    opts,
		sources: NewSourceSet(initial),
		console: NewConsoleLog(opts.MaxLogEntries),
		sandbox: sandbox,
		logger:  logger.With(zap.String("pen", id)),
		ctx:     ctx,
		cancel:  cancel,
		autoRun: opts.AutoRun,
	}
	p.scheduler = NewScheduler(opts.Debounce, func() {
		if err := p.run(p.ctx, TriggerAuto); err != nil && !errors.Is(err, ErrClosed) {
			p.logger.Error("scheduled run failed", zap.Error(err))
		}
	})
	return p
}

// ID returns the pen id.
func (p *Playground) ID() string { return p.id }

// BridgeName returns the message type the pen's console shim posts under.
func (p *Playground) BridgeName() string { return p.opts.BridgeName }

// Mount performs the initial run. Only the first call runs; the preview is
// populated on mount whether or not auto-run is enabled.
func (p *Playground) Mount(ctx context.Context) error {
	p.runMu.Lock()
	if p.mounted {
		p.runMu.Unlock()
		return nil
	}
	p.mounted = true
	p.runMu.Unlock()

	return p.run(ctx, TriggerMount)
}

// Mounted reports whether Mount has run.
func (p *Playground) Mounted() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.mounted
}

// Edit replaces one buffer. With auto-run enabled it (re)arms the debounce
// timer; otherwise the edit waits for an explicit Run or Reset.
func (p *Playground) Edit(tab Tab, text string) error {
	if tab.Filename() == "" {
		return fmt.Errorf("%w: %q", ErrUnknownTab, string(tab))
	}

	p.stateMu.RLock()
	closed, autoRun := p.closed, p.autoRun
	p.stateMu.RUnlock()
	if closed {
		return ErrClosed
	}

	p.sources.Set(tab, text)
	if autoRun {
		p.scheduler.Schedule()
	}
	return nil
}

// Run executes the current buffers immediately. A pending debounced run
// is cancelled so the same edit is not executed twice.
func (p *Playground) Run(ctx context.Context) error {
	return p.run(ctx, TriggerManual)
}

// Reset restores the initial buffers and runs them immediately.
func (p *Playground) Reset(ctx context.Context) error {
	if p.isClosed() {
		return ErrClosed
	}
	p.sources.Reset()
	return p.run(ctx, TriggerReset)
}

// SetAutoRun toggles auto-run. Disabling it drops a pending run.
func (p *Playground) SetAutoRun(enabled bool) {
	p.stateMu.Lock()
	p.autoRun = enabled
	p.stateMu.Unlock()

	if !enabled {
		p.scheduler.Cancel()
	}
}

// AutoRun reports whether edits schedule runs.
func (p *Playground) AutoRun() bool {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.autoRun
}

// Pending reports whether a debounced run is armed.
func (p *Playground) Pending() bool {
	return p.scheduler.State() == StatePending
}

// Sources returns the current buffers.
func (p *Playground) Sources() Sources {
	return p.sources.Snapshot()
}

// Initial returns the buffers Reset restores.
func (p *Playground) Initial() Sources {
	return p.sources.Initial()
}

// Console returns the log of the current run.
func (p *Playground) Console() []ConsoleEntry {
	return p.console.Entries()
}

// Subscribe registers fn for every console entry accepted from now on.
func (p *Playground) Subscribe(fn func(ConsoleEntry)) {
	p.console.Subscribe(fn)
}

// Current returns the most recent run. Seq is zero before the first run.
func (p *Playground) Current() Run {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.current
}

// Seq returns the sequence number of the most recent run.
func (p *Playground) Seq() uint64 {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	return p.seq
}

// Bridge accepts one console call from the guest of run seq. Calls from
// any other run are dropped so a stale guest can never write into a newer
// run's log. It reports whether the entry was recorded.
func (p *Playground) Bridge(seq uint64, level string, args []any) bool {
	p.logMu.Lock()
	defer p.logMu.Unlock()

	if seq != p.seq {
		p.logger.Debug("dropping console message from stale run",
			zap.Uint64("run", seq), zap.Uint64("current", p.seq))
		return false
	}
	p.console.Append(ConsoleEntry{Level: ParseLevel(level), Message: FormatArgs(args)})
	return true
}

// Receive accepts a message posted by a guest frame. Messages of another
// type or addressed to another pen are ignored, the same way the host page
// ignores unrelated postMessage traffic.
func (p *Playground) Receive(msg BridgeMessage) bool {
	if msg.Type != p.opts.BridgeName || msg.Session != p.id {
		return false
	}
	args := make([]any, len(msg.Args))
	for i, a := range msg.Args {
		args[i] = a
	}
	return p.Bridge(msg.Run, msg.Level, args)
}

// Export returns the zip archive of the current buffers.
func (p *Playground) Export() ([]byte, error) {
	return Export(p.sources.Snapshot())
}

// Close stops the scheduler. Further edits and runs return ErrClosed.
func (p *Playground) Close() {
	p.stateMu.Lock()
	if p.closed {
		p.stateMu.Unlock()
		return
	}
	p.closed = true
	p.stateMu.Unlock()

	p.scheduler.Stop()
	p.cancel()
}

func (p *Playground) isClosed() bool {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.closed
}

func (p *Playground) run(ctx context.Context, trigger Trigger) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.isClosed() {
		return ErrClosed
	}
	if trigger != TriggerAuto {
		p.scheduler.Cancel()
	}

	// the log is emptied before the new document exists, so nothing from
	// an older run can follow entries of this one
	p.logMu.Lock()
	p.seq++
	seq := p.seq
	p.console.Clear()
	p.logMu.Unlock()

	src := p.sources.Snapshot()
	run := Run{
		Session: p.id,
		Seq:     seq,
		Trigger: trigger,
		Sources: src,
		Document: Assemble(src, BridgeConfig{
			Name:    p.opts.BridgeName,
			Session: p.id,
			Run:     seq,
		}),
	}
	p.current = run

	start := time.Now()
	err := p.sandbox.Load(ctx, run)
	if err != nil {
		p.logger.Error("sandbox load failed",
			zap.Uint64("run", seq), zap.String("trigger", string(trigger)), zap.Error(err))
		err = fmt.Errorf("failed to load run %d: %w", seq, err)
	} else {
		p.logger.Debug("run loaded",
			zap.Uint64("run", seq), zap.String("trigger", string(trigger)),
			zap.Duration("elapsed", time.Since(start)))
	}

	if p.opts.OnRun != nil {
		p.opts.OnRun(run, err)
	}
	return err
}
