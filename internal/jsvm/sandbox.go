package jsvm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
)

var (
	// ErrNoDocument is returned before the first Load.
	ErrNoDocument = errors.New("jsvm: no document loaded")
	// ErrHalted is returned for a frame the watchdog has stopped.
	ErrHalted = errors.New("jsvm: guest halted")
	// ErrNoMatch is returned when Dispatch finds no element.
	ErrNoMatch = errors.New("jsvm: no element matches selector")

	// errInternal halts a frame whose native bindings panicked.
	errInternal = errors.New("internal sandbox error")
)

// Sandbox is a headless tinkerpen.Sandbox. It holds at most one frame;
// every Load replaces it.
//
// The bridge callback runs synchronously on the goroutine executing guest
// code and must not call back into the Sandbox.
type Sandbox struct {
	cfg    Config
	bridge BridgeFunc
	logger *zap.Logger

	mu    sync.Mutex
	frame *frame
}

var _ tinkerpen.Sandbox = (*Sandbox)(nil)

// New creates a headless sandbox that delivers guest messages to bridge.
func New(cfg Config, bridge BridgeFunc) *Sandbox {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTimers <= 0 {
		cfg.MaxTimers = def.MaxTimers
	}
	if cfg.BridgeName == "" {
		cfg.BridgeName = def.BridgeName
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Sandbox{
		cfg:    cfg,
		bridge: bridge,
		logger: cfg.Logger,
	}
}

// Load discards the previous frame and executes run.Document in a new one.
// Guest errors, timeouts included, are reported through the bridge and do
// not fail the load; only host-side problems are returned.
func (s *Sandbox) Load(ctx context.Context, run tinkerpen.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame = nil
	f, err := newFrame(s.cfg, s.bridge, run)
	if err != nil {
		return err
	}
	s.frame = f

	return s.guard(ctx, f, f.load)
}

// Dispatch fires event on the first element matching selector, running its
// inline on<event> attribute and listeners, then any timers they queue.
func (s *Sandbox) Dispatch(ctx context.Context, selector, event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.live()
	if err != nil {
		return err
	}
	n := first(f.doc.Find(selector))
	if n == nil {
		return fmt.Errorf("%w: %q", ErrNoMatch, selector)
	}

	return s.guard(ctx, f, func() {
		f.fire(n, event)
		f.drainTimers()
	})
}

// Eval evaluates src in the global scope of the current frame and returns
// the exported result. Guest exceptions are returned, not reported.
func (s *Sandbox) Eval(ctx context.Context, src string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.live()
	if err != nil {
		return nil, err
	}

	var (
		val     goja.Value
		evalErr error
	)
	if err := s.guard(ctx, f, func() {
		val, evalErr = f.vm.RunString(src)
		var interrupted *goja.InterruptedError
		if errors.As(evalErr, &interrupted) {
			f.halt = interrupted.Value()
		}
	}); err != nil {
		return nil, err
	}
	if f.halted() {
		return nil, ErrHalted
	}
	if evalErr != nil {
		return nil, evalErr
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// Text returns the text content of the first element matching selector in
// the current frame.
func (s *Sandbox) Text(selector string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil {
		return "", false
	}
	sel := s.frame.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Text(), true
}

// HTML serializes the current frame's document as the guest has left it.
func (s *Sandbox) HTML() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil {
		return "", ErrNoDocument
	}
	return s.frame.doc.Html()
}

// Close drops the current frame.
func (s *Sandbox) Close() {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
}

func (s *Sandbox) live() (*frame, error) {
	if s.frame == nil {
		return nil, ErrNoDocument
	}
	if s.frame.halted() {
		return nil, ErrHalted
	}
	return s.frame, nil
}

// guard runs fn under the watchdog. A timeout or a panic in a native
// binding halts the frame and is reported to the guest's console; a
// cancelled ctx halts the frame and is returned.
func (s *Sandbox) guard(ctx context.Context, f *frame, fn func()) error {
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-timer.C:
			f.vm.Interrupt(errTimeout)
		case <-ctx.Done():
			f.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	start := time.Now()
	recovered := protect(fn)
	close(done)
	<-exited
	f.vm.ClearInterrupt()

	if recovered != nil {
		f.halt = errInternal
		s.logger.Error("sandbox panic",
			zap.String("pen", f.run.Session),
			zap.Uint64("run", f.run.Seq),
			zap.Any("panic", recovered),
			zap.Stack("stack"))
		s.report(f, errInternal.Error())
		return nil
	}

	if !f.halted() {
		return nil
	}

	if err, ok := f.halt.(error); ok && !errors.Is(err, errTimeout) {
		s.logger.Debug("guest interrupted", zap.Error(err))
		return err
	}

	s.logger.Warn("guest execution timed out",
		zap.String("pen", f.run.Session),
		zap.Uint64("run", f.run.Seq),
		zap.Duration("elapsed", time.Since(start)))
	s.report(f, fmt.Sprintf("execution timed out after %s", s.cfg.Timeout))
	return nil
}

// protect runs fn and returns the value of any panic it raised.
func protect(fn func()) (recovered any) {
	defer func() { recovered = recover() }()
	fn()
	return nil
}

// report sends a host-generated error entry to the frame's run.
func (s *Sandbox) report(f *frame, message string) {
	if s.bridge == nil {
		return
	}
	s.bridge(tinkerpen.BridgeMessage{
		Type:    s.cfg.BridgeName,
		Session: f.run.Session,
		Run:     f.run.Seq,
		Level:   string(tinkerpen.LevelError),
		Args:    []string{message},
	})
}
