package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
	"github.com/livetemplate/tinkerpen/internal/config"
	"github.com/livetemplate/tinkerpen/internal/jsvm"
	"github.com/livetemplate/tinkerpen/internal/metrics"
)

// SandboxMode selects where pen documents execute.
type SandboxMode string

const (
	// SandboxBrowser runs documents in the visitor's preview iframe.
	SandboxBrowser SandboxMode = "browser"
	// SandboxHeadless runs documents server-side in internal/jsvm and sends
	// the resulting DOM to the preview with scripts disabled.
	SandboxHeadless SandboxMode = "headless"
)

// ParseSandboxMode resolves a mode name. Empty means browser.
func ParseSandboxMode(name string) (SandboxMode, error) {
	switch SandboxMode(name) {
	case "", SandboxBrowser:
		return SandboxBrowser, nil
	case SandboxHeadless:
		return SandboxHeadless, nil
	}
	return "", fmt.Errorf("unknown sandbox mode %q (want browser or headless)", name)
}

// ErrSessionNotFound is returned for unknown or expired pen ids.
var ErrSessionNotFound = errors.New("pen not found or expired")

// PenSpec describes a pen to create.
type PenSpec struct {
	Lesson  string
	PenID   string
	Sources tinkerpen.Sources
	// AutoRun overrides the configured default when set.
	AutoRun *bool
	// Normalize expands escaped \n, \t, \" and \\ in Sources.
	Normalize bool
}

// Session is one live pen together with the WebSocket clients viewing it.
// It is the pen's tinkerpen.Sandbox: a run is either forwarded to the
// clients' preview frames or executed headless and forwarded as a snapshot.
type Session struct {
	ID        string
	Lesson    string
	PenID     string
	CreatedAt time.Time

	pen      *tinkerpen.Playground
	headless *jsvm.Sandbox
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// run is the seq of the run most recently handed to Load. Console
	// subscribers read it instead of the pen, whose lock they run under.
	run atomic.Uint64

	mu       sync.Mutex
	clients  []*client // connection order; clients[0] is the primary
	lastSeen time.Time
}

// Pen returns the session's playground.
func (s *Session) Pen() *tinkerpen.Playground { return s.pen }

// Headless reports whether runs execute server-side.
func (s *Session) Headless() bool { return s.headless != nil }

// Load implements tinkerpen.Sandbox. It is called with the pen's run lock
// held, so it must not call back into methods of the pen that run.
func (s *Session) Load(ctx context.Context, run tinkerpen.Run) error {
	start := time.Now()
	s.run.Store(run.Seq)
	s.broadcast(Message{Action: ActionClear, Run: run.Seq, Trigger: string(run.Trigger)})

	var err error
	if s.headless == nil {
		s.broadcast(s.loadMessage(run, run.Document, true))
	} else {
		err = s.headless.Load(ctx, run)
		if err == nil {
			var doc string
			doc, err = s.headless.HTML()
			if err == nil {
				s.broadcast(s.loadMessage(run, doc, false))
			}
		}
	}

	if s.metrics != nil {
		s.metrics.RecordRun(string(run.Trigger), err, time.Since(start))
	}
	return err
}

func (s *Session) loadMessage(run tinkerpen.Run, doc string, scripts bool) Message {
	return Message{Action: ActionLoad, Run: run.Seq, Trigger: string(run.Trigger), Document: doc, Scripts: scripts}
}

// Snapshot returns the document the preview currently shows: the rendered
// DOM for headless pens, the assembled document otherwise.
func (s *Session) Snapshot() (tinkerpen.Run, string) {
	run := s.pen.Current()
	if s.headless != nil {
		if doc, err := s.headless.HTML(); err == nil {
			return run, doc
		}
	}
	return run, run.Document
}

func (s *Session) onEntry(entry tinkerpen.ConsoleEntry) {
	if s.metrics != nil {
		s.metrics.RecordConsole(string(entry.Level))
	}
	s.broadcast(Message{Action: ActionLog, Run: s.run.Load(), Entry: &entry})
}

func (s *Session) sourcesMessage() Message {
	src := s.pen.Sources()
	return Message{Action: ActionSources, Sources: &src, Enabled: boolPtr(s.pen.AutoRun())}
}

func (s *Session) broadcast(msg Message) {
	s.broadcastExcept(nil, msg)
}

func (s *Session) broadcastExcept(skip *client, msg Message) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c != skip {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.send(c, msg)
	}
}

func (s *Session) send(c *client, msg Message) {
	if c.enqueue(msg) && s.metrics != nil {
		s.metrics.RecordWSMessage("out", msg.Action)
	}
}

// attach registers c and reports whether it is the primary client.
func (s *Session) attach(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = append(s.clients, c)
	s.lastSeen = time.Now()
	return len(s.clients) == 1
}

func (s *Session) detach(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.clients {
		if o == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			break
		}
	}
	s.lastSeen = time.Now()
}

// isPrimary reports whether c is the earliest connected client. Only the
// primary's preview reports console output, so several open tabs do not
// record every entry more than once.
func (s *Session) isPrimary(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients) > 0 && s.clients[0] == c
}

// Clients returns the number of attached clients.
func (s *Session) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen), len(s.clients) > 0
}

func (s *Session) close() {
	s.pen.Close()
	if s.headless != nil {
		s.headless.Close()
	}

	s.mu.Lock()
	clients := s.clients
	s.clients = nil
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// SessionManager owns the live pens.
type SessionManager struct {
	cfg     config.PlaygroundConfig
	mode    SandboxMode
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty manager. Call Run to expire idle pens.
func NewSessionManager(cfg config.PlaygroundConfig, mode SandboxMode, m *metrics.Metrics, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:      cfg,
		mode:     mode,
		metrics:  m,
		logger:   logger.Named("sessions"),
		sessions: make(map[string]*Session),
	}
}

// Create starts a new pen. Headless pens are mounted immediately; browser
// pens are mounted when their first client connects.
func (m *SessionManager) Create(ctx context.Context, spec PenSpec) (*Session, error) {
	autoRun := m.cfg.AutoRun
	if spec.AutoRun != nil {
		autoRun = *spec.AutoRun
	}

	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		Lesson:    spec.Lesson,
		PenID:     spec.PenID,
		CreatedAt: now,
		metrics:   m.metrics,
		lastSeen:  now,
	}
	s.logger = m.logger.With(zap.String("pen", s.ID))

	if m.mode == SandboxHeadless {
		s.headless = jsvm.New(jsvm.Config{
			Timeout:    m.cfg.GetRunTimeout(),
			BridgeName: m.cfg.BridgeName,
			Logger:     s.logger,
		}, func(msg tinkerpen.BridgeMessage) {
			s.pen.Receive(msg)
		})
	}

	s.pen = tinkerpen.New(s.ID, tinkerpen.Options{
		Initial:        spec.Sources,
		NormalizeSeeds: spec.Normalize,
		Debounce:       m.cfg.GetDebounce(),
		AutoRun:        autoRun,
		BridgeName:     m.cfg.BridgeName,
		MaxLogEntries:  m.cfg.MaxLogEntries,
		Logger:         m.logger,
	}, s)
	s.pen.Subscribe(s.onEntry)

	if s.headless != nil {
		if err := s.pen.Mount(ctx); err != nil {
			s.close()
			return nil, err
		}
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(n))
	}
	s.logger.Info("pen created",
		zap.String("lesson", spec.Lesson), zap.String("pen_id", spec.PenID),
		zap.String("mode", string(m.mode)), zap.Bool("autorun", autoRun))
	return s, nil
}

// Get looks up a pen and marks it as recently used.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch()
	return s, nil
}

// Len returns the number of live pens.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Each calls fn for every live pen.
func (m *SessionManager) Each(fn func(*Session)) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		fn(s)
	}
}

// Remove closes and forgets a pen.
func (m *SessionManager) Remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return false
	}

	s.close()
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(n))
	}
	return true
}

// Expire removes pens that have had no clients for longer than the
// configured TTL. It returns the number removed.
func (m *SessionManager) Expire(now time.Time) int {
	ttl := m.cfg.GetSessionTTL()

	var expired []string
	m.Each(func(s *Session) {
		idle, connected := s.idleSince(now)
		if !connected && idle > ttl {
			expired = append(expired, s.ID)
		}
	})

	for _, id := range expired {
		m.Remove(id)
	}
	if len(expired) > 0 {
		m.logger.Info("expired idle pens", zap.Int("count", len(expired)), zap.Int("remaining", m.Len()))
	}
	return len(expired)
}

// Run expires idle pens until ctx is done.
func (m *SessionManager) Run(ctx context.Context) error {
	interval := min(5*time.Minute, m.cfg.GetSessionTTL())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.Expire(now)
		case <-ctx.Done():
			return nil
		}
	}
}

// Close removes every pen.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(0)
	}
}
