// Package server hosts pens over HTTP: lesson and pen pages, preview
// documents, the WebSocket bridge, exports and metrics.
package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/assets"
	"github.com/livetemplate/tinkerpen/internal/catalog"
	"github.com/livetemplate/tinkerpen/internal/config"
	"github.com/livetemplate/tinkerpen/internal/metrics"
)

// Options configures a Server.
type Options struct {
	Config  *config.Config
	Catalog *catalog.Catalog // optional; the index is empty without one
	Sandbox SandboxMode
	Logger  *zap.Logger
	Metrics *metrics.Metrics // a private registry is created when nil
}

// Server is the tinkerpen HTTP host.
type Server struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	mode      SandboxMode
	logger    *zap.Logger
	metrics   *metrics.Metrics
	sessions  *SessionManager
	templates map[string]*template.Template
	handler   http.Handler
	watcher   *catalog.Watcher

	cancel      context.CancelFunc
	limiter     *keyLimiter // nil when rate limiting is off
	limiterDone <-chan struct{}
}

// New creates a server. Call Run to expire idle pens and Close to release
// everything the server started.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	mode := opts.Sandbox
	if mode == "" {
		mode = SandboxBrowser
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	templates, err := parseTemplates(assets.TemplatesFS())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		catalog:   opts.Catalog,
		mode:      mode,
		logger:    logger.Named("server"),
		metrics:   m,
		templates: templates,
		cancel:    cancel,
	}
	s.sessions = NewSessionManager(cfg.Playground, mode, m, logger)
	if s.catalog != nil {
		m.CatalogLessons.Set(float64(len(s.catalog.Lessons())))
	}

	s.handler = s.routes(ctx)
	return s, nil
}

func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	createPen := http.Handler(http.HandlerFunc(s.handleCreatePen))
	if rl := s.cfg.RateLimit; rl.RequestsPerSecond > 0 {
		s.limiter = newKeyLimiter(rl.RequestsPerSecond, rl.Burst, rl.GetMaxTrackedIPs(), s.logger.Named("ratelimit"))
		s.limiterDone = s.limiter.start(ctx)
		createPen = s.limiter.middleware(createPen)
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /lessons/{slug...}", s.handleLesson)
	mux.Handle("POST /pens", createPen)
	mux.HandleFunc("GET /pens/{id}", s.handlePen)
	mux.HandleFunc("GET /pens/{id}/preview", s.handlePreview)
	mux.HandleFunc("GET /pens/{id}/ws", s.serveWebSocket)
	mux.HandleFunc("GET /pens/{id}/export", s.handleExport)
	mux.HandleFunc("GET /pens/{id}/export/{tab}", s.handleExportTab)
	mux.HandleFunc("GET /pens/{id}/console", s.handleConsole)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServerFS(assets.ClientFS())))

	var h http.Handler = mux
	h = compressionMiddleware(h)
	h = SecurityHeadersMiddleware()(h)
	h = LoggingMiddleware(s.logger.Named("http"), s.cfg.Server.Debug)(h)
	h = s.metrics.Middleware(h)
	return h
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Sessions returns the pen registry.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Metrics returns the server's metrics.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Run expires idle pens until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.sessions.Run(ctx)
}

// EnableWatch reloads the catalog when lesson files change and tells every
// connected client.
func (s *Server) EnableWatch() error {
	if s.catalog == nil {
		return fmt.Errorf("no catalog to watch")
	}
	w, err := catalog.NewWatcher(s.catalog, s.onCatalogReload, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = w
	s.watcher.Start()

	s.logger.Info("watching lessons", zap.String("dir", s.catalog.Dir()))
	return nil
}

func (s *Server) onCatalogReload() {
	s.metrics.CatalogReloads.Inc()
	s.metrics.CatalogLessons.Set(float64(len(s.catalog.Lessons())))

	n := 0
	s.sessions.Each(func(session *Session) {
		if session.Lesson != "" {
			session.broadcast(Message{Action: ActionCatalog})
			n++
		}
	})
	s.logger.Info("catalog reloaded", zap.Int("lesson_pens_notified", n))
}

// Close stops the watcher and the rate limiter and closes every pen.
func (s *Server) Close() error {
	var err error
	if s.watcher != nil {
		err = s.watcher.Stop()
	}
	s.cancel()
	if s.limiterDone != nil {
		<-s.limiterDone
	}
	s.sessions.Close()
	return err
}
