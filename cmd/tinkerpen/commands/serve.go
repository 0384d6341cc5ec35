package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/livetemplate/tinkerpen/internal/catalog"
	"github.com/livetemplate/tinkerpen/internal/config"
	"github.com/livetemplate/tinkerpen/internal/logging"
	"github.com/livetemplate/tinkerpen/internal/server"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	configPath string
	host       string
	port       int
	watch      bool
	sandbox    string
	debug      bool
	logLevel   *string
}

func newServeCmd(logLevel *string) *cobra.Command {
	opts := serveOptions{logLevel: logLevel}

	cmd := &cobra.Command{
		Use:   "serve [directory]",
		Short: "Serve a lesson directory",
		Long: `Serve the lessons in a directory and host their pens.

Configuration is read from tinkerpen.yaml in the directory (or --config),
then TINKERPEN_* environment variables, then flags.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runServe(cmd, dir, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default: <directory>/tinkerpen.yaml)")
	flags.StringVar(&opts.host, "host", "", "listen host")
	flags.IntVarP(&opts.port, "port", "p", 0, "listen port")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "reload lessons when files change")
	flags.StringVar(&opts.sandbox, "sandbox", "browser", "where pens run: browser or headless")
	flags.BoolVar(&opts.debug, "debug", false, "log every request")
	return cmd
}

func runServe(cmd *cobra.Command, dir string, opts serveOptions) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return fmt.Errorf("directory does not exist: %s", dir)
	}

	mode, err := server.ParseSandboxMode(opts.sandbox)
	if err != nil {
		return err
	}

	cfg, err := loadServeConfig(cmd, absDir, opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer logging.RedirectStdLog(logger)()

	catalogDir := cfg.Catalog.Dir
	if catalogDir == "" {
		catalogDir = absDir
	} else if !filepath.IsAbs(catalogDir) {
		catalogDir = filepath.Join(absDir, catalogDir)
	}
	cat, err := catalog.Load(catalogDir, cfg.Catalog.Ignore, logger)
	if err != nil {
		return fmt.Errorf("failed to load lessons: %w", err)
	}

	srv, err := server.New(server.Options{
		Config:  cfg,
		Catalog: cat,
		Sandbox: mode,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	if cfg.Catalog.Watch {
		if err := srv.EnableWatch(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📚 tinkerpen\n\n")
	fmt.Fprintf(out, "Serving: %s\n", catalogDir)
	fmt.Fprintf(out, "Sandbox: %s\n", mode)
	fmt.Fprintf(out, "\nLessons discovered:\n")
	for _, e := range cat.Lessons() {
		fmt.Fprintf(out, "  /lessons/%-28s %d pen(s)\n", e.Slug, len(e.Lesson.Pens))
	}
	for _, lessonErr := range cat.Errors() {
		logger.Warn("lesson skipped", zap.Error(lessonErr))
	}
	if cfg.Catalog.Watch {
		fmt.Fprintf(out, "\n👀 Watch mode enabled - lessons reload on changes\n")
	}
	fmt.Fprintf(out, "\n🌐 Server running at http://%s\n", cfg.Server.Addr())
	fmt.Fprintf(out, "Press Ctrl+C to stop\n\n")

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadServeConfig resolves file, environment and flag configuration, in
// that order of precedence.
func loadServeConfig(cmd *cobra.Command, dir string, opts serveOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
	} else if cfg, err = config.Resolve(dir); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("watch") {
		cfg.Catalog.Watch = opts.watch
	}
	if flags.Changed("debug") {
		cfg.Server.Debug = opts.debug
	}
	if opts.logLevel != nil && *opts.logLevel != "" {
		cfg.Logging.Level = *opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
