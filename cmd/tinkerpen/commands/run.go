package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/livetemplate/tinkerpen"
	"github.com/livetemplate/tinkerpen/internal/jsvm"
)

type runOptions struct {
	sources  sourceFlags
	clicks   []string
	event    string
	timeout  time.Duration
	dom      bool
	jsonOut  bool
	strict   bool
	logLevel *string
}

func newRunCmd(logLevel *string) *cobra.Command {
	opts := runOptions{logLevel: logLevel}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pen headless and print its console",
		Long: `Run a pen in the headless sandbox and print what it logged.

Each --click fires an event (default "click") on the first element matching
the selector after the page has loaded, in order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPen(cmd, opts)
		},
	}
	opts.sources.register(cmd)

	flags := cmd.Flags()
	flags.StringArrayVar(&opts.clicks, "click", nil, "CSS selector to dispatch an event on (repeatable)")
	flags.StringVar(&opts.event, "event", "click", "event fired by --click")
	flags.DurationVar(&opts.timeout, "timeout", jsvm.DefaultConfig().Timeout, "watchdog budget per load or event")
	flags.BoolVar(&opts.dom, "dom", false, "print the resulting document")
	flags.BoolVar(&opts.jsonOut, "json", false, "print the console as JSON")
	flags.BoolVar(&opts.strict, "strict", false, "fail when the guest logged an error")
	return cmd
}

func runPen(cmd *cobra.Command, opts runOptions) error {
	src, err := opts.sources.load()
	if err != nil {
		return err
	}

	logger, err := cliLogger(*opts.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var pen *tinkerpen.Playground
	cfg := jsvm.DefaultConfig()
	cfg.Timeout = opts.timeout
	cfg.Logger = logger
	sandbox := jsvm.New(cfg, func(msg tinkerpen.BridgeMessage) {
		pen.Receive(msg)
	})
	defer sandbox.Close()

	pen = tinkerpen.New(uuid.NewString(), tinkerpen.Options{Initial: src, Logger: logger}, sandbox)
	defer pen.Close()

	ctx := cmd.Context()
	if err := pen.Mount(ctx); err != nil {
		return err
	}
	for _, selector := range opts.clicks {
		if err := sandbox.Dispatch(ctx, selector, opts.event); err != nil {
			return err
		}
	}

	entries := pen.Console()
	out := cmd.OutOrStdout()
	if opts.jsonOut {
		if entries == nil {
			entries = []tinkerpen.ConsoleEntry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return err
		}
	} else {
		for _, e := range entries {
			fmt.Fprintf(out, "[%s] %s\n", e.Level, e.Message)
		}
	}

	if opts.dom {
		doc, err := sandbox.HTML()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, doc)
	}

	if opts.strict {
		errs := 0
		for _, e := range entries {
			if e.Level == tinkerpen.LevelError {
				errs++
			}
		}
		if errs > 0 {
			return fmt.Errorf("guest logged %d error(s)", errs)
		}
	}
	return nil
}
