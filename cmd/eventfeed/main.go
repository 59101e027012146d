// Command eventfeed captures Instagram posts from tracked accounts, finds the
// event listings among them and publishes one page per event.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/STRATINT/eventfeed/internal/config"
	"github.com/STRATINT/eventfeed/internal/datastore"
	"github.com/STRATINT/eventfeed/internal/eventmanager"
	"github.com/STRATINT/eventfeed/internal/ingestion"
	"github.com/STRATINT/eventfeed/internal/listing"
	"github.com/STRATINT/eventfeed/internal/logging"
	"github.com/STRATINT/eventfeed/internal/models"
	"github.com/STRATINT/eventfeed/internal/pipeline"
	"github.com/STRATINT/eventfeed/internal/progress"
	"github.com/STRATINT/eventfeed/internal/render"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, opts options) error
}

var commands = []command{
	{"fetch", "Capture recent posts of the tracked accounts", runFetch},
	{"classify-events", "Decide which stored posts are event listings", runClassify},
	{"extract-events", "Extract, enrich and render pending event listings", runExtract},
	{"progress", "Print the progress report", runProgress},
	{"run", "Fetch, classify and extract in one pass", runAll},
	{"render", "Re-render one post from its event.json", runRender},
	{"index", "Print the upcoming or past events page", runIndex},
	{"serve", "Run the pipeline on a schedule and serve /metrics and /healthz", runServe},
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(os.Stdout)
		return
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printUsage(os.Stderr)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	opts, err := parseOptions(name, os.Args[2:], &cfg)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Reports go to stdout; keep logs off it.
	logger, err := logging.NewWithWriter(cfg.Logging, os.Stderr)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise", "command", name, "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := cmd.run(ctx, a, opts); err != nil {
		logger.Error("command failed", "command", name, "error", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: eventfeed <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-16s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'eventfeed <command> -h' for the flags of a command.")
}

// options are the per-command flags that are not configuration overrides.
type options struct {
	post         string
	when         listing.When
	templatesDir string
	out          string
	now          bool
}

// parseOptions applies command-line overrides to cfg.
func parseOptions(name string, args []string, cfg *config.Config) (options, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&cfg.Paths.Datastore, "datastore", cfg.Paths.Datastore, "datastore root directory")
	fs.StringVar(&cfg.Paths.EventsDir, "events-dir", cfg.Paths.EventsDir, "directory for rendered events")
	fs.StringVar(&cfg.Paths.Accounts, "accounts", cfg.Paths.Accounts, "accounts file or comma-separated handles/URLs")
	fs.StringVar(&cfg.Paths.Template, "template", cfg.Paths.Template, "event template path")
	fs.IntVar(&cfg.Instagram.PostLimit, "limit", cfg.Instagram.PostLimit, "posts to fetch per account")
	model := fs.String("model", "", "completion model override")

	var opts options
	var when string
	switch name {
	case "render":
		fs.StringVar(&opts.post, "post", "", "post to re-render: handle/shortcode or its datastore directory")
	case "index":
		fs.StringVar(&when, "when", string(listing.Upcoming), "upcoming or past")
		fs.StringVar(&opts.templatesDir, "templates-dir", "_templates", "directory holding the header and footer templates")
		fs.StringVar(&opts.out, "out", "", "write the page here instead of stdout")
	case "serve":
		fs.BoolVar(&opts.now, "now", false, "run once immediately on start")
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if *model != "" {
		if cfg.Extraction.Provider == "anthropic" {
			cfg.Extraction.AnthropicModel = *model
		} else {
			cfg.Extraction.OpenAIModel = *model
		}
	}
	if cfg.Instagram.PostLimit < 1 {
		return options{}, fmt.Errorf("--limit must be at least 1")
	}

	if name == "index" {
		w, err := listing.ParseWhen(when)
		if err != nil {
			return options{}, err
		}
		opts.when = w
	}
	if name == "render" && opts.post == "" {
		return options{}, fmt.Errorf("--post is required")
	}
	return opts, nil
}

// parsePostRef accepts handle/shortcode or a path ending in handle/shortcode.
func parsePostRef(ref string) (models.PostKey, error) {
	parts := strings.Split(strings.Trim(strings.ReplaceAll(ref, "\\", "/"), "/"), "/")
	if len(parts) < 2 {
		return models.PostKey{}, fmt.Errorf("invalid post %q: want handle/shortcode", ref)
	}
	key := models.PostKey{Handle: parts[len(parts)-2], ShortCode: parts[len(parts)-1]}
	if err := datastore.ValidateKey(key); err != nil {
		return models.PostKey{}, err
	}
	return key, nil
}

func runFetch(ctx context.Context, a *app, _ options) error {
	capture, err := a.capture()
	if err != nil {
		return err
	}
	accounts, err := ingestion.LoadAccounts(a.cfg.Paths.Accounts)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}
	summary, err := capture.Run(ctx, pipeline.NewRunID(), accounts)
	if err != nil {
		return err
	}
	fmt.Printf("accounts: %d (failed %d), posts saved: %d, skipped: %d, media failures: %d\n",
		summary.Accounts, summary.FailedAccounts, summary.Saved, summary.Skipped, summary.MediaFailures)
	return nil
}

func runClassify(ctx context.Context, a *app, _ options) error {
	summary, err := a.classifyStage().Run(ctx, pipeline.NewRunID())
	if err != nil {
		return err
	}
	fmt.Printf("classified: %d, events: %d, not events: %d, failed: %d\n",
		summary.Candidates, summary.Events, summary.NotEvents, summary.Failed)
	return nil
}

func runExtract(ctx context.Context, a *app, _ options) error {
	manager, err := a.manager()
	if err != nil {
		return err
	}
	summary, err := manager.Run(ctx, pipeline.NewRunID())
	fmt.Printf("candidates: %d, succeeded: %d, failed: %d, deferred: %d\n",
		summary.Candidates, summary.Succeeded, summary.Failed, summary.Deferred)
	if errors.Is(err, eventmanager.ErrQuotaExhausted) {
		fmt.Fprintln(os.Stderr, err)
	}
	return err
}

func runProgress(_ context.Context, a *app, _ options) error {
	counts, err := progress.Collect(a.store, a.cfg.Paths.EventsDir)
	if err != nil {
		return err
	}
	fmt.Print(progress.Table(counts))
	return nil
}

func runAll(ctx context.Context, a *app, _ options) error {
	p, err := a.fullPipeline()
	if err != nil {
		return err
	}
	summary, err := p.Run(ctx)
	fmt.Print(progress.Table(summary.Progress))
	return err
}

func runRender(_ context.Context, a *app, opts options) error {
	key, err := parsePostRef(opts.post)
	if err != nil {
		return err
	}
	post := a.store.Post(key)
	event, err := post.LoadEvent()
	if err != nil {
		return fmt.Errorf("failed to load event for %s: %w", key, err)
	}
	template, err := render.LoadTemplate(a.cfg.Paths.Template)
	if err != nil {
		return err
	}

	postURL := models.PostURL(key.ShortCode)
	if stored, err := post.LoadPost(); err == nil && stored.PostURL != "" {
		postURL = stored.PostURL
	}

	path, err := render.Publish(a.cfg.Paths.EventsDir, template, *event, postURL)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runIndex(_ context.Context, a *app, opts options) error {
	page, err := listing.Index(a.cfg.Paths.EventsDir, opts.templatesDir, opts.when, time.Now(), a.logger)
	if err != nil {
		return err
	}
	if opts.out == "" {
		_, err = io.WriteString(os.Stdout, page)
		return err
	}
	return os.WriteFile(opts.out, []byte(page), 0o644)
}
