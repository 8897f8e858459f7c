package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/daemon"
	"git.home.luguber.info/inful/relforge/internal/events"
	"git.home.luguber.info/inful/relforge/internal/flight"
	"git.home.luguber.info/inful/relforge/internal/history"
	"git.home.luguber.info/inful/relforge/internal/logfields"
	"git.home.luguber.info/inful/relforge/internal/metrics"
	"git.home.luguber.info/inful/relforge/internal/pipeline"
	"git.home.luguber.info/inful/relforge/internal/publish"
	"git.home.luguber.info/inful/relforge/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"relforge.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		Ref     string `short:"r" help:"Revision reference to build (defaults to the trunk branch)"`
		Publish bool   `help:"Publish verified packages (requires publish configuration)"`
	} `cmd:"" help:"Run the pipeline once for a revision and print the summary"`

	Daemon struct {
	} `cmd:"" help:"Run as a service accepting webhooks, manual dispatches and schedules"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	History struct {
		Limit int    `short:"n" help:"Number of runs to show" default:"20"`
		Run   string `help:"Show the variant jobs of one run ID"`
	} `cmd:"" help:"Show recent pipeline runs from the history store"`

	Version struct {
	} `cmd:"" help:"Show version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	switch ctx.Command() {
	case "run":
		err = runOnce(CLI.Run.Ref, CLI.Run.Publish)
	case "daemon":
		err = runDaemon()
	case "init":
		err = config.Init(CLI.Config, CLI.Init.Force)
		if err == nil {
			fmt.Printf("Created configuration file: %s\n", CLI.Config)
		}
	case "history":
		err = runHistory(CLI.History.Limit, CLI.History.Run)
	case "version":
		fmt.Printf("relforge %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	}
	if err != nil {
		slog.Error("command failed", logfields.Error(err))
		os.Exit(1)
	}
}

// buildPipeline assembles a pipeline with the collaborators the
// configuration enables. The returned cleanup closes them.
func buildPipeline(ctx context.Context, cfg *config.Config, rec metrics.Recorder, withPublish bool) (*pipeline.Pipeline, func(), error) {
	opts := []pipeline.Option{pipeline.WithRecorder(rec)}
	var closers []func()

	if cfg.Store.Path != "" {
		store, err := history.NewStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open history store: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		opts = append(opts, pipeline.WithHistory(store))
	}

	if cfg.Events.Enabled {
		pub, err := events.NewNATSPublisher(cfg.Events)
		if err != nil {
			return nil, nil, fmt.Errorf("connect event publisher: %w", err)
		}
		closers = append(closers, func() { _ = pub.Close() })
		opts = append(opts, pipeline.WithEvents(pub))
	}

	if withPublish && cfg.Publish.Enabled {
		store, err := publish.NewMinioStore(ctx, cfg.Publish)
		if err != nil {
			return nil, nil, fmt.Errorf("connect object store: %w", err)
		}
		opts = append(opts, pipeline.WithPublisher(publish.NewPublisher(store, cfg.RetentionWindow())))
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return pipeline.New(cfg, opts...), cleanup, nil
}

func runOnce(ref string, withPublish bool) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	if withPublish && !cfg.Publish.Enabled {
		return fmt.Errorf("--publish requires publish.enabled in the configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := buildPipeline(ctx, cfg, metrics.NoopRecorder{}, withPublish)
	if err != nil {
		return err
	}
	defer cleanup()

	kind := pipeline.TriggerManual
	result, err := p.Execute(ctx, pipeline.Trigger{Kind: kind, Ref: ref})
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %s (%s @ %s)\n", result.RunID, result.Outcome, result.Ref, result.Revision)
	for _, job := range result.Jobs {
		fmt.Printf("  %-12s %s", job.Variant.Name, job.State)
		if job.Outputs != nil {
			fmt.Printf("  %s (%d bytes)", job.Outputs.PackageName, job.Outputs.PackageSize)
		}
		fmt.Println()
	}
	for i, pub := range result.Published {
		fmt.Println()
		fmt.Print(publish.SummaryMarkdown(result.Jobs[i].Variant.Name, result.Jobs[i].Outputs, pub, cfg.RetentionWindow()))
	}
	return nil
}

func runDaemon() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	var store *history.Store
	if cfg.Store.Path != "" {
		store, err = history.NewStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
	}

	var eventPub events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled {
		pub, err := events.NewNATSPublisher(cfg.Events)
		if err != nil {
			return fmt.Errorf("connect event publisher: %w", err)
		}
		defer pub.Close()
		eventPub = pub
	}

	factory := func(cfg *config.Config, flights *flight.Group) daemon.Dispatcher {
		opts := []pipeline.Option{
			pipeline.WithRecorder(recorder),
			pipeline.WithEvents(eventPub),
			pipeline.WithFlightGroup(flights),
		}
		if store != nil {
			opts = append(opts, pipeline.WithHistory(store))
		}
		if cfg.Publish.Enabled {
			s, err := publish.NewMinioStore(ctx, cfg.Publish)
			if err != nil {
				slog.Error("object store unavailable, publication disabled", logfields.Error(err))
			} else {
				opts = append(opts, pipeline.WithPublisher(publish.NewPublisher(s, cfg.RetentionWindow())))
			}
		}
		return pipeline.New(cfg, opts...)
	}

	d := daemon.New(cfg, CLI.Config, factory, store)
	d.SetMetricsRegistry(registry)
	return d.Run(ctx)
}

func runHistory(limit int, runID string) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is not configured; run history is disabled")
	}
	store, err := history.NewStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if runID != "" {
		jobs, err := store.JobsForRun(ctx, runID)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			fmt.Printf("%-12s %-12s %8dms  %s  %s\n",
				j.Variant, j.Status, j.Duration.Milliseconds(), j.PackageName, j.Error)
		}
		return nil
	}

	runs, err := store.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		finished := "-"
		if !r.Finished.IsZero() {
			finished = r.Finished.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-13s %-24s %-10s started=%s finished=%s\n",
			r.ID, r.Trigger, r.Ref, r.Outcome, r.Started.Format(time.RFC3339), finished)
	}
	return nil
}
