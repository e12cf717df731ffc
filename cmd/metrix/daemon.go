package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/metrix"
	"git.home.luguber.info/inful/metrix/aggregate"
	"git.home.luguber.info/inful/metrix/console"
	"git.home.luguber.info/inful/metrix/internal/config"
	"git.home.luguber.info/inful/metrix/internal/logfields"
	"git.home.luguber.info/inful/metrix/snapstore"
)

// runDaemon aggregates synthetic traffic in-process and publishes score
// snapshots on a schedule: each cycle persists the snapshot to the store and
// forwards derived statistics to the console sink. Editing the config file
// while running adjusts the publish interval without a restart.
func runDaemon(ctx context.Context, cfg *config.Config) error {
	agg := aggregate.New()
	app := metrix.New[*aggregate.Scoreboard](agg).WithPrefix(cfg.Prefix)

	store, err := snapstore.Open(cfg.Daemon.StorePath)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer store.Close()

	target := console.New(slog.Default())
	publisher := aggregate.NewPublisher[console.Metric](agg, target, true)

	publish := func() {
		scores := agg.Snapshot()
		batchID, err := store.Append(context.Background(), scores)
		if err != nil {
			slog.Error("Failed to persist snapshot", logfields.Error(err))
			return
		}
		published := publisher.PublishOnce()
		slog.Info("Published snapshot",
			logfields.BatchID(batchID),
			logfields.Count(published))
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	defer func() { _ = scheduler.Shutdown() }()

	interval := cfg.Daemon.PublishEvery()
	job, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(publish),
		gocron.WithName("metrix-publish"),
	)
	if err != nil {
		return fmt.Errorf("create publish job: %w", err)
	}
	scheduler.Start()
	slog.Info("Daemon started",
		logfields.Interval(interval),
		logfields.Path(cfg.Daemon.StorePath))

	watcher, err := watchConfig(CLI.Config)
	if err != nil {
		slog.Warn("Config watching disabled", logfields.Error(err))
	} else {
		defer watcher.Close()
	}

	trafficDone := make(chan struct{})
	go func() {
		defer close(trafficDone)
		generateTraffic(ctx, app)
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received")
			<-trafficDone
			publish()
			return nil
		case event, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if filepath.Base(event.Name) != filepath.Base(CLI.Config) {
				continue
			}
			reloaded, err := config.Load(CLI.Config)
			if err != nil {
				slog.Warn("Ignoring invalid config change", logfields.Error(err))
				continue
			}
			next := reloaded.Daemon.PublishEvery()
			if next == interval {
				continue
			}
			if _, err := scheduler.Update(job.ID(),
				gocron.DurationJob(next),
				gocron.NewTask(publish),
				gocron.WithName("metrix-publish"),
			); err != nil {
				slog.Warn("Failed to update publish interval", logfields.Error(err))
				continue
			}
			interval = next
			slog.Info("Publish interval updated", logfields.Interval(interval))
		case err, ok := <-watcherErrors(watcher):
			if ok && err != nil {
				slog.Warn("Config watcher error", logfields.Error(err))
			}
		}
	}
}

// generateTraffic drives all four instrument kinds until the context ends.
func generateTraffic(ctx context.Context, app *metrix.AppMetrics[*aggregate.Scoreboard]) {
	requests := app.Marker("requests")
	bytes := app.Counter("bytes_handled")
	queue := app.Gauge("queue_depth")
	latency := app.Timer("handle_latency")

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requests.Mark()
			_ = bytes.Count(rand.Intn(4096))
			_ = queue.Value(rand.Intn(32))
			_, _ = latency.IntervalUs(rand.Intn(5000))
		}
	}
}

// watchConfig watches the directory holding path; watching the file directly
// misses editors that replace it atomically.
func watchConfig(path string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}

// watcherEvents and watcherErrors tolerate a nil watcher so the daemon loop
// stays one select even when watching is disabled.
func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func watcherErrors(w *fsnotify.Watcher) chan error {
	if w == nil {
		return nil
	}
	return w.Errors
}
