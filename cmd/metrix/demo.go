package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/metrix"
	"git.home.luguber.info/inful/metrix/console"
	"git.home.luguber.info/inful/metrix/discard"
	"git.home.luguber.info/inful/metrix/internal/config"
	"git.home.luguber.info/inful/metrix/internal/logfields"
	"git.home.luguber.info/inful/metrix/natspub"
	"git.home.luguber.info/inful/metrix/promsink"
	"git.home.luguber.info/inful/metrix/statsd"
)

// runDemo builds the configured backend and pushes synthetic traffic through
// a registered instrument set.
func runDemo(ctx context.Context, cfg *config.Config, count int, pause time.Duration) error {
	slog.Info("Starting metrics demo",
		logfields.Backend(cfg.Backend),
		logfields.Count(count))

	switch cfg.Backend {
	case config.BackendConsole:
		sink := console.New(slog.Default())
		return runTraffic(ctx, metrix.New[console.Metric](sink).WithPrefix(cfg.Prefix), count, pause)

	case config.BackendDiscard:
		sink := discard.New()
		return runTraffic(ctx, metrix.New[discard.Metric](sink).WithPrefix(cfg.Prefix), count, pause)

	case config.BackendStatsd:
		var opts []statsd.Option
		if cfg.Statsd.PacketSize > 0 {
			opts = append(opts, statsd.WithPacketSize(cfg.Statsd.PacketSize))
		}
		sink, err := statsd.New(cfg.Statsd.Address, opts...)
		if err != nil {
			return fmt.Errorf("connect statsd: %w", err)
		}
		defer sink.Close()
		app := metrix.New[statsd.Metric](sink).WithPrefix(cfg.Prefix)
		defer app.FlushScope()
		return runTraffic(ctx, app, count, pause)

	case config.BackendNATS:
		sink, err := natspub.New(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer sink.Close()
		return runTraffic(ctx, metrix.New[natspub.Metric](sink).WithPrefix(cfg.Prefix), count, pause)

	case config.BackendPrometheus:
		sink := promsink.New(prometheus.NewRegistry())
		srv := serveScrapeEndpoint(cfg.Prometheus, sink.Registry())
		defer func() { _ = srv.Close() }()
		return runTraffic(ctx, metrix.New[promsink.Metric](sink).WithPrefix(cfg.Prefix), count, pause)

	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// runTraffic exercises every instrument kind through one registered set.
// The type parameter lets one traffic loop serve every backend.
func runTraffic[M any](ctx context.Context, app *metrix.AppMetrics[M], count int, pause time.Duration) error {
	set, err := metrix.Register(app, map[string]metrix.Decl{
		"requests": {Kind: metrix.KindMarker, Name: "requests"},
		"bytes":    {Kind: metrix.KindCounter, Name: "bytes_handled"},
		"queue":    {Kind: metrix.KindGauge, Name: "queue_depth"},
		"latency":  {Kind: metrix.KindTimer, Name: "handle_latency"},
	})
	if err != nil {
		return fmt.Errorf("register instruments: %w", err)
	}

	requests, _ := set.Marker("requests")
	bytes, _ := set.Counter("bytes")
	queue, _ := set.Gauge("queue")
	latency, _ := set.Timer("latency")

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			slog.Info("Demo interrupted", logfields.Count(i))
			return nil
		default:
		}

		requests.Mark()
		if err := bytes.Count(rand.Intn(4096)); err != nil {
			return err
		}
		if err := queue.Value(rand.Intn(32)); err != nil {
			return err
		}
		latency.Time(func() {
			time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
		})

		if pause > 0 {
			time.Sleep(pause)
		}
	}

	slog.Info("Demo completed", logfields.Count(count))
	return nil
}

// serveScrapeEndpoint exposes the registry on the configured listen address
// so the demo traffic can be scraped while it runs.
func serveScrapeEndpoint(cfg config.PrometheusConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Listen, Handler: mux}
	go func() {
		slog.Info("Serving scrape endpoint",
			logfields.Address(cfg.Listen),
			logfields.Path(cfg.Path))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("Scrape endpoint stopped", logfields.Error(err))
		}
	}()
	return srv
}
