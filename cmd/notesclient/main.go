// Command notesclient keeps a local table of structured notes in sync with
// the pricing hub's price feed.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"notes-pricing/config"
	"notes-pricing/internal/logger"
	"notes-pricing/internal/metrics"
	"notes-pricing/internal/notification"
	"notes-pricing/internal/reconciler"
	"notes-pricing/internal/session"
	sqlitestore "notes-pricing/internal/store/sqlite"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logger.Init("notesclient", logger.ParseLevel(cfg.LogLevel))
	log.Println("[notesclient] starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.ClientMetricsAddr, prometheus.DefaultGatherer, health)
	metricsSrv.Start()

	// ---- Notes database ----
	if dir := filepath.Dir(cfg.NotesDB); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	store, err := sqlitestore.Open(cfg.NotesDB)
	if err != nil {
		log.Fatalf("[notesclient] sqlite init failed: %v", err)
	}
	defer store.Close()

	n, err := store.Count(ctx)
	if err != nil {
		log.Fatalf("[notesclient] count notes: %v", err)
	}
	if n == 0 {
		if err := store.Upsert(ctx, seedRecords()); err != nil {
			log.Fatalf("[notesclient] seed notes: %v", err)
		}
		log.Printf("[notesclient] seeded %d notes into %s", len(seedNotes), cfg.NotesDB)
	}
	records, err := store.LoadAll(ctx)
	if err != nil {
		log.Fatalf("[notesclient] load notes: %v", err)
	}
	health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)

	rec := reconciler.New()
	rec.LoadInitialSnapshot(records)
	log.Printf("[notesclient] loaded %d notes", len(records))

	// ---- Snapshot observer ----
	snaps, unsubscribe := rec.Subscribe()
	defer unsubscribe()
	go watchSnapshots(ctx, snaps, health)

	// ---- Hub session ----
	sess := session.New(session.Config{
		Transport:  &session.WSTransport{URL: cfg.HubURL},
		Sink:       rec,
		RetryDelay: cfg.ReconnectDelay,
		Metrics:    prom,
	})

	updates, unwatch := sess.Connectivity().Subscribe()
	defer unwatch()
	alerts := make(chan bool, 1)
	go func() {
		defer close(alerts)
		for up := range updates {
			health.SetHubConnected(up)
			select {
			case alerts <- up:
			case <-ctx.Done():
				return
			}
		}
	}()
	go notification.WatchConnectivity(ctx, alerts, notification.New(cfg.AlertWebhook))

	if err := sess.Start(); err != nil {
		log.Fatalf("[notesclient] session: %v", err)
	}
	log.Printf("[notesclient] connecting to %s", cfg.HubURL)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[notesclient] shutdown signal received, cleaning up...")
	sess.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	final := rec.Snapshot()
	if err := store.Upsert(shutdownCtx, final.Records); err != nil {
		log.Printf("[notesclient] WARNING: final prices not saved: %v", err)
	} else {
		log.Printf("[notesclient] saved %d notes (version %d)", len(final.Records), final.Version)
	}
	metricsSrv.Stop(shutdownCtx)

	if lat := sess.Latency().Summary(); lat.Count > 0 {
		log.Printf("[notesclient] delivery latency p50=%s p95=%s p99=%s max=%s (%d samples)",
			lat.P50, lat.P95, lat.P99, lat.Max, lat.Count)
	}
	log.Println("[notesclient] shutdown complete.")
}

// watchSnapshots logs each table update and flags crossed quotes.
func watchSnapshots(ctx context.Context, snaps <-chan reconciler.Snapshot, health *metrics.HealthStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if snap.Version == 0 {
				continue
			}
			health.SetLastBatchTime(time.Now())
			slog.Debug("notes updated", "version", snap.Version, "notes", len(snap.Records))
			if crossed := snap.Crossed(); len(crossed) > 0 {
				slog.Warn("crossed quotes", "version", snap.Version, "isins", crossed)
			}
		}
	}
}
