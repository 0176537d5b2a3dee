// Command pricingserver generates simulated note prices and broadcasts them
// to websocket subscribers.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notes-pricing/config"
	"notes-pricing/internal/gateway"
	"notes-pricing/internal/logger"
	"notes-pricing/internal/metrics"
	"notes-pricing/internal/model"
	"notes-pricing/internal/pricing"
	storeredis "notes-pricing/internal/store/redis"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logger.Init("pricingserver", logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[pricingserver] %v", err)
	}
	log.Println("[pricingserver] starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, health)
	metricsSrv.Start()

	// ---- Hub & generator ----
	hub := gateway.NewHub(prom)
	universe := cfg.Universe()
	gen := pricing.NewGenerator(nil, nil)

	// ---- Delivery: in-process, or through Redis pub/sub ----
	var pub pricing.Publisher = hub
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		var err error
		rdb, err = storeredis.Connect(ctx, storeredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Fatalf("[pricingserver] %v", err)
		}
		defer rdb.Close()

		pub = storeredis.NewBatchPublisher(rdb, cfg.RedisChannel, prom)
		router := gateway.NewPubSubRouter(rdb, cfg.RedisChannel, hub, prom)
		relayErr := make(chan error, 1)
		go func() { relayErr <- router.Run(ctx) }()
		select {
		case <-router.Ready():
		case err := <-relayErr:
			log.Fatalf("[pricingserver] relay: %v", err)
		}
		go func() {
			if err := <-relayErr; err != nil {
				log.Printf("[pricingserver] relay stopped: %v", err)
			}
		}()
		health.StartLivenessChecker(ctx, rdb, nil, 10*time.Second)
		log.Printf("[pricingserver] relaying batches through redis channel %s", cfg.RedisChannel)
	} else {
		log.Println("[pricingserver] REDIS_ADDR not set, broadcasting in-process")
	}

	sched, err := pricing.NewScheduler(pricing.SchedulerConfig{
		Universe:      universe,
		MinInterval:   cfg.TickMinInterval,
		MaxInterval:   cfg.TickMaxInterval,
		FallbackDelay: cfg.TickFallback,
		MaxBatch:      cfg.TickMaxBatch,
	}, gen, &trackingPublisher{next: pub, health: health}, nil, nil, prom)
	if err != nil {
		log.Fatalf("[pricingserver] scheduler: %v", err)
	}

	// ---- HTTP ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, gateway.RouteConfig{
		Generator:     gen,
		Universe:      universe,
		AllowedOrigin: cfg.AllowedOrigin,
	})
	srv := &http.Server{
		Addr:              cfg.PricingAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[pricingserver] listening on %s (ws: /ws)", cfg.PricingAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[pricingserver] server error: %v", err)
		}
	}()

	sched.Start()
	slog.Info("pricing started", "instruments", len(universe), "redis", cfg.RedisAddr != "")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[pricingserver] shutdown signal received, cleaning up...")
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[pricingserver] shutdown complete.")
}

// trackingPublisher records the time of the last delivered batch for /healthz.
type trackingPublisher struct {
	next   pricing.Publisher
	health *metrics.HealthStatus
}

func (p *trackingPublisher) Publish(ctx context.Context, batch model.Batch) error {
	if err := p.next.Publish(ctx, batch); err != nil {
		return err
	}
	p.health.SetLastBatchTime(time.Now())
	return nil
}
