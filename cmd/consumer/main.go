// Command consumer mirrors driver location reports from Kafka into the Redis
// geo index used by the nearest-driver dispatch policy.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/ingest"
	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/models"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	if len(cfg.KafkaBrokers) == 0 || cfg.RedisAddr == "" {
		logger.Error("consumer needs KAFKA_BROKERS and REDIS_ADDR")
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	index := geo.NewRedisGeo(rc, cfg.RedisGeoKey)

	go serveHealth(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := ingest.NewReader(cfg.KafkaBrokers, cfg.KafkaLocationTopic, cfg.KafkaGroup+"-locations")
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaLocationTopic, "brokers", cfg.KafkaBrokers)
	c := &ingest.Consumer{
		Reader: r,
		Handle: locationHandler(index, logger),
		Logger: logger,
	}
	if err := c.Run(ctx); err != nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down consumer")
}

func serveHealth(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server stopped", "error", err)
	}
}

// locationIndex is the subset of geo.Geo the consumer writes to.
type locationIndex interface {
	Upsert(ctx context.Context, d models.Driver) error
	Remove(ctx context.Context, driverID string) error
}

func locationHandler(index locationIndex, logger *slog.Logger) ingest.HandlerFunc {
	return func(ctx context.Context, m kafka.Message) error {
		msgsConsumed.Inc()
		var ev ingest.LocationEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.DriverID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid location message", "offset", m.Offset, "error", err)
			return ingest.ErrSkip
		}
		if err := applyLocation(ctx, index, ev); err != nil {
			redisErrors.Inc()
			return fmt.Errorf("update geo index for driver %s: %w", ev.DriverID, err)
		}
		redisUpdates.Inc()
		return nil
	}
}

// applyLocation keeps only sharing drivers with a known position indexed.
func applyLocation(ctx context.Context, index locationIndex, ev ingest.LocationEvent) error {
	if !ev.Available || ev.Location == nil {
		return index.Remove(ctx, ev.DriverID)
	}
	return index.Upsert(ctx, models.Driver{
		ID:        ev.DriverID,
		Available: true,
		Location:  ev.Location,
		UpdatedAt: ev.At,
	})
}
