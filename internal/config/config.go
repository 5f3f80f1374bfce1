package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all tunable parameters for the API, dispatcher and
// location consumer processes. Values come from the environment (and an
// optional .env file) with defaults so the binaries run locally without
// excessive setup.
type Config struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MetricsAddr     string

	PGDSN         string
	RunMigrations bool

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers       []string
	KafkaLocationTopic string
	KafkaOrderTopic    string
	KafkaGroup         string

	FCMEndpoint string
	FCMKey      string

	StripeAPIKey    string
	PaymentCurrency string

	DispatchPolicy        string
	DispatchRadiusMeters  float64
	DispatchMaxCandidates int
	DispatchConcurrency   int
	DispatchSpeedMps      float64
	OSRMEndpoint          string
	ETACacheTTL           time.Duration

	InboxRequestTTL time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	LogLevel string
}

const (
	PolicyAll     = "all"
	PolicyNearest = "nearest"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("HTTP_READ_TIMEOUT", "5s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "10s")
	v.SetDefault("HTTP_IDLE_TIMEOUT", "120s")
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("METRICS_ADDR", ":2112")
	v.SetDefault("MIGRATE", false)
	v.SetDefault("REDIS_GEO_KEY", "drivers_geo")
	v.SetDefault("KAFKA_LOCATION_TOPIC", "driver-locations")
	v.SetDefault("KAFKA_ORDER_TOPIC", "order-changes")
	v.SetDefault("KAFKA_GROUP", "delivery-dispatch")
	v.SetDefault("PAYMENT_CURRENCY", "usd")
	v.SetDefault("DISPATCH_POLICY", PolicyAll)
	v.SetDefault("DISPATCH_RADIUS_METERS", 5000)
	v.SetDefault("DISPATCH_MAX_CANDIDATES", 20)
	v.SetDefault("DISPATCH_CONCURRENCY", 16)
	v.SetDefault("DISPATCH_SPEED_MPS", 8)
	v.SetDefault("ETA_CACHE_TTL", "1m")
	v.SetDefault("INBOX_REQUEST_TTL", "0s")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "1s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	var errs []error
	duration := func(key string) time.Duration {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return d
	}

	cfg := Config{
		HTTPAddr:              v.GetString("HTTP_ADDR"),
		ReadTimeout:           duration("HTTP_READ_TIMEOUT"),
		WriteTimeout:          duration("HTTP_WRITE_TIMEOUT"),
		IdleTimeout:           duration("HTTP_IDLE_TIMEOUT"),
		ShutdownTimeout:       duration("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsAddr:           v.GetString("METRICS_ADDR"),
		PGDSN:                 v.GetString("PG_DSN"),
		RunMigrations:         v.GetBool("MIGRATE"),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisGeoKey:           v.GetString("REDIS_GEO_KEY"),
		KafkaBrokers:          splitAndTrim(v.GetString("KAFKA_BROKERS")),
		KafkaLocationTopic:    v.GetString("KAFKA_LOCATION_TOPIC"),
		KafkaOrderTopic:       v.GetString("KAFKA_ORDER_TOPIC"),
		KafkaGroup:            v.GetString("KAFKA_GROUP"),
		FCMEndpoint:           v.GetString("FCM_ENDPOINT"),
		FCMKey:                v.GetString("FCM_KEY"),
		StripeAPIKey:          v.GetString("STRIPE_API_KEY"),
		PaymentCurrency:       strings.ToLower(v.GetString("PAYMENT_CURRENCY")),
		DispatchPolicy:        strings.ToLower(v.GetString("DISPATCH_POLICY")),
		DispatchRadiusMeters:  v.GetFloat64("DISPATCH_RADIUS_METERS"),
		DispatchMaxCandidates: v.GetInt("DISPATCH_MAX_CANDIDATES"),
		DispatchConcurrency:   v.GetInt("DISPATCH_CONCURRENCY"),
		DispatchSpeedMps:      v.GetFloat64("DISPATCH_SPEED_MPS"),
		OSRMEndpoint:          v.GetString("OSRM_ENDPOINT"),
		ETACacheTTL:           duration("ETA_CACHE_TTL"),
		InboxRequestTTL:       duration("INBOX_REQUEST_TTL"),
		OutboxPollInterval:    duration("OUTBOX_POLL_INTERVAL"),
		OutboxBatchSize:       v.GetInt("OUTBOX_BATCH_SIZE"),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
	}

	if cfg.DispatchPolicy != PolicyAll && cfg.DispatchPolicy != PolicyNearest {
		errs = append(errs, fmt.Errorf("DISPATCH_POLICY must be %q or %q", PolicyAll, PolicyNearest))
	}
	if cfg.DispatchConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_CONCURRENCY must be > 0"))
	}
	if cfg.DispatchMaxCandidates < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_CANDIDATES must be >= 0"))
	}
	if cfg.InboxRequestTTL < 0 {
		errs = append(errs, fmt.Errorf("INBOX_REQUEST_TTL must be >= 0"))
	}
	if cfg.OutboxPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("OUTBOX_POLL_INTERVAL must be > 0"))
	}
	if cfg.OutboxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("OUTBOX_BATCH_SIZE must be > 0"))
	}
	// split processes share state only through Postgres and Redis
	if len(cfg.KafkaBrokers) > 0 {
		if cfg.PGDSN == "" {
			errs = append(errs, fmt.Errorf("PG_DSN is required when KAFKA_BROKERS is set"))
		}
		if cfg.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required when KAFKA_BROKERS is set"))
		}
	}

	return cfg, errors.Join(errs...)
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
