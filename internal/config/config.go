package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	RedisAddr      string
	RedisPassword  string
	RedisGeoKey    string
	RedisGeoRadius float64
	RouteCacheKey  string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN      string
	SQLitePath string

	OSRMEndpoint  string
	OSRMProfile   string
	RouteCacheTTL time.Duration

	SearchDelay    time.Duration
	DepartDelay    time.Duration
	TripDuration   time.Duration
	RouteTimeout   time.Duration
	InitialETA     int
	CandidateCount int
	DefaultLat     float64
	DefaultLon     float64
	FleetSeed      int64

	EventBufferSize int
	DefaultSpeedMps float64

	AlertWebhooks map[string]string
	FCMEndpoint   string
	FCMKey        string
	AMQPURL       string
	AMQPExchange  string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		CORSOrigins:     []string{"*"},
		RedisGeoKey:     "ambulances_geo",
		RedisGeoRadius:  10000,
		RouteCacheKey:   "route:",
		KafkaTopic:      "dispatch-events",
		OSRMProfile:     "driving",
		RouteCacheTTL:   10 * time.Minute,
		SearchDelay:     5 * time.Second,
		DepartDelay:     3 * time.Second,
		TripDuration:    10 * time.Minute,
		RouteTimeout:    15 * time.Second,
		InitialETA:      10,
		CandidateCount:  5,
		DefaultLat:      28.6139,
		DefaultLon:      77.2090,
		EventBufferSize: 1024,
		DefaultSpeedMps: 8,
		AMQPExchange:    "emergency_topic",
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitAndTrim(v)
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setFloatFromEnv(&cfg.RedisGeoRadius, "REDIS_GEO_RADIUS_M", &errs)
	setStringFromEnv(&cfg.RouteCacheKey, "ROUTE_CACHE_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.SQLitePath, "SQLITE_PATH")

	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))
	setStringFromEnv(&cfg.OSRMProfile, "OSRM_PROFILE")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	setDurationFromEnv(&cfg.SearchDelay, "DISPATCH_SEARCH_DELAY", &errs)
	setDurationFromEnv(&cfg.DepartDelay, "DISPATCH_DEPART_DELAY", &errs)
	setDurationFromEnv(&cfg.TripDuration, "DISPATCH_TRIP_DURATION", &errs)
	setDurationFromEnv(&cfg.RouteTimeout, "DISPATCH_ROUTE_TIMEOUT", &errs)
	setIntFromEnv(&cfg.InitialETA, "DISPATCH_INITIAL_ETA_MINUTES", &errs)
	setIntFromEnv(&cfg.CandidateCount, "DISPATCH_CANDIDATES", &errs)
	setFloatFromEnv(&cfg.DefaultLat, "DISPATCH_DEFAULT_LAT", &errs)
	setFloatFromEnv(&cfg.DefaultLon, "DISPATCH_DEFAULT_LON", &errs)
	if v := os.Getenv("FLEET_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid FLEET_SEED: %w", err))
		} else {
			cfg.FleetSeed = seed
		}
	}

	setIntFromEnv(&cfg.EventBufferSize, "EVENT_BUFFER_SIZE", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "NEARBY_SPEED_MPS", &errs)

	cfg.AlertWebhooks = map[string]string{}
	for _, svc := range []string{"police", "ambulance", "firebrigade"} {
		if v := strings.TrimSpace(os.Getenv("ALERT_WEBHOOK_" + strings.ToUpper(svc))); v != "" {
			cfg.AlertWebhooks[svc] = v
		}
	}
	cfg.FCMEndpoint = strings.TrimSpace(os.Getenv("FCM_ENDPOINT"))
	cfg.FCMKey = os.Getenv("FCM_KEY")
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.CandidateCount <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_CANDIDATES must be > 0"))
	}
	if cfg.TripDuration <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_TRIP_DURATION must be > 0"))
	}
	if cfg.RouteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_ROUTE_TIMEOUT must be > 0"))
	}
	if cfg.DefaultLat < -90 || cfg.DefaultLat > 90 || cfg.DefaultLon < -180 || cfg.DefaultLon > 180 {
		errs = append(errs, fmt.Errorf("DISPATCH_DEFAULT_LAT/LON out of range"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the dispatch-events consumer that keeps the live
// ambulance positions in Redis.
type ConsumerConfig struct {
	MetricsAddr  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	RedisAddr    string
	RedisLiveKey string
	Attempts     int
	RetryDelay   time.Duration
	LogLevel     string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "dispatch-events",
		KafkaGroup:   "ambulance-live-consumer",
		RedisAddr:    "localhost:6379",
		RedisLiveKey: "ambulances_live",
		Attempts:     3,
		RetryDelay:   200 * time.Millisecond,
		LogLevel:     "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setStringFromEnv(&cfg.RedisLiveKey, "REDIS_LIVE_KEY")
	setIntFromEnv(&cfg.Attempts, "REDIS_RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "REDIS_RETRY_DELAY", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must name at least one broker"))
	}
	if cfg.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("REDIS_RETRY_ATTEMPTS must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
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
