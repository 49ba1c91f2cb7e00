package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ambulance-dispatch/internal/config"
	"github.com/example/ambulance-dispatch/internal/events"
	"github.com/example/ambulance-dispatch/internal/logging"
	"github.com/example/ambulance-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_consumer_messages_consumed_total",
		Help: "Total dispatch event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	if err := loadDotEnv(); err != nil {
		slog.Warn("could not read .env", "error", err)
	}

	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger(cfg.LogLevel).With("component", "consumer")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	// allow overriding the metrics address for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	live := newLiveTracker(&redisAdapter{c: rc}, cfg.RedisLiveKey, cfg.Attempts, cfg.RetryDelay)

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var msg events.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil || msg.SessionID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err, "offset", m.Offset)
			continue
		}

		changed, err := live.apply(ctx, msg)
		if err != nil {
			redisErrors.Inc()
			logger.Error("redis update failed", "session_id", msg.SessionID, "vehicle_id", msg.VehicleID, "error", err)
			continue
		}
		if changed {
			redisUpdates.Inc()
		}
	}
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	Remove(ctx context.Context, key, member, metaKey string) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

func (r *redisAdapter) Remove(ctx context.Context, key, member, metaKey string) error {
	pipe := r.c.TxPipeline()
	pipe.ZRem(ctx, key, member)
	pipe.Del(ctx, metaKey)
	_, err := pipe.Exec(ctx)
	return err
}

func liveMetaKey(vehicleID string) string { return "ambulance:live:" + vehicleID }

// liveTracker keeps one live entry per moving ambulance. A vehicle is listed
// while its request is found or en route and withdrawn when the request
// arrives, is cancelled or is replaced.
type liveTracker struct {
	rc       RedisUpdater
	key      string
	attempts int
	delay    time.Duration
	vehicles map[string]string // session id -> listed vehicle id
}

func newLiveTracker(rc RedisUpdater, key string, attempts int, delay time.Duration) *liveTracker {
	return &liveTracker{rc: rc, key: key, attempts: attempts, delay: delay, vehicles: make(map[string]string)}
}

// apply reports whether Redis was changed.
func (l *liveTracker) apply(ctx context.Context, m events.Message) (bool, error) {
	listed, ok := l.vehicles[m.SessionID]
	moving := (m.Stage == models.StageFound || m.Stage == models.StageEnRoute) && m.VehicleID != "" && m.Position != nil

	if ok && (!moving || listed != m.VehicleID) {
		err := withRetry(ctx, l.attempts, l.delay, func() error {
			return l.rc.Remove(ctx, l.key, listed, liveMetaKey(listed))
		})
		if err != nil {
			return false, err
		}
		delete(l.vehicles, m.SessionID)
	}
	if !moving {
		return ok, nil
	}
	if err := updateRedisWithRetry(ctx, l.rc, l.key, m, l.attempts, l.delay); err != nil {
		return false, err
	}
	l.vehicles[m.SessionID] = m.VehicleID
	return true, nil
}

// updateRedisWithRetry writes the vehicle position and its request metadata.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, key string, m events.Message, attempts int, delay time.Duration) error {
	loc := &redis.GeoLocation{Longitude: m.Position.Lon, Latitude: m.Position.Lat, Name: m.VehicleID}
	meta := map[string]interface{}{
		"session_id": m.SessionID,
		"request_id": m.RequestID,
		"stage":      string(m.Stage),
		"step":       m.Step,
		"total":      m.TotalSteps,
		"updated_at": m.At.UnixMilli(),
	}
	if m.ETAMinutes != nil {
		meta["eta_minutes"] = *m.ETAMinutes
	}
	return withRetry(ctx, attempts, delay, func() error {
		if err := rc.GeoAdd(ctx, key, loc); err != nil {
			return err
		}
		return rc.HSet(ctx, liveMetaKey(m.VehicleID), meta)
	})
}

func withRetry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// loadDotEnv reads the given env files, .env by default. A missing file is
// not an error.
func loadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
