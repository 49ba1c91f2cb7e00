package httpapi

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/ambulance-dispatch/internal/clock"
	"github.com/example/ambulance-dispatch/internal/config"
	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/events"
	"github.com/example/ambulance-dispatch/internal/fleet"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/routing"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/tracking"
)

// NewServerFromConfig wires the service from cfg with in-memory fallbacks
// for every backend that is not configured or not reachable.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var closers []func(ctx context.Context) error

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, func(context.Context) error { return rdb.Close() })
	}

	var fleetIndex geo.Geo
	if rdb != nil {
		fleetIndex = geo.NewRedisGeo(rdb, cfg.RedisGeoKey, cfg.RedisGeoRadius, logger)
	} else {
		fleetIndex = geo.NewIndex()
	}

	store := openStore(cfg, logger, &closers)
	routes := buildRoutes(cfg, rdb, logger)

	wsreg := dispatch.NewWSRegistry(logger)
	sinks := []events.Sink{wsreg, events.NewRecorder(store), events.NewFleetSink(fleetIndex)}
	if len(cfg.KafkaBrokers) > 0 {
		ks := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, ks)
		closers = append(closers, func(context.Context) error { return ks.Close() })
	}
	bus := events.NewBus(cfg.EventBufferSize, logger, sinks...)
	bus.Start()
	// the bus must drain before the sinks behind it are closed
	closers = append(closers, bus.Close)

	trackerCfg := tracking.Config{
		SearchDelay:    cfg.SearchDelay,
		DepartDelay:    cfg.DepartDelay,
		TripDuration:   cfg.TripDuration,
		RouteTimeout:   cfg.RouteTimeout,
		InitialETA:     cfg.InitialETA,
		CandidateCount: cfg.CandidateCount,
		DefaultOrigin:  models.Coord{Lat: cfg.DefaultLat, Lon: cfg.DefaultLon},
	}
	generator := fleet.NewRandomGenerator(cfg.FleetSeed)
	sessions := tracking.NewManager(func(id string) *tracking.Tracker {
		return tracking.New(id, trackerCfg, tracking.Deps{
			Scheduler: clock.Real{},
			Routes:    routes,
			Fleet:     generator,
			Logger:    logger,
			Observers: []tracking.Observer{bus.Observer()},
		})
	})

	alerts := &dispatch.AlertService{Notifiers: buildNotifiers(cfg, logger, &closers), Logger: logger}

	s := NewServer(Options{
		Logger:      logger,
		Sessions:    sessions,
		Geo:         fleetIndex,
		Store:       store,
		Alerts:      alerts,
		WSReg:       wsreg,
		CORSOrigins: cfg.CORSOrigins,
		SpeedMps:    cfg.DefaultSpeedMps,
	})
	s.closers = closers
	return s
}

func openStore(cfg config.ServerConfig, logger *slog.Logger, closers *[]func(context.Context) error) storage.DispatchStore {
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err == nil {
			*closers = append(*closers, func(context.Context) error { return ps.Close() })
			return ps
		}
		logger.Error("postgres unavailable, falling back", "error", err)
	}
	if cfg.SQLitePath != "" {
		ss, err := storage.OpenSQLite(cfg.SQLitePath)
		if err == nil {
			*closers = append(*closers, func(context.Context) error { return ss.Close() })
			return ss
		}
		logger.Error("sqlite unavailable, falling back", "error", err)
	}
	logger.Info("using in-memory dispatch history")
	return storage.NewMemoryStore()
}

func buildRoutes(cfg config.ServerConfig, rdb *redis.Client, logger *slog.Logger) routing.Provider {
	straight := routing.StraightLine{}
	if cfg.OSRMEndpoint == "" {
		return straight
	}
	osrm := routing.NewOSRMClient(cfg.OSRMEndpoint)
	osrm.Profile = cfg.OSRMProfile

	var cache routing.Cache
	if rdb != nil {
		cache = routing.NewRedisCache(rdb, cfg.RouteCacheKey, cfg.RouteCacheTTL, logger)
	} else {
		cache = routing.NewMemoryCache(cfg.RouteCacheTTL)
	}
	return routing.Fallback{
		Primary:   routing.Cached{Provider: osrm, Cache: cache},
		Secondary: straight,
	}
}

func buildNotifiers(cfg config.ServerConfig, logger *slog.Logger, closers *[]func(context.Context) error) []dispatch.Notifier {
	var out []dispatch.Notifier
	if len(cfg.AlertWebhooks) > 0 {
		endpoints := make(map[models.EmergencyService]string, len(cfg.AlertWebhooks))
		for svc, url := range cfg.AlertWebhooks {
			endpoints[models.EmergencyService(svc)] = url
		}
		out = append(out, dispatch.NewWebhookNotifier(endpoints))
	}
	if cfg.FCMEndpoint != "" {
		out = append(out, dispatch.NewFCMNotifier(cfg.FCMEndpoint, cfg.FCMKey))
	}
	if cfg.AMQPURL != "" {
		n, err := dispatch.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Error("rabbitmq unavailable, alerts will not be published", "error", err)
		} else {
			out = append(out, n)
			*closers = append(*closers, func(context.Context) error { return n.Close() })
		}
	}
	if len(out) == 0 {
		out = append(out, dispatch.LogNotifier{Logger: logger})
	}
	return out
}
