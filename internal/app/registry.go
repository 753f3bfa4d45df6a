// Package app wires every component this service owns into a single
// Registry, the same role the teacher's cmd/server/main.go played before
// its construction logic grew past what a main function should hold.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/authtoken"
	"github.com/shopmindai/chatcore/internal/cache"
	"github.com/shopmindai/chatcore/internal/chatsurfaces/global"
	"github.com/shopmindai/chatcore/internal/chatsurfaces/private"
	"github.com/shopmindai/chatcore/internal/chatsurfaces/trivia"
	"github.com/shopmindai/chatcore/internal/config"
	"github.com/shopmindai/chatcore/internal/dm"
	"github.com/shopmindai/chatcore/internal/e2ee"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/internal/group"
	"github.com/shopmindai/chatcore/internal/httpapi"
	"github.com/shopmindai/chatcore/internal/mute"
	"github.com/shopmindai/chatcore/internal/notify"
	"github.com/shopmindai/chatcore/internal/platform/logging"
	"github.com/shopmindai/chatcore/internal/platform/metrics"
	"github.com/shopmindai/chatcore/internal/presence"
	"github.com/shopmindai/chatcore/internal/ratelimit"
	"github.com/shopmindai/chatcore/internal/relationships"
	"github.com/shopmindai/chatcore/internal/sse"
	"github.com/shopmindai/chatcore/internal/userlookup"
	"github.com/shopmindai/chatcore/internal/wsrelay"
)

// Registry holds every constructed component plus the infrastructure
// handles (db, redis, kafka) cmd/server needs to close on shutdown.
type Registry struct {
	Config *config.Config
	Logger *logrus.Logger
	Audit  *logrus.Logger

	DB    *gorm.DB
	Redis redis.UniversalClient
	kafka *kafka.Writer

	Metrics *metrics.Metrics
	Bus     *eventbus.Bus
	Tokens  *authtoken.RedisVerifier
	WSHub   *wsrelay.Hub
	wsStop  chan struct{}
	SSE     *sse.Server
	Router  *httpapi.Dependencies
}

// New constructs every component wired to cfg and returns the assembled
// Registry. The caller is responsible for calling Close on shutdown.
func New(cfg *config.Config) (*Registry, error) {
	logger := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	audit := logging.NewAuditLogger(logging.Options{
		JSON:     true,
		AuditFile: cfg.AuditLogFile,
	})

	// Registered against the default registerer (not a fresh
	// prometheus.NewRegistry()) so the promhttp.Handler() the router
	// mounts at /metrics serves these collectors without extra wiring.
	m := metrics.New(prometheus.DefaultRegisterer)

	db, err := openPostgres(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: open postgres: %w", err)
	}

	redisClient := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.RedisAddrs,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	var kafkaWriter = eventbus.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaEventTopic)
	bus := eventbus.New(redisClient, kafkaWriter, logger, m)

	rel := relationships.New(db)
	mutes := mute.New(db)
	limiter := ratelimit.New(redisClient, logger, m)
	readThrough := cache.New(redisClient, logger, m)

	push := notify.NewOneSignalClient(cfg.OneSignalAppID, cfg.OneSignalAPIKey)
	realtime := notify.NewEventbusRealtimeClient(bus)
	dispatcher := notify.New(db, mutes, push, realtime, logger, m, cfg.NotificationActiveWindow)

	users := userlookup.New(cfg.UserServiceURL, cfg.UserServiceTimeout)

	globalSurface := global.New(db, limiter, bus, dispatcher, readThrough, users, global.Config{
		BurstLimit:      cfg.GlobalRateLimit.BurstLimit,
		BurstWindow:     cfg.GlobalRateLimit.BurstWindow,
		SustainedLimit:  cfg.GlobalRateLimit.SustainedLimit,
		SustainedWindow: cfg.GlobalRateLimit.SustainedWindow,
		MaxMessageLength: cfg.MaxMessageLength,
		RetentionDays:    cfg.GlobalChatRetentionDays,
	})

	// Always constructed, like dm/group: the package has no standalone
	// on/off switch, only the draw-time activity window (IsActive), so
	// cfg.EnableTriviaLive is carried as a route-level toggle instead
	// (see registerTriviaRoutes' feature-disabled guard).
	triviaSurface := trivia.New(db, limiter, bus, dispatcher, trivia.Config{
		BurstLimit:       cfg.TriviaRateLimit.BurstLimit,
		BurstWindow:      cfg.TriviaRateLimit.BurstWindow,
		SustainedLimit:   cfg.TriviaRateLimit.SustainedLimit,
		SustainedWindow:  cfg.TriviaRateLimit.SustainedWindow,
		MaxMessageLength: cfg.MaxMessageLength,
		Schedule:         trivia.FixedHourSchedule{Hour: cfg.TriviaDrawHourUTC, Minute: cfg.TriviaDrawMinuteUTC},
		Window:           trivia.Window{PreWindow: cfg.TriviaPreWindow, PostWindow: cfg.TriviaPostWindow},
	})

	privateSurface := private.New(db, rel, rel, mutes, limiter, bus, dispatcher, private.Config{
		BurstLimit:        cfg.PrivateRateLimit.BurstLimit,
		BurstWindow:       cfg.PrivateRateLimit.BurstWindow,
		SustainedLimit:    cfg.PrivateRateLimit.SustainedLimit,
		SustainedWindow:   cfg.PrivateRateLimit.SustainedWindow,
		MaxMessageLength:  cfg.MaxMessageLength,
		TypingDedupWindow: cfg.TypingDedupWindow,
	})

	dmPipeline := dm.New(db, rel, rel, limiter, bus, dispatcher, dm.Config{
		Enabled:            true,
		MaxCiphertextBytes: cfg.MaxCiphertextBytes,
		BurstLimit:         cfg.DMRateLimit.BurstLimit,
		BurstWindow:        cfg.DMRateLimit.BurstWindow,
		SustainedLimit:     cfg.DMRateLimit.SustainedLimit,
		SustainedWindow:    cfg.DMRateLimit.SustainedWindow,
	})

	groupPipeline := group.New(db, rel, limiter, bus, dispatcher, group.Config{
		Enabled:            cfg.EnableGroupChat,
		DefaultMaxMembers:  cfg.MaxGroupMembers,
		MaxCiphertextBytes: cfg.MaxCiphertextBytes,
		BurstLimit:         cfg.GroupRateLimit.BurstLimit,
		BurstWindow:        cfg.GroupRateLimit.BurstWindow,
		SustainedLimit:     cfg.GroupRateLimit.SustainedLimit,
		SustainedWindow:    cfg.GroupRateLimit.SustainedWindow,
	})

	e2eeRegistry := e2ee.New(db, bus, rel, logger, e2ee.Config{
		AlertThreshold: int64(cfg.IdentityAlertThreshold),
		BlockThreshold: int64(cfg.IdentityBlockThreshold),
	})

	presenceTracker := presence.New(db, rel)

	tokens := authtoken.NewRedisVerifier(redisClient)

	sseServer := sse.New(bus, presenceTracker, tokens, rel, logger, sse.Config{
		HeartbeatInterval:     cfg.SSEKeepaliveInterval,
		AllowQueryParamToken:  cfg.SSEAllowQueryParamToken,
		MaxConnectionsPerUser: cfg.SSEMaxConnectionsPerUser,
	})

	var wsHub *wsrelay.Hub
	var wsStop chan struct{}
	if cfg.EnableWebsocket {
		wsHub = wsrelay.New(logger)
		wsStop = make(chan struct{})
		go wsHub.Run(wsStop)
	}

	deps := httpapi.Dependencies{
		Global:   globalSurface,
		Trivia:   triviaSurface,
		Private:  privateSurface,
		DM:       dmPipeline,
		Group:    groupPipeline,
		E2EE:     e2eeRegistry,
		Presence: presenceTracker,
		Mutes:    mutes,
		Admins:   rel,
		SSE:      sseServer,
		WSHub:    wsHub,
		Bus:      bus,
		Tokens:        tokens,
		Logger:        logger,
		Metrics:       m,
		TriviaEnabled: cfg.EnableTriviaLive,
	}

	return &Registry{
		Config:  cfg,
		Logger:  logger,
		Audit:   audit,
		DB:      db,
		Redis:   redisClient,
		kafka:   kafkaWriter,
		Metrics: m,
		Bus:     bus,
		Tokens:  tokens,
		WSHub:   wsHub,
		wsStop:  wsStop,
		SSE:     sseServer,
		Router:  &deps,
	}, nil
}

func openPostgres(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.PostgresMaxOpen)
	sqlDB.SetMaxIdleConns(cfg.PostgresMaxIdle)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Close releases every long-lived handle the Registry opened. Safe to
// call even if New returned early with a partial Registry.
func (r *Registry) Close(ctx context.Context) error {
	if r.wsStop != nil {
		close(r.wsStop)
	}
	if r.kafka != nil {
		_ = r.kafka.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.DB != nil {
		if sqlDB, err := r.DB.DB(); err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}
