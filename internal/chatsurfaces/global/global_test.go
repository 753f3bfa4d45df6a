//go:build integration

package global_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/cache"
	"github.com/shopmindai/chatcore/internal/chatsurfaces/global"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/internal/ratelimit"
)

// newTestSurface spins up real Postgres and Redis containers and returns a
// Surface wired against them, so the clientMessageId dedup path and the
// Redis-backed online count exercise the databases' actual behavior rather
// than a mock that can't reproduce unique-violation or SETNX semantics.
func newTestSurface(t *testing.T) (*global.Surface, *gorm.DB) {
	t.Helper()
	ctx := context.Background()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "chatcore",
				"POSTGRES_PASSWORD": "chatcore",
				"POSTGRES_DB":       "chatcore",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pg.Terminate(ctx) })

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { redisC.Terminate(ctx) })

	pgHost, err := pg.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("host=%s port=%s user=chatcore password=chatcore dbname=chatcore sslmode=disable", pgHost, pgPort.Port())

	var db *gorm.DB
	require.Eventually(t, func() bool {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		return err == nil
	}, 30*time.Second, time.Second)

	require.NoError(t, db.AutoMigrate(&domain.GlobalChatMessage{}, &domain.GlobalChatViewer{}))

	redisHost, err := redisC.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)
	redisClient := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port())})
	t.Cleanup(func() { redisClient.Close() })

	logger := logrus.New()
	limiter := ratelimit.New(redisClient, logger, nil)
	bus := eventbus.New(redisClient, nil, logger, nil)
	readThrough := cache.New(redisClient, logger, nil)

	surface := global.New(db, limiter, bus, nil, readThrough, nil, global.Config{
		BurstLimit:      10,
		BurstWindow:     time.Second,
		SustainedLimit:  1000,
		SustainedWindow: time.Minute,
	})
	return surface, db
}

func TestSurface_Post_DedupesByClientMessageID(t *testing.T) {
	surface, _ := newTestSurface(t)
	ctx := context.Background()
	sender := domain.UserID(1)
	clientMessageID := "client-msg-1"

	first, err := surface.Post(ctx, sender, "hello room", &clientMessageID, nil)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	again, err := surface.Post(ctx, sender, "hello room", &clientMessageID, nil)
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, first.Message.ID, again.Message.ID)
}

func TestSurface_Post_RejectsReplyToMissingMessage(t *testing.T) {
	surface, _ := newTestSurface(t)
	ctx := context.Background()

	missing := domain.MessageID(999999)
	_, err := surface.Post(ctx, domain.UserID(1), "reply to nothing", nil, &missing)
	require.ErrorIs(t, err, domain.ErrReplyNotFound)
}

func TestSurface_OnlineCount_CachesAcrossCalls(t *testing.T) {
	surface, db := newTestSurface(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&domain.GlobalChatViewer{UserID: domain.UserID(1), LastSeenAt: time.Now()}).Error)

	count, err := surface.OnlineCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// A viewer added after the first read should not change the count until
	// the cache entry's TTL expires, proving OnlineCount is actually served
	// from the shared cache rather than re-querying every call.
	require.NoError(t, db.Create(&domain.GlobalChatViewer{UserID: domain.UserID(2), LastSeenAt: time.Now()}).Error)

	cached, err := surface.OnlineCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, cached)

	time.Sleep(6 * time.Second)

	refreshed, err := surface.OnlineCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, refreshed)
}
