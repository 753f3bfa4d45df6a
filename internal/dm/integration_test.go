//go:build integration

package dm_test

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

	"github.com/shopmindai/chatcore/internal/dm"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/internal/ratelimit"
)

// TestPipeline_Send_EndToEnd exercises the full send pipeline against real
// Postgres and Redis containers instead of fakes, so the dedup-by-clientMessageId
// lookup is verified against a real database rather than a mock.
func TestPipeline_Send_EndToEnd(t *testing.T) {
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
	defer pg.Terminate(ctx)

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer redisC.Terminate(ctx)

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

	require.NoError(t, db.AutoMigrate(
		&domain.DMConversation{}, &domain.DMParticipant{}, &domain.DMMessage{}, &domain.DMDelivery{},
	))

	redisHost, err := redisC.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)
	redisClient := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port())})
	defer redisClient.Close()

	logger := logrus.New()
	limiter := ratelimit.New(redisClient, logger, nil)
	bus := eventbus.New(redisClient, nil, logger, nil)

	pipeline := dm.New(db, nil, nil, limiter, bus, nil, dm.Config{
		Enabled:            true,
		MaxCiphertextBytes: 65536,
		BurstLimit:         10,
		BurstWindow:        time.Second,
		SustainedLimit:     100,
		SustainedWindow:    time.Minute,
	})

	sender := domain.UserID(1)
	recipient := domain.UserID(2)
	deviceID := domain.NewDeviceID()

	result, err := pipeline.Send(ctx, sender, recipient, deviceID, "aGVsbG8=", "olm-v1", "client-msg-1")
	require.NoError(t, err)
	require.False(t, result.Duplicate)

	again, err := pipeline.Send(ctx, sender, recipient, deviceID, "aGVsbG8=", "olm-v1", "client-msg-1")
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, result.Message.ID, again.Message.ID)
}
