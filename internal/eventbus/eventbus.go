// Package eventbus fans chat events out over Redis pub/sub for the SSE and
// websocket planes, and mirrors the same events onto a durable Kafka topic
// for downstream consumers outside this service (analytics, audit, search
// indexing) that can tolerate seconds of lag. Push-notification dispatch
// itself stays on the synchronous in-process path (internal/notify), since
// a Request carries recipient/heading/body context no wire Envelope does;
// Kafka here is a durability mirror, not that dispatch queue.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/shopmindai/chatcore/internal/platform/metrics"
	"github.com/shopmindai/chatcore/pkg/chatevents"
)

// Bus publishes chat events over Redis and mirrors them onto Kafka for
// downstream consumers.
type Bus struct {
	redis   redis.UniversalClient
	writer  *kafka.Writer
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// New builds a Bus. writer may be nil, in which case Publish skips the
// Kafka leg (used by tests that only care about realtime fan-out).
func New(client redis.UniversalClient, writer *kafka.Writer, logger *logrus.Logger, m *metrics.Metrics) *Bus {
	return &Bus{redis: client, writer: writer, logger: logger, metrics: m}
}

// NewKafkaWriter builds the durable-mirror producer with the async-batched
// settings the fleet uses for high-volume topics.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
}

// ChannelForConversation names the Redis pub/sub channel a surface's
// conversation publishes events to.
func ChannelForConversation(surface, conversationID string) string {
	return fmt.Sprintf("chatcore:%s:%s", surface, conversationID)
}

// Publish sends ev on the surface/conversation channel and mirrors it onto
// the Kafka durability topic. Redis publish failures are logged and
// swallowed — a missed realtime push still allows the recipient to catch
// up via normal polling, so only the Kafka write is treated as worth
// retrying hardest.
func (b *Bus) Publish(ctx context.Context, surface, conversationID string, ev chatevents.Envelope) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.WithError(err).Error("eventbus: marshal envelope")
		return
	}

	channel := ChannelForConversation(surface, conversationID)
	if err := b.redis.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.WithFields(logrus.Fields{"channel": channel, "error": err}).Warn("eventbus: redis publish failed")
	}
	if b.metrics != nil {
		b.metrics.EventBusPublished.WithLabelValues(channel).Inc()
	}

	if b.writer == nil {
		return
	}
	msg := kafka.Message{
		Key:   []byte(conversationID),
		Value: data,
		Time:  time.Now(),
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		b.logger.WithError(err).Warn("eventbus: kafka write failed")
	}
}

// Subscription is a live pub/sub subscription; callers range over Events()
// until the context is cancelled, at which point the channel closes.
type Subscription struct {
	Events <-chan chatevents.Envelope
	cancel func()
}

// Close tears down the subscription.
func (s *Subscription) Close() { s.cancel() }

// Subscribe listens on the given surface/conversation channel, reconnecting
// with backoff on transient Redis errors until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, surface, conversationID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan chatevents.Envelope, 64)
	channel := ChannelForConversation(surface, conversationID)

	go func() {
		defer close(out)
		backoff := 200 * time.Millisecond
		const maxBackoff = 5 * time.Second

		for {
			if ctx.Err() != nil {
				return
			}
			if b.subscribeOnce(ctx, channel, out) {
				backoff = 200 * time.Millisecond
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()

	return &Subscription{Events: out, cancel: cancel}
}

// subscribeOnce runs one subscription attempt. Returns true if it ran
// cleanly until ctx cancellation (so the caller should not back off before
// retrying), false if it exited due to an error.
func (b *Bus) subscribeOnce(ctx context.Context, channel string, out chan<- chatevents.Envelope) bool {
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		b.logger.WithFields(logrus.Fields{"channel": channel, "error": err}).Warn("eventbus: subscribe failed")
		return false
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			var ev chatevents.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.WithError(err).Warn("eventbus: malformed event payload")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return true
			}
		}
	}
}

// ShouldEmitTyping applies a short-lived SET NX PX dedup key so a client
// holding a key down doesn't flood the bus with typing events; defaults to
// allowing the event if Redis is unreachable.
func (b *Bus) ShouldEmitTyping(ctx context.Context, conversationID string, userID int64, dedupWindow time.Duration) bool {
	key := fmt.Sprintf("chatcore:typing:%s:%d", conversationID, userID)
	ok, err := b.redis.SetNX(ctx, key, "1", dedupWindow).Result()
	if err != nil {
		b.logger.WithError(err).Warn("eventbus: typing dedup check failed, allowing")
		return true
	}
	return ok
}

// ClearTyping removes the typing dedup key, used by typing-stop so the very
// next keystroke immediately re-emits typing instead of waiting out the
// dedup window.
func (b *Bus) ClearTyping(ctx context.Context, conversationID string, userID int64) {
	key := fmt.Sprintf("chatcore:typing:%s:%d", conversationID, userID)
	if err := b.redis.Del(ctx, key).Err(); err != nil {
		b.logger.WithError(err).Warn("eventbus: clear typing dedup failed")
	}
}
