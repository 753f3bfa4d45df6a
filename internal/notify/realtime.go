package notify

import (
	"context"
	"fmt"

	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/pkg/chatevents"
)

// eventbusRealtimeClient publishes in-app notifications on a per-user
// channel the SSE and websocket planes subscribe to directly, mirroring
// the Pusher-shaped "private per-user channel" model the fleet uses for
// status/notification pushes.
type eventbusRealtimeClient struct {
	bus *eventbus.Bus
}

// NewEventbusRealtimeClient adapts an eventbus.Bus into a RealtimeClient.
func NewEventbusRealtimeClient(bus *eventbus.Bus) RealtimeClient {
	return &eventbusRealtimeClient{bus: bus}
}

// PublishNotification implements RealtimeClient.
func (c *eventbusRealtimeClient) PublishNotification(ctx context.Context, recipientID domain.UserID, heading, body string, data map[string]interface{}) error {
	payload := map[string]interface{}{
		"heading": heading,
		"body":    body,
		"data":    data,
	}
	env := chatevents.NewEnvelope(chatevents.Kind("notification"), "notification", payload)
	c.bus.Publish(ctx, "notification", fmt.Sprintf("user:%d", recipientID), env)
	return nil
}
