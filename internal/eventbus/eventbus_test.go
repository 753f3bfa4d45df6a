package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelForConversation(t *testing.T) {
	assert.Equal(t, "chatcore:global:room-1", ChannelForConversation("global", "room-1"))
	assert.Equal(t, "chatcore:dm:abc-123", ChannelForConversation("dm", "abc-123"))
}
