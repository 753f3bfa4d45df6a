package chatsurfaces

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCursorRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	cursor := EncodeCursor(now, 42)

	gotTime, gotID, ok := DecodeCursor(cursor)
	assert.True(t, ok)
	assert.True(t, now.Equal(gotTime))
	assert.Equal(t, int64(42), gotID)
}

func TestDecodeCursor_Empty(t *testing.T) {
	_, _, ok := DecodeCursor("")
	assert.False(t, ok)
}

func TestDecodeCursor_Malformed(t *testing.T) {
	_, _, ok := DecodeCursor("not-valid-base64!!!")
	assert.False(t, ok)
}
