package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneWithFlag_AddsKeyWithoutMutatingOriginal(t *testing.T) {
	original := map[string]interface{}{"a": 1}
	cloned := cloneWithFlag(original, "show_as_in_app", true)

	assert.Equal(t, 1, original["a"])
	_, hasFlag := original["show_as_in_app"]
	assert.False(t, hasFlag)

	assert.Equal(t, true, cloned["show_as_in_app"])
	assert.Equal(t, 1, cloned["a"])
}

func TestCloneWithFlag_NilInput(t *testing.T) {
	cloned := cloneWithFlag(nil, "show_as_in_app", true)
	assert.Equal(t, true, cloned["show_as_in_app"])
	assert.Len(t, cloned, 1)
}

type fakePushClient struct {
	sentBatches [][]string
	invalid     []string
}

func (f *fakePushClient) Send(ctx context.Context, playerIDs []string, heading, body string, data map[string]interface{}) ([]string, error) {
	f.sentBatches = append(f.sentBatches, playerIDs)
	return f.invalid, nil
}

func TestOneSignalBatchSize_Constant(t *testing.T) {
	assert.Equal(t, 2000, maxBatchSize)
}

func TestBodyPreviewLimit_Constant(t *testing.T) {
	assert.Equal(t, 100, bodyPreviewLimit)
}
