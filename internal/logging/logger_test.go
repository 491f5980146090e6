package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "info").With("component", "feed")

	log.Info(context.Background(), "home feed loaded", "posts", 4)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "home feed loaded", rec["msg"])
	assert.Equal(t, "feed", rec["component"])
	assert.EqualValues(t, 4, rec["posts"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text", "warn")

	log.Info(context.Background(), "dropped")
	assert.Zero(t, buf.Len())

	log.Error(context.Background(), "kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestRequestIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "debug")

	ctx := WithRequestID(context.Background(), "req-1")
	log.Debug(ctx, "handled")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "req-1", RequestID(ctx))
}
