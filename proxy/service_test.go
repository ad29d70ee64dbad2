package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakml/gradient/agent"
	"github.com/peakml/gradient/pkg/mqtt/mocks"
)

func TestCreateChunks(t *testing.T) {
	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i % 251)
	}

	chunks := createChunks(data, "registry.local/trainer:v1", 1000)
	require.Len(t, chunks, 3)

	var reassembled []byte
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIdx)
		assert.Equal(t, 3, chunk.TotalChunks)
		assert.Equal(t, "registry.local/trainer:v1", chunk.PackageURL)
		assert.NoError(t, chunk.Validate())
		reassembled = append(reassembled, chunk.Data...)
	}
	assert.Equal(t, data, reassembled)
	assert.Len(t, chunks[2].Data, 500)
}

func TestSubscribeQueuesRequests(t *testing.T) {
	pubsub := mocks.NewPubSub()
	svc := NewService(pubsub, "chan-1", RegistryConfig{ChunkSize: 1000}, slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.Subscribe(ctx))

	topic := fmt.Sprintf(subTopicTemplate, "chan-1")
	require.NoError(t, pubsub.Publish(ctx, topic, map[string]any{
		"package_url": "registry.local/trainer:v1",
	}))

	select {
	case got := <-svc.PackageChan():
		assert.Equal(t, "registry.local/trainer:v1", got)
	default:
		t.Fatal("expected a queued package request")
	}

	assert.Error(t, pubsub.Publish(ctx, topic, map[string]any{}))
}

func TestStreamMQTT(t *testing.T) {
	pubsub := mocks.NewPubSub()
	svc := NewService(pubsub, "chan-1", RegistryConfig{ChunkSize: 1000}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- svc.StreamMQTT(ctx)
	}()

	for i := range 2 {
		svc.dataChan <- agent.ChunkPayload{
			PackageURL:  "registry.local/trainer:v1",
			ChunkIdx:    i,
			TotalChunks: 2,
			Data:        []byte{byte(i)},
		}
	}

	topic := fmt.Sprintf(pubTopicTemplate, "chan-1")
	require.Eventually(t, func() bool {
		return len(pubsub.Published(topic)) == 2
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
