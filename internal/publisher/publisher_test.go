package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"wisefido-sleepstage/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleBatch() *EventBatch {
	return &EventBatch{
		RunID:    "4b1f3c1e-0d7a-4a51-9d4e-3f2b8a6c9e10",
		SeriesID: "s1",
		Events: []models.Event{
			{RowID: 0, SeriesID: "s1", Step: 30, Event: models.EventWakeup, Score: 1.0},
		},
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

type fakeMQTT struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
	err      error
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.topic, f.qos, f.retained, f.payload = topic, qos, retained, payload
	return f.err
}

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTT{}
	p := NewMQTTPublisher(client, "sleep", 1, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), sampleBatch()))
	assert.Equal(t, "sleep/s1/events", client.topic)
	assert.Equal(t, byte(1), client.qos)
	assert.True(t, client.retained)

	var got EventBatch
	require.NoError(t, json.Unmarshal(client.payload, &got))
	assert.Equal(t, *sampleBatch(), got)
}

func TestMQTTPublisher_Error(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	p := NewMQTTPublisher(client, "sleep", 0, zap.NewNop())
	assert.Error(t, p.Publish(context.Background(), sampleBatch()))
}

func TestStreamPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	p := NewStreamPublisher(client, "sleep:events:stream", zap.NewNop())
	require.NoError(t, p.Publish(ctx, sampleBatch()))

	msgs, err := client.XRange(ctx, "sleep:events:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got EventBatch
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, "s1", got.SeriesID)
	assert.Len(t, got.Events, 1)
}

func TestWebhookNotifier(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL+"/events", time.Second, 0, zap.NewNop())
	require.NoError(t, n.Publish(context.Background(), sampleBatch()))

	var got EventBatch
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, *sampleBatch(), got)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, time.Second, 3, zap.NewNop())
	n.httpClient.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	require.NoError(t, n.Publish(context.Background(), sampleBatch()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_ClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, time.Second, 3, zap.NewNop())
	err := n.Publish(context.Background(), sampleBatch())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, *EventBatch) error {
	f.calls++
	return errors.New("down")
}

func TestMulti_ContinuesAfterFailure(t *testing.T) {
	failing := &failingPublisher{}
	client := &fakeMQTT{}
	m := Multi{failing, NewMQTTPublisher(client, "sleep", 0, zap.NewNop())}

	err := m.Publish(context.Background(), sampleBatch())
	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, "sleep/s1/events", client.topic)

	assert.NoError(t, Multi{}.Publish(context.Background(), sampleBatch()))
}
