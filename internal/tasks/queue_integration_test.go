//go:build integration

package tasks_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"

	"crcert/internal/platform/kafka"
	"crcert/internal/tasks"
)

func TestQueue_PublishAndRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.1.2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	const topic = "crcert-tasks-test"

	producer, err := kafka.NewClient([]string{broker})
	require.NoError(t, err)
	t.Cleanup(producer.Close)
	require.NoError(t, kafka.EnsureTopics(ctx, producer, topic))

	consumer, err := kafka.NewClient([]string{broker},
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup("crcert-tasks-test"),
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	type payload struct {
		BatchIndex int `json:"batchIndex"`
	}

	received := make(chan payload, 2)
	runner := tasks.New(consumer, topic, log)
	runner.Register("check-batch", func(_ context.Context, raw json.RawMessage) error {
		var p payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		received <- p
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = runner.Run(runCtx) }()

	publisher := tasks.New(producer, topic, log)
	require.NoError(t, publisher.Publish(ctx, "check-batch", payload{BatchIndex: 0}, 0))

	delay := 2 * time.Second
	publishedAt := time.Now()
	require.NoError(t, publisher.Publish(ctx, "check-batch", payload{BatchIndex: 1}, delay))

	waitFor := func() payload {
		select {
		case p := <-received:
			return p
		case <-time.After(30 * time.Second):
			t.Fatal("timed out waiting for task")
			return payload{}
		}
	}

	first := waitFor()
	assert.Equal(t, 0, first.BatchIndex)

	second := waitFor()
	assert.Equal(t, 1, second.BatchIndex)
	assert.GreaterOrEqual(t, time.Since(publishedAt), delay, "delayed task ran before its not-before time")
}

func TestQueue_UnknownTaskIsSkipped(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.1.2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	const topic = "crcert-tasks-unknown"

	producer, err := kafka.NewClient([]string{broker})
	require.NoError(t, err)
	t.Cleanup(producer.Close)
	require.NoError(t, kafka.EnsureTopics(ctx, producer, topic))

	consumer, err := kafka.NewClient([]string{broker},
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup("crcert-tasks-unknown"),
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	received := make(chan struct{}, 1)
	runner := tasks.New(consumer, topic, log)
	runner.Register("known", func(context.Context, json.RawMessage) error {
		received <- struct{}{}
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = runner.Run(runCtx) }()

	publisher := tasks.New(producer, topic, log)
	require.NoError(t, publisher.Publish(ctx, "unknown", map[string]string{"k": "v"}, 0))
	require.NoError(t, publisher.Publish(ctx, "known", map[string]string{"k": "v"}, 0))

	select {
	case <-received:
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for known task")
	}
}
