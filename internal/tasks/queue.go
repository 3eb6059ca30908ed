// Package tasks is the delayed task queue the reconciliation producer and
// consumer are decoupled through. Tasks are kafka records carrying a
// not-before timestamp; the runner holds a record until its time arrives, so
// batch N starts roughly N check-intervals after batch 0.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const headerNotBefore = "not-before-unix-ms"

// Handler processes one task payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Queue publishes and runs delayed tasks over a kafka topic.
type Queue struct {
	client *kgo.Client
	topic  string
	log    *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

type taskEnvelope struct {
	Task    string          `json:"task"`
	Payload json.RawMessage `json:"payload"`
}

func New(client *kgo.Client, topic string, log *slog.Logger) *Queue {
	return &Queue{
		client:   client,
		topic:    topic,
		log:      log,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task name. Must be called before Run.
func (q *Queue) Register(task string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[task] = handler
}

// Publish enqueues a task to run no earlier than now+delay.
func (q *Queue) Publish(ctx context.Context, task string, payload any, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	value, err := json.Marshal(taskEnvelope{Task: task, Payload: body})
	if err != nil {
		return fmt.Errorf("marshal task envelope: %w", err)
	}

	notBefore := time.Now().Add(delay).UnixMilli()
	record := &kgo.Record{
		Topic: q.topic,
		Key:   []byte(task),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: headerNotBefore, Value: []byte(strconv.FormatInt(notBefore, 10))},
		},
	}
	if err := q.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish task %s: %w", task, err)
	}
	return nil
}

// Run consumes tasks until the context is cancelled. Handler errors are
// logged, not retried: a failed status check batch is simply picked up by
// the next scheduled reconciliation.
func (q *Queue) Run(ctx context.Context) error {
	for {
		fetches := q.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			q.log.Error("task fetch failed", "topic", topic, "partition", partition, "err", err)
		})

		var stop bool
		fetches.EachRecord(func(record *kgo.Record) {
			if stop {
				return
			}
			if err := q.process(ctx, record); err != nil {
				stop = ctx.Err() != nil
			}
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (q *Queue) process(ctx context.Context, record *kgo.Record) error {
	if err := q.waitUntilDue(ctx, record); err != nil {
		return err
	}

	var envelope taskEnvelope
	if err := json.Unmarshal(record.Value, &envelope); err != nil {
		q.log.Error("malformed task record", "err", err)
		return nil
	}

	q.mu.RLock()
	handler, ok := q.handlers[envelope.Task]
	q.mu.RUnlock()
	if !ok {
		q.log.Warn("no handler registered for task", "task", envelope.Task)
		return nil
	}

	if err := handler(ctx, envelope.Payload); err != nil {
		q.log.Error("task handler failed", "task", envelope.Task, "err", err)
	}
	return nil
}

func (q *Queue) waitUntilDue(ctx context.Context, record *kgo.Record) error {
	for _, header := range record.Headers {
		if header.Key != headerNotBefore {
			continue
		}
		notBeforeMs, err := strconv.ParseInt(string(header.Value), 10, 64)
		if err != nil {
			return nil
		}
		wait := time.Until(time.UnixMilli(notBeforeMs))
		if wait <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			return nil
		}
	}
	return nil
}
