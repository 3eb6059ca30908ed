// Package events publishes integration events. Publishing is best-effort
// from the lifecycle's point of view: callers log failures and continue.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaBus writes events to a single topic keyed by event name; consumers
// route on the key.
type KafkaBus struct {
	client *kgo.Client
	topic  string
}

func NewKafkaBus(client *kgo.Client, topic string) *KafkaBus {
	return &KafkaBus{client: client, topic: topic}
}

func (b *KafkaBus) Publish(ctx context.Context, event string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event, err)
	}

	record := &kgo.Record{
		Topic: b.topic,
		Key:   []byte(event),
		Value: value,
	}
	if err := b.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish event %s: %w", event, err)
	}
	return nil
}
