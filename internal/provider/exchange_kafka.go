package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaExchanger implements the correlated request/response round trip over
// the registry bridge topics: each request is produced with a correlation
// id, and a background consumer on the reply topic completes the matching
// waiter.
type KafkaExchanger struct {
	client        *kgo.Client
	requestTopics map[string]string
	replyTopic    string
	log           *slog.Logger

	mu      sync.Mutex
	pending map[string]chan exchangeReply
}

type exchangeEnvelope struct {
	CorrelationID string          `json:"correlationId"`
	ReplyTo       string          `json:"replyTo"`
	Payload       json.RawMessage `json:"payload"`
}

type replyEnvelope struct {
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
}

type exchangeReply struct {
	payload []byte
	err     error
}

// NewKafkaExchanger builds the exchanger. The client must be configured to
// consume the reply topic; Run drives the consume loop.
func NewKafkaExchanger(client *kgo.Client, requestTopics map[string]string, replyTopic string, log *slog.Logger) *KafkaExchanger {
	return &KafkaExchanger{
		client:        client,
		requestTopics: requestTopics,
		replyTopic:    replyTopic,
		log:           log,
		pending:       make(map[string]chan exchangeReply),
	}
}

func (e *KafkaExchanger) Exchange(ctx context.Context, exchange string, payload any) ([]byte, error) {
	topic, ok := e.requestTopics[exchange]
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q", exchange)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal exchange payload: %w", err)
	}

	correlationID := uuid.NewString()
	envelope, err := json.Marshal(exchangeEnvelope{
		CorrelationID: correlationID,
		ReplyTo:       e.replyTopic,
		Payload:       body,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal exchange envelope: %w", err)
	}

	waiter := make(chan exchangeReply, 1)
	e.mu.Lock()
	e.pending[correlationID] = waiter
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, correlationID)
		e.mu.Unlock()
	}()

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(correlationID),
		Value: envelope,
	}
	if err := e.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return nil, fmt.Errorf("produce exchange request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply := <-waiter:
		return reply.payload, reply.err
	}
}

// Run consumes the reply topic and completes waiters until the context is
// cancelled. Replies without a waiter are dropped: they belong to a previous
// process instance or an expired request.
func (e *KafkaExchanger) Run(ctx context.Context) error {
	for {
		fetches := e.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			e.log.Error("sevdeir reply fetch failed", "topic", topic, "partition", partition, "err", err)
		})
		fetches.EachRecord(func(record *kgo.Record) {
			e.dispatch(record.Value)
		})
	}
}

func (e *KafkaExchanger) dispatch(value []byte) {
	var reply replyEnvelope
	if err := json.Unmarshal(value, &reply); err != nil {
		e.log.Error("malformed sevdeir reply", "err", err)
		return
	}

	e.mu.Lock()
	waiter, ok := e.pending[reply.CorrelationID]
	e.mu.Unlock()
	if !ok {
		return
	}

	if reply.Error != "" {
		waiter <- exchangeReply{err: errors.New(reply.Error)}
		return
	}
	waiter <- exchangeReply{payload: reply.Payload}
}
