// Package eventbus carries low-latency notifications between orchestrator
// processes. The event store stays the source of truth; a lost
// notification only delays work until the next poll.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	ChannelPublished  = "orchestrator:events:published"
	ChannelDeadLetter = "orchestrator:events:dead_letter"

	TypeEventPublished = "event.published"
	TypeDeadLettered   = "event.dead_lettered"
)

type Event struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type PublishedEvent struct {
	EventID uint64 `json:"event_id"`
}

type DeadLetterEvent struct {
	EventID      uint64 `json:"event_id"`
	DeadLetterID uint64 `json:"dead_letter_id"`
	EventType    string `json:"event_type"`
}

type Bus struct {
	client redis.UniversalClient
	logger *zap.Logger
}

func NewBus(client redis.UniversalClient, logger *zap.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

// NotifyPublished announces that eventID is ready to be claimed.
func (b *Bus) NotifyPublished(ctx context.Context, eventID uint64) error {
	event, err := NewEvent(TypeEventPublished, PublishedEvent{EventID: eventID})
	if err != nil {
		return err
	}
	return b.Publish(ctx, ChannelPublished, event)
}

func (b *Bus) NotifyDeadLettered(ctx context.Context, payload DeadLetterEvent) error {
	event, err := NewEvent(TypeDeadLettered, payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, ChannelDeadLetter, event)
}

// Subscribe delivers events from channels until ctx is cancelled. Messages
// that do not decode are dropped.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) <-chan *Event {
	sub := b.client.Subscribe(ctx, channels...)
	ch := make(chan *Event, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Debug("dropping undecodable bus message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case ch <- &event:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}

// WakeOnPublish calls wake for every published-event notification until
// ctx is cancelled.
func (b *Bus) WakeOnPublish(ctx context.Context, wake func()) {
	for event := range b.Subscribe(ctx, ChannelPublished) {
		if event.Type == TypeEventPublished {
			wake()
		}
	}
}
