package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/eventbus"
	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/store/postgres"
	"github.com/servicehub/orchestrator/pkg/store/storetest"
)

type fakePublisher struct {
	keys    [][]byte
	values  [][]byte
	headers [][]kafka.Header
	failAt  int
}

func (p *fakePublisher) PublishDLQ(_ context.Context, key, value []byte, headers ...kafka.Header) error {
	if p.failAt > 0 && len(p.keys)+1 == p.failAt {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	p.headers = append(p.headers, headers)
	return nil
}

func seedDeadLetters(t *testing.T, s *postgres.Store, n int) []model.DeadLetterRecord {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	var records []model.DeadLetterRecord
	for i := 0; i < n; i++ {
		event := &model.Event{
			EventType:     "test.always_fail",
			EventName:     "always fail",
			Payload:       model.JSONB{"n": i},
			Metadata:      model.JSONB{},
			Status:        model.EventFailed,
			RetryCount:    3,
			MaxRetries:    3,
			NextAttemptAt: base,
			CreatedAt:     base,
			UpdatedAt:     base,
		}
		require.NoError(t, s.Events().Create(ctx, event))
		record := model.NewDeadLetter(event, "boom", "", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.DB().Create(record).Error)
		records = append(records, *record)
	}
	return records
}

func TestForwardPendingPublishesAndMarks(t *testing.T) {
	s := storetest.New(t)
	records := seedDeadLetters(t, s, 3)
	publisher := &fakePublisher{}
	r := NewRelay(s.Relay(), publisher, zap.NewNop(), time.Second, 10)
	ctx := context.Background()

	n, err := r.ForwardPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, publisher.values, 3)

	var message Message
	require.NoError(t, json.Unmarshal(publisher.values[0], &message))
	assert.Equal(t, records[0].ID, message.DeadLetterID)
	assert.Equal(t, records[0].EventID, message.EventID)
	assert.Equal(t, "boom", message.ErrorMessage)
	assert.Equal(t, 3, message.RetryCount)
	assert.Equal(t, eventbus.HeaderEventID, publisher.headers[0][0].Key)

	n, err = r.ForwardPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestForwardPendingStopsAtFirstError(t *testing.T) {
	s := storetest.New(t)
	seedDeadLetters(t, s, 3)
	publisher := &fakePublisher{failAt: 2}
	r := NewRelay(s.Relay(), publisher, zap.NewNop(), time.Second, 10)
	ctx := context.Background()

	n, err := r.ForwardPending(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, n)

	publisher.failAt = 0
	n, err = r.ForwardPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunForwardsOnWake(t *testing.T) {
	s := storetest.New(t)
	publisher := &fakePublisher{}
	r := NewRelay(s.Relay(), publisher, zap.NewNop(), time.Hour, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	seedDeadLetters(t, s, 1)
	r.Wake()

	require.Eventually(t, func() bool {
		pending, err := s.Relay().ListUnforwarded(context.Background(), 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
