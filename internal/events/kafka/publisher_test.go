package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/telehealth-credits/internal/events"
)

func TestEncode(t *testing.T) {
	ev := events.New(events.TypeCreditsAllocated, 42, time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC))
	ev.Amount = 24
	ev.PlanTag = "premium"

	msg, err := encode(ev)
	require.NoError(t, err)
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, ev.OccurredAt, msg.Time)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, events.TypeCreditsAllocated, headers["event-type"])
	assert.Equal(t, ev.ID, headers["event-id"])

	var decoded events.LedgerEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(24), decoded.Amount)
	assert.Equal(t, "premium", decoded.PlanTag)
}

func TestNewPublisherConfiguresWriter(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	p := NewPublisher([]string{"localhost:9092"}, "credit-ledger", log)
	assert.Equal(t, "credit-ledger", p.writer.Topic)
	assert.True(t, p.writer.Async)
	require.NoError(t, p.Close())
}

func TestCompletionLogsFailedBatches(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	done := completion(log)

	done([]kafka.Message{{}, {}}, nil)
	assert.Empty(t, hook.AllEntries())

	done([]kafka.Message{{}, {}}, errors.New("leader not available"))
	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, 2, entry.Data["messages"])
}
