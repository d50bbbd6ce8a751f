package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/models"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) RecordEvent(ctx context.Context, event Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func sampleEvent() Event {
	return Event{
		ActorID:     uuid.New(),
		Action:      ActionWorkflowTransition,
		ObjectType:  "DocumentWorkflow",
		ObjectID:    uuid.New(),
		Description: "DRAFT -> PENDING_REVIEW",
		Changes:     models.JSONB{"from_state": "DRAFT", "to_state": "PENDING_REVIEW"},
		OccurredAt:  time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestSealAndVerify(t *testing.T) {
	e := Seal(sampleEvent())
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Len(t, e.Digest, 64)
	assert.True(t, Verify(e))

	tampered := e
	tampered.Description = "DRAFT -> EFFECTIVE"
	assert.False(t, Verify(tampered))
}

func TestDigestIgnoresTimezone(t *testing.T) {
	e := Seal(sampleEvent())
	moved := e
	moved.OccurredAt = e.OccurredAt.In(time.FixedZone("CET", 3600))
	assert.Equal(t, e.Digest, Digest(moved))
}

func TestMultiSinkAttemptsEverySink(t *testing.T) {
	failing := new(MockSink)
	failing.On("RecordEvent", mock.Anything, mock.Anything).Return(errors.New("index unavailable"))
	memory := NewMemorySink()

	sink := NewMultiSink(zap.NewNop(), failing, memory)
	err := sink.RecordEvent(context.Background(), sampleEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "index unavailable")
	require.Len(t, memory.Events(), 1)
	assert.True(t, Verify(memory.Events()[0]))
	failing.AssertExpectations(t)
}

func TestMemorySinkForObject(t *testing.T) {
	sink := NewMemorySink()
	a := sampleEvent()
	b := sampleEvent()
	require.NoError(t, sink.RecordEvent(context.Background(), a))
	require.NoError(t, sink.RecordEvent(context.Background(), b))
	require.NoError(t, sink.RecordEvent(context.Background(), a))

	assert.Len(t, sink.ForObject(a.ObjectID), 2)
	assert.Len(t, sink.ForObject(b.ObjectID), 1)
}
