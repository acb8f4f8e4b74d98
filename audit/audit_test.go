package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := &GateEvent{
			RequestID:  fmt.Sprintf("req-%d", i),
			Transport:  "http",
			Command:    "DENIED",
			PlateText:  "XYZ789",
			Status:     "Truck #1 (conf: 0.90)",
			Detections: `[]`,
		}
		require.NoError(t, s.Record(ctx, ev))
		assert.NotZero(t, ev.ID)
		assert.False(t, ev.CreatedAt.IsZero())
	}
	require.NoError(t, s.Record(ctx, &GateEvent{RequestID: "req-open", Command: "OPEN", Sent: true}))

	events, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "req-open", events[0].RequestID)
	assert.True(t, events[0].Sent)
	assert.Equal(t, "req-2", events[1].RequestID)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestOpen_UnknownDialect(t *testing.T) {
	_, err := Open("oracle", "")
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	require.NoError(t, r.Record(context.Background(), &GateEvent{}))
	events, err := r.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotNil(t, events)
}
