package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendAssignsMonotonicSeq(t *testing.T) {
	s := NewStore()
	s.StartSession("sess-1")

	e1 := s.Append(StageEvent{SessionID: "sess-1", StageName: "domain_detect", Phase: PhaseStart})
	e2 := s.Append(StageEvent{SessionID: "sess-1", StageName: "domain_detect", Phase: PhaseEnd})

	assert.Equal(t, uint64(1), e1.Seq)
	assert.Equal(t, uint64(2), e2.Seq)
}

func TestStore_GetReturnsSnapshotCopy(t *testing.T) {
	s := NewStore()
	s.StartSession("sess-1")
	s.Append(StageEvent{SessionID: "sess-1", StageName: "retrieve", Phase: PhaseEnd})

	sess, err := s.Get("sess-1")
	require.NoError(t, err)
	require.Len(t, sess.Events, 1)

	sess.Events[0].StageName = "mutated"
	again, err := s.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "retrieve", again.Events[0].StageName, "snapshot mutation must not leak into the store")
}

func TestStore_GetUnknownSession(t *testing.T) {
	s := NewStore()
	_, err := s.Get("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_TotalsAccumulateOnTerminalPhasesOnly(t *testing.T) {
	s := NewStore()
	s.StartSession("sess-1")
	start := time.Now()
	s.Append(StageEvent{SessionID: "sess-1", StageName: "teacher_call", Phase: PhaseStart, StartedAt: start})
	s.Append(StageEvent{SessionID: "sess-1", StageName: "teacher_call", Phase: PhaseRetry})
	s.Append(StageEvent{
		SessionID: "sess-1", StageName: "teacher_call", Phase: PhaseEnd,
		StartedAt: start, EndedAt: start.Add(120 * time.Millisecond),
		CostMicros: 500, TokensIn: 10, TokensOut: 20,
	})

	sess, err := s.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Totals.StageCount)
	assert.Equal(t, int64(500), sess.Totals.CostMicros)
	assert.Equal(t, 30, sess.Totals.TokensIn+sess.Totals.TokensOut)
}

func TestStore_CloseSetsTerminalState(t *testing.T) {
	s := NewStore()
	s.StartSession("sess-1")
	s.Close("sess-1", StateOK)

	sess, err := s.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateOK, sess.TerminalState)
}
