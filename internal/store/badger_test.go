// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgrid/pitwall/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start := time.Date(2026, 8, 22, 14, 0, 0, 0, time.UTC)
	sess := &Session{
		EventID:     1,
		ID:          5,
		Name:        "Feature Race",
		Type:        model.SessionTypeRace,
		StartTime:   start,
		IsLive:      true,
		LastUpdated: start,
	}
	require.NoError(t, s.UpsertSession(ctx, sess))

	got, err := s.GetSession(ctx, 1, 5)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess, got)

	missing, err := s.GetSession(ctx, 1, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTouchSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start := time.Date(2026, 8, 22, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertSession(ctx, &Session{EventID: 1, ID: 5, StartTime: start, LastUpdated: start}))

	later := start.Add(30 * time.Second)
	require.NoError(t, s.TouchSession(ctx, 1, 5, later))

	got, err := s.GetSession(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, later, got.LastUpdated)
	assert.Equal(t, start, got.StartTime)

	// Touching an unknown session is a no-op, not an error.
	require.NoError(t, s.TouchSession(ctx, 1, 42, later))
}

func TestSessionResultRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	state := model.NewSessionState(1)
	state.SessionID = 5
	state.CarPositions = append(state.CarPositions, &model.CarPosition{Number: "42", OverallPosition: 1})

	res := &SessionResult{EventID: 1, SessionID: 5, State: state}
	require.NoError(t, s.UpsertSessionResult(ctx, res))

	got, err := s.GetSessionResult(ctx, 1, 5)
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(res.State, got.State); diff != "" {
		t.Errorf("stored state differs (-want +got):\n%s", diff)
	}
}

func TestAppendLapLogsAndMarkers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	logs := []*CarLapLog{
		{EventID: 1, SessionID: 5, CarNumber: "42", LapNumber: 1, Timestamp: now, Flag: model.FlagGreen,
			Position: &model.CarPosition{Number: "42", LastLapCompleted: 1, OverallPosition: 2}},
		{EventID: 1, SessionID: 5, CarNumber: "42", LapNumber: 2, Timestamp: now, Flag: model.FlagGreen,
			Position: &model.CarPosition{Number: "42", LastLapCompleted: 2, OverallPosition: 1}},
		{EventID: 1, SessionID: 5, CarNumber: "7", LapNumber: 1, Timestamp: now, Flag: model.FlagYellow,
			Position: &model.CarPosition{Number: "7", LastLapCompleted: 1, OverallPosition: 3}},
	}
	require.NoError(t, s.AppendLapLogs(ctx, logs))

	got, err := s.GetLapLogsUpTo(ctx, 1, 5, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, l := range got {
		assert.Equal(t, 1, l.LapNumber)
	}

	all, err := s.GetLapLogsUpTo(ctx, 1, 5, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	last, err := s.GetCarLastLaps(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"42": 2, "7": 1}, last)
}

func TestAppendLapLogsOverwriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	rec := &CarLapLog{EventID: 1, SessionID: 5, CarNumber: "42", LapNumber: 3, Timestamp: now,
		Position: &model.CarPosition{Number: "42", LastLapCompleted: 3}}
	require.NoError(t, s.AppendLapLogs(ctx, []*CarLapLog{rec}))
	require.NoError(t, s.AppendLapLogs(ctx, []*CarLapLog{rec}))

	got, err := s.GetLapLogsUpTo(ctx, 1, 5, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLapLogsIsolatedBySession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	require.NoError(t, s.AppendLapLogs(ctx, []*CarLapLog{
		{EventID: 1, SessionID: 5, CarNumber: "42", LapNumber: 1, Timestamp: now,
			Position: &model.CarPosition{Number: "42"}},
	}))

	got, err := s.GetLapLogsUpTo(ctx, 1, 6, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	last, err := s.GetCarLastLaps(ctx, 1, 6)
	require.NoError(t, err)
	assert.Empty(t, last)
}
