// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgrid/pitwall/internal/broadcast"
	"github.com/apexgrid/pitwall/internal/history"
	"github.com/apexgrid/pitwall/internal/model"
	"github.com/apexgrid/pitwall/internal/store"
)

type observerRecorder struct {
	mu       sync.Mutex
	sessions []int
	names    []string
	updates  int
}

func (o *observerRecorder) OnSessionChanged(_ context.Context, sessionID int, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions = append(o.sessions, sessionID)
	o.names = append(o.names, name)
}

func (o *observerRecorder) OnStateUpdate(context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates++
}

func (o *observerRecorder) sessionChanges() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.sessions...)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *broadcast.MemoryHub, *observerRecorder) {
	t.Helper()
	badger, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = badger.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub := broadcast.NewMemoryHub()
	obs := &observerRecorder{}
	c := NewCoordinator(Options{
		EventID:  1,
		Store:    badger,
		History:  history.NewStore(client, 1, zerolog.Nop()),
		Hub:      hub,
		Observer: obs,
	})
	t.Cleanup(c.Close)
	return c, hub, obs
}

func rmonitorMsg(data string) model.TimingMessage {
	return model.TimingMessage{Type: model.MessageTypeRMonitor, Data: data, Timestamp: time.Now().UTC()}
}

func TestPostHeartbeatUpdatesSession(t *testing.T) {
	c, hub, _ := newTestCoordinator(t)
	sub := hub.Subscribe(1)
	defer sub.Close()

	err := c.Post(context.Background(), rmonitorMsg(`$F,14,"00:12:45","13:34:23","00:09:47","Green"`))
	require.NoError(t, err)

	st := c.Session().Snapshot()
	assert.Equal(t, 14, st.LapsToGo)
	assert.Equal(t, "00:12:45", st.TimeToGo)
	assert.Equal(t, model.FlagGreen, st.CurrentFlag)

	select {
	case u := <-sub.C():
		require.NotNil(t, u.Session)
		assert.Equal(t, 14, *u.Session.LapsToGo)
	case <-time.After(time.Second):
		t.Fatal("no session update broadcast")
	}
}

func TestPostCompetitorAndScoringBatch(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	batch := `$C,5,"GT3"
$A,"1234BE","12",52474,"John","Johnson","USA",5
$A,"5678BE","7",52475,"Jane","Doe","USA",5
$G,1,"1234BE",14,"01:12:40.000"
$G,2,"5678BE",14,"01:12:47.872"`

	require.NoError(t, c.Post(context.Background(), rmonitorMsg(batch)))

	st := c.Session().Snapshot()
	require.Len(t, st.CarPositions, 2)

	first := st.CarPositions[0]
	assert.Equal(t, "12", first.Number)
	assert.Equal(t, "GT3", first.Class)
	assert.Equal(t, "John Johnson", first.DriverName)
	assert.Equal(t, 14, first.LastLapCompleted)
	// Enrichment assigned positions and gaps.
	assert.Equal(t, 1, first.OverallPosition)
	assert.Equal(t, 1, first.ClassPosition)

	second := st.CarPositions[1]
	assert.Equal(t, "7", second.Number)
	assert.Equal(t, 2, second.OverallPosition)
	assert.Equal(t, "7.872", second.Gap)
}

func TestPostRunInfoNotifiesObserver(t *testing.T) {
	c, _, obs := newTestCoordinator(t)

	require.NoError(t, c.Post(context.Background(), rmonitorMsg(`$B,5,"Feature Race"`)))
	assert.Equal(t, []int{5}, obs.sessionChanges())

	st := c.Session().Snapshot()
	assert.Equal(t, 5, st.SessionID)
	assert.Equal(t, "Feature Race", st.SessionName)

	// Replaying the same session is suppressed.
	require.NoError(t, c.Post(context.Background(), rmonitorMsg(`$B,5,"Feature Race"`)))
	assert.Equal(t, []int{5}, obs.sessionChanges())
}

func TestPostInitRecordResetsState(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	require.NoError(t, c.Post(context.Background(), rmonitorMsg(`$A,"1234BE","12",52474,"John","Johnson","USA",5`)))
	require.Len(t, c.Session().Snapshot().CarPositions, 1)

	require.NoError(t, c.Post(context.Background(), rmonitorMsg(`$I,"16:36:08.000","12 jan 01"`)))
	assert.Empty(t, c.Session().Snapshot().CarPositions)
}

func TestPostPassingsSetsPitFlags(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	require.NoError(t, c.Post(context.Background(), rmonitorMsg(`$A,"1234BE","12",52474,"John","Johnson","USA",5`)))

	payload, err := json.Marshal([]map[string]any{
		{"transponderId": 52474, "inPit": true},
	})
	require.NoError(t, err)
	require.NoError(t, c.Post(context.Background(), model.TimingMessage{
		Type: model.MessageTypeX2Pass,
		Data: string(payload),
	}))

	st := c.Session().Snapshot()
	require.Len(t, st.CarPositions, 1)
	assert.True(t, st.CarPositions[0].IsInPit)
	assert.True(t, st.CarPositions[0].LapIncludedPit)
}

func TestPostCompetitorsPayload(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	payload, err := json.Marshal([]model.EventEntry{
		{Number: "12", Name: "John Johnson", Class: "GT3", TransponderID: 52474},
	})
	require.NoError(t, err)
	require.NoError(t, c.Post(context.Background(), model.TimingMessage{
		Type: model.MessageTypeCompetitors,
		Data: string(payload),
	}))

	st := c.Session().Snapshot()
	require.Len(t, st.CarPositions, 1)
	assert.Equal(t, "GT3", st.CarPositions[0].Class)
	require.NotNil(t, st.EventEntries["12"])
	assert.Equal(t, "John Johnson", st.EventEntries["12"].Name)
}

func TestPostFlagsPayload(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	start := time.Date(2026, 8, 22, 14, 0, 0, 0, time.UTC)
	payload, err := json.Marshal([]model.FlagDuration{
		{Flag: model.FlagGreen, StartUtc: start},
	})
	require.NoError(t, err)
	require.NoError(t, c.Post(context.Background(), model.TimingMessage{
		Type: model.MessageTypeFlags,
		Data: string(payload),
	}))

	st := c.Session().Snapshot()
	require.Len(t, st.FlagDurations, 1)
	assert.Equal(t, model.FlagGreen, st.FlagDurations[0].Flag)
}

func TestPostSessionChangedInstallsNewSession(t *testing.T) {
	c, _, obs := newTestCoordinator(t)

	require.NoError(t, c.Post(context.Background(), rmonitorMsg(`$A,"1234BE","12",52474,"John","Johnson","USA",5`)))

	require.NoError(t, c.Post(context.Background(), model.TimingMessage{
		Type: model.MessageTypeSessionChanged,
		Data: `{"sessionId":6,"name":"Race 2"}`,
	}))

	st := c.Session().Snapshot()
	assert.Equal(t, 6, st.SessionID)
	assert.Equal(t, "Race 2", st.SessionName)
	assert.Empty(t, st.CarPositions)
	assert.Equal(t, []int{6}, obs.sessionChanges())
}

func TestPostUnknownTypeDropped(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	assert.NoError(t, c.Post(context.Background(), model.TimingMessage{Type: "mystery", Data: "x"}))
}

func TestSetPenaltyOverlay(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	require.NoError(t, c.Post(context.Background(), rmonitorMsg(`$A,"1234BE","12",52474,"John","Johnson","USA",5`)))
	c.SetPenalty("12", 2, 1)

	st := c.Session().Snapshot()
	require.Len(t, st.CarPositions, 1)
	assert.Equal(t, 2, st.CarPositions[0].PenalityLaps)
	assert.Equal(t, 1, st.CarPositions[0].PenalityWarnings)
}

func TestPostBackToBackKeepsArrivalOrder(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Post(ctx, rmonitorMsg(`$F,10,"00:12:45","13:34:23","00:09:47","Green"`)))
		require.NoError(t, c.Post(ctx, rmonitorMsg(`$F,10,"00:12:45","13:34:23","00:09:47","Yellow"`)))
	}

	// Once every deferred flush has drained, the re-applied merge must
	// hold the last arrival, never an older one.
	time.Sleep(5 * debounceWindow)
	assert.Equal(t, model.FlagYellow, c.Session().Snapshot().CurrentFlag)
}

func TestPostMalformedPayloadReturnsError(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	err := c.Post(context.Background(), model.TimingMessage{
		Type: model.MessageTypeX2Pass,
		Data: "not json",
	})
	assert.Error(t, err)
}
