// SPDX-License-Identifier: MIT

package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgrid/pitwall/internal/model"
)

func newTestStore(t *testing.T, eventID int) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, eventID, zerolog.Nop()), mr
}

func TestAddLapRollingWindow(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 1)

	for lap := 1; lap <= Window+2; lap++ {
		err := store.AddLap(ctx, &model.CarPosition{
			Number:           "42",
			LastLapCompleted: lap,
			LastLapTime:      fmt.Sprintf("1:3%d.000", lap%10),
		})
		require.NoError(t, err)
	}

	laps, err := store.GetLaps(ctx, "42")
	require.NoError(t, err)
	require.Len(t, laps, Window)

	// Most recent first, oldest evicted.
	assert.Equal(t, Window+2, laps[0].LastLapCompleted)
	assert.Equal(t, 3, laps[Window-1].LastLapCompleted)
}

func TestGetLapsUnknownCar(t *testing.T) {
	store, _ := newTestStore(t, 1)
	laps, err := store.GetLaps(context.Background(), "99")
	require.NoError(t, err)
	assert.Empty(t, laps)
}

func TestAddLapRejectsEmptyNumber(t *testing.T) {
	store, _ := newTestStore(t, 1)
	err := store.AddLap(context.Background(), &model.CarPosition{})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = store.GetLaps(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEventsAreIsolated(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	eventA := NewStore(client, 1, zerolog.Nop())
	eventB := NewStore(client, 2, zerolog.Nop())

	require.NoError(t, eventA.AddLap(ctx, &model.CarPosition{Number: "42", LastLapCompleted: 1}))

	laps, err := eventB.GetLaps(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, laps)
}

func TestGetLapsSkipsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 1)

	require.NoError(t, store.AddLap(ctx, &model.CarPosition{Number: "42", LastLapCompleted: 7}))
	_, err := mr.Lpush("pitwall:laps:1:42", "not json")
	require.NoError(t, err)

	laps, err := store.GetLaps(ctx, "42")
	require.NoError(t, err)
	require.Len(t, laps, 1)
	assert.Equal(t, 7, laps[0].LastLapCompleted)
}

func TestAddLapPreservesFullRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 1)

	in := &model.CarPosition{
		Number:           "42",
		Class:            "GT3",
		LastLapCompleted: 12,
		LastLapTime:      "1:31.500",
		LapIncludedPit:   true,
		TrackFlag:        model.FlagYellow,
	}
	require.NoError(t, store.AddLap(ctx, in))

	laps, err := store.GetLaps(ctx, "42")
	require.NoError(t, err)
	require.Len(t, laps, 1)
	assert.Equal(t, in, laps[0])
}
