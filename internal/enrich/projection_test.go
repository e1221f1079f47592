// SPDX-License-Identifier: MIT

package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgrid/pitwall/internal/history"
	"github.com/apexgrid/pitwall/internal/model"
)

func addLap(t *testing.T, h *history.Store, pos *model.CarPosition) {
	t.Helper()
	require.NoError(t, h.AddLap(context.Background(), pos))
}

func TestProjectedLapTimeFromCleanLaps(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t)

	for i, lt := range []string{"1:31.000", "1:32.000", "1:33.000"} {
		addLap(t, h, &model.CarPosition{
			Number:           "42",
			LastLapCompleted: i + 1,
			LastLapTime:      lt,
			TrackFlag:        model.FlagGreen,
		})
	}

	st := model.NewSessionState(1)
	st.CurrentFlag = model.FlagGreen
	car := &model.CarPosition{Number: "42"}
	st.CarPositions = []*model.CarPosition{car}

	p, err := ProjectedLapTime(ctx, h, st, car)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 92000, *p.ProjectedLapTimeMs)
}

func TestProjectedLapTimeSkipsPitLaps(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t)

	addLap(t, h, &model.CarPosition{Number: "42", LastLapCompleted: 1, LastLapTime: "1:31.000", TrackFlag: model.FlagGreen})
	addLap(t, h, &model.CarPosition{Number: "42", LastLapCompleted: 2, LastLapTime: "2:45.000", TrackFlag: model.FlagGreen, LapIncludedPit: true})
	addLap(t, h, &model.CarPosition{Number: "42", LastLapCompleted: 3, LastLapTime: "1:31.000", TrackFlag: model.FlagGreen})
	addLap(t, h, &model.CarPosition{Number: "42", LastLapCompleted: 4, LastLapTime: "1:31.000", TrackFlag: model.FlagGreen})

	st := model.NewSessionState(1)
	st.CurrentFlag = model.FlagGreen
	car := &model.CarPosition{Number: "42"}
	st.CarPositions = []*model.CarPosition{car}

	p, err := ProjectedLapTime(ctx, h, st, car)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 91000, *p.ProjectedLapTimeMs)
}

func TestProjectedLapTimeGuards(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		flag     model.Flag
		lapTimes []string
	}{
		{"red flag", model.FlagRed, []string{"1:31.000", "1:31.000", "1:31.000"}},
		{"checkered", model.FlagCheckered, []string{"1:31.000", "1:31.000", "1:31.000"}},
		{"too few laps", model.FlagGreen, []string{"1:31.000", "1:31.000"}},
		{"excessive spread", model.FlagGreen, []string{"1:00.000", "1:31.000", "2:00.000"}},
		{"below floor", model.FlagGreen, []string{"8.000", "8.100", "8.200"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHistory(t)
			for i, lt := range tt.lapTimes {
				addLap(t, h, &model.CarPosition{
					Number:           "42",
					LastLapCompleted: i + 1,
					LastLapTime:      lt,
					TrackFlag:        model.FlagGreen,
				})
			}
			st := model.NewSessionState(1)
			st.CurrentFlag = tt.flag
			car := &model.CarPosition{Number: "42"}
			st.CarPositions = []*model.CarPosition{car}

			p, err := ProjectedLapTime(ctx, h, st, car)
			require.NoError(t, err)
			// No prior projection and no new one: nothing to patch.
			assert.Nil(t, p)
		})
	}
}

func TestProjectedLapTimeClearsStaleValue(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t)

	st := model.NewSessionState(1)
	st.CurrentFlag = model.FlagRed
	car := &model.CarPosition{Number: "42", ProjectedLapTimeMs: 91000}
	st.CarPositions = []*model.CarPosition{car}

	p, err := ProjectedLapTime(ctx, h, st, car)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Zero(t, *p.ProjectedLapTimeMs)
}

func TestProjectedLapTimeFlagFallback(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t)

	// All clean laps ran under yellow; the current green window should
	// still project from them.
	for i := 1; i <= 3; i++ {
		addLap(t, h, &model.CarPosition{
			Number:           "42",
			LastLapCompleted: i,
			LastLapTime:      "1:31.000",
			TrackFlag:        model.FlagYellow,
		})
	}

	st := model.NewSessionState(1)
	st.CurrentFlag = model.FlagGreen
	car := &model.CarPosition{Number: "42"}
	st.CarPositions = []*model.CarPosition{car}

	p, err := ProjectedLapTime(ctx, h, st, car)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 91000, *p.ProjectedLapTimeMs)
}
