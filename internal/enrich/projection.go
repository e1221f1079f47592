// SPDX-License-Identifier: MIT

package enrich

import (
	"context"
	"math"

	"github.com/apexgrid/pitwall/internal/history"
	"github.com/apexgrid/pitwall/internal/model"
)

const (
	// projectionMinLaps is the minimum number of qualifying laps.
	projectionMinLaps = 3
	// projectionMaxSpread rejects windows where the slowest qualifying
	// lap is more than 1.5x the fastest.
	projectionMaxSpread = 1.5
	// projectionMaxStdDevFrac rejects windows whose standard deviation
	// exceeds 15% of the mean.
	projectionMaxStdDevFrac = 0.15
	// projectionFloorMs rejects implausibly short means.
	projectionFloorMs = 10000
)

// ProjectedLapTime recomputes the triggering car's projected lap time
// from its recent clean laps under a compatible flag. It returns a patch
// only when the stored value changes; an unqualifiable window clears any
// prior projection.
func ProjectedLapTime(ctx context.Context, h *history.Store, st *model.SessionState, car *model.CarPosition) (*model.CarPositionPatch, error) {
	if car == nil {
		return nil, nil
	}
	projected := 0
	if car.Number != "" && st.CurrentFlag != model.FlagRed && st.CurrentFlag != model.FlagCheckered {
		laps, err := h.GetLaps(ctx, car.Number)
		if err != nil {
			return nil, err
		}
		if len(laps) > history.Window {
			laps = laps[:history.Window]
		}
		if len(laps) >= projectionMinLaps {
			projected = projectionFrom(laps, st.CurrentFlag)
		}
	}
	if car.ProjectedLapTimeMs == projected {
		return nil, nil
	}
	return &model.CarPositionPatch{
		Number:             car.Number,
		ProjectedLapTimeMs: model.Ptr(projected),
	}, nil
}

func projectionFrom(laps []*model.CarPosition, flag model.Flag) int {
	// Prefer clean laps run under the current flag; fall back to clean
	// laps across flags when fewer than three match.
	times := cleanLapTimes(laps, flag, true)
	if len(times) < projectionMinLaps {
		times = cleanLapTimes(laps, flag, false)
	}
	if len(times) < projectionMinLaps {
		return 0
	}

	minMs, maxMs, sum := times[0], times[0], 0
	for _, t := range times {
		if t < minMs {
			minMs = t
		}
		if t > maxMs {
			maxMs = t
		}
		sum += t
	}
	mean := float64(sum) / float64(len(times))

	if minMs <= 0 || float64(maxMs)/float64(minMs) > projectionMaxSpread {
		return 0
	}
	var variance float64
	for _, t := range times {
		d := float64(t) - mean
		variance += d * d
	}
	variance /= float64(len(times))
	if math.Sqrt(variance) > projectionMaxStdDevFrac*mean {
		return 0
	}
	if mean < projectionFloorMs {
		return 0
	}
	return int(mean)
}

func cleanLapTimes(laps []*model.CarPosition, flag model.Flag, matchFlag bool) []int {
	var times []int
	for _, lap := range laps {
		if lap.LapIncludedPit {
			continue
		}
		if matchFlag && lap.TrackFlag != flag {
			continue
		}
		if ms := model.LapTimeMs(lap.LastLapTime); ms > 0 {
			times = append(times, ms)
		}
	}
	return times
}
