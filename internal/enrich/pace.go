// SPDX-License-Identifier: MIT

// Package enrich computes derived car fields: rolling-average pace,
// projected lap times and position/gap/interval data.
package enrich

import (
	"context"
	"sort"

	"github.com/apexgrid/pitwall/internal/history"
	"github.com/apexgrid/pitwall/internal/model"
)

// FastestAverage re-evaluates the in-class fastest-average-pace marker
// for the class of the car that just completed a lap. It returns patches
// only for cars whose marker actually flips.
func FastestAverage(ctx context.Context, h *history.Store, st *model.SessionState, triggering *model.CarPosition) ([]*model.CarPositionPatch, error) {
	if triggering == nil || triggering.Number == "" {
		return nil, nil
	}
	class := triggering.Class

	type classAvg struct {
		car *model.CarPosition
		avg int
	}
	var candidates []classAvg
	var classCars []*model.CarPosition
	for _, car := range st.CarPositions {
		if car.Class != class {
			continue
		}
		classCars = append(classCars, car)
		laps, err := h.GetLaps(ctx, car.Number)
		if err != nil {
			return nil, err
		}
		if len(laps) < history.Window {
			continue
		}
		sum := 0
		for _, lap := range laps[:history.Window] {
			sum += model.LapTimeMs(lap.LastLapTime)
		}
		avg := sum / history.Window
		if avg > 0 {
			candidates = append(candidates, classAvg{car: car, avg: avg})
		}
	}

	var winner *model.CarPosition
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.avg != b.avg {
				return a.avg < b.avg
			}
			// Ties go to the car whose lap triggered the evaluation,
			// then lexicographically smallest number.
			if a.car.Number == triggering.Number {
				return true
			}
			if b.car.Number == triggering.Number {
				return false
			}
			return a.car.Number < b.car.Number
		})
		winner = candidates[0].car
	}

	var patches []*model.CarPositionPatch
	for _, car := range classCars {
		isWinner := winner != nil && car.Number == winner.Number
		if car.InClassFastestAveragePace == isWinner {
			continue
		}
		patches = append(patches, &model.CarPositionPatch{
			Number:                    car.Number,
			InClassFastestAveragePace: model.Ptr(isWinner),
		})
	}
	return patches, nil
}
