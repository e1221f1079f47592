// SPDX-License-Identifier: MIT

package enrich

import (
	"sort"
	"time"

	"github.com/apexgrid/pitwall/internal/model"
)

// Positions re-sorts the car list, assigns overall and in-class
// positions, positions-gained, gap/interval strings and best-time
// markers. It reorders st.CarPositions in place (callers hold the write
// lock) and returns one patch per car containing only changed fields.
func Positions(st *model.SessionState) []*model.CarPositionPatch {
	cars := st.CarPositions
	if len(cars) == 0 {
		return nil
	}

	sort.SliceStable(cars, func(i, j int) bool {
		a, b := cars[i], cars[j]
		if a.LastLapCompleted != b.LastLapCompleted {
			return a.LastLapCompleted > b.LastLapCompleted
		}
		at, bt := model.ParseLapTime(a.TotalTime), model.ParseLapTime(b.TotalTime)
		// Unknown total time sinks to the bottom of its lap tier.
		if (at == 0) != (bt == 0) {
			return bt == 0
		}
		if at != bt {
			return at < bt
		}
		return a.Number < b.Number
	})

	patches := make(map[string]*model.CarPositionPatch, len(cars))
	patch := func(number string) *model.CarPositionPatch {
		p, ok := patches[number]
		if !ok {
			p = &model.CarPositionPatch{Number: number}
			patches[number] = p
		}
		return p
	}

	// Overall and in-class positions follow the sort order.
	classCounts := make(map[string]int)
	for i, car := range cars {
		overall := i + 1
		if car.OverallPosition != overall {
			patch(car.Number).OverallPosition = model.Ptr(overall)
		}
		classCounts[car.Class]++
		if inClass := classCounts[car.Class]; car.ClassPosition != inClass {
			patch(car.Number).ClassPosition = model.Ptr(inClass)
		}
	}

	assignGained(cars, patches, patch)
	assignGaps(cars, patch)
	assignBestMarkers(cars, patch)

	out := make([]*model.CarPositionPatch, 0, len(patches))
	for _, car := range cars {
		if p, ok := patches[car.Number]; ok && !p.IsEmpty() {
			out = append(out, p)
		}
	}
	return out
}

func effectivePosition(car *model.CarPosition, p *model.CarPositionPatch, overall bool) int {
	if overall {
		if p != nil && p.OverallPosition != nil {
			return *p.OverallPosition
		}
		return car.OverallPosition
	}
	if p != nil && p.ClassPosition != nil {
		return *p.ClassPosition
	}
	return car.ClassPosition
}

func assignGained(cars []*model.CarPosition, patches map[string]*model.CarPositionPatch, patch func(string) *model.CarPositionPatch) {
	type winner struct {
		gained int
		number string
	}
	best := winner{gained: model.InvalidPosition}
	bestByClass := make(map[string]winner)

	gainedOverall := make(map[string]int, len(cars))
	gainedClass := make(map[string]int, len(cars))

	for _, car := range cars {
		p := patches[car.Number]
		og, cg := model.InvalidPosition, model.InvalidPosition
		if car.OverallStartingPosition > 0 {
			og = car.OverallStartingPosition - effectivePosition(car, p, true)
		}
		if car.InClassStartingPosition > 0 {
			cg = car.InClassStartingPosition - effectivePosition(car, p, false)
		}
		gainedOverall[car.Number] = og
		gainedClass[car.Number] = cg
		if car.OverallPositionsGained != og {
			patch(car.Number).OverallPositionsGained = model.Ptr(og)
		}
		if car.InClassPositionsGained != cg {
			patch(car.Number).InClassPositionsGained = model.Ptr(cg)
		}
		if og != model.InvalidPosition && (best.gained == model.InvalidPosition || og > best.gained ||
			(og == best.gained && car.Number < best.number)) {
			best = winner{gained: og, number: car.Number}
		}
		cb, ok := bestByClass[car.Class]
		if cg != model.InvalidPosition && (!ok || cg > cb.gained ||
			(cg == cb.gained && car.Number < cb.number)) {
			bestByClass[car.Class] = winner{gained: cg, number: car.Number}
		}
	}

	for _, car := range cars {
		isOverall := best.gained != model.InvalidPosition && car.Number == best.number
		if car.IsOverallMostPositionsGained != isOverall {
			patch(car.Number).IsOverallMostPositionsGained = model.Ptr(isOverall)
		}
		cb, ok := bestByClass[car.Class]
		isClass := ok && car.Number == cb.number
		if car.IsClassMostPositionsGained != isClass {
			patch(car.Number).IsClassMostPositionsGained = model.Ptr(isClass)
		}
	}
}

// gapString renders the distance between car and a reference ahead of it.
// Blank when the data says the car is ahead of its reference (stale feed).
func gapString(car, ref *model.CarPosition) string {
	if ref == nil || ref == car {
		return ""
	}
	if lapDelta := ref.LastLapCompleted - car.LastLapCompleted; lapDelta != 0 {
		if lapDelta < 0 {
			return ""
		}
		return model.FormatLapDelta(lapDelta)
	}
	carTime, refTime := model.ParseLapTime(car.TotalTime), model.ParseLapTime(ref.TotalTime)
	if carTime == 0 || refTime == 0 {
		return ""
	}
	delta := carTime - refTime
	if delta < 0 {
		return ""
	}
	return model.FormatTimeDelta(delta)
}

func assignGaps(cars []*model.CarPosition, patch func(string) *model.CarPositionPatch) {
	leader := cars[0]
	for i, car := range cars {
		gap, interval := "", ""
		if i > 0 {
			gap = gapString(car, leader)
			interval = gapString(car, cars[i-1])
		}
		if car.Gap != gap {
			patch(car.Number).Gap = model.Ptr(gap)
		}
		if car.Interval != interval {
			patch(car.Number).Interval = model.Ptr(interval)
		}
	}
}

func assignBestMarkers(cars []*model.CarPosition, patch func(string) *model.CarPositionPatch) {
	classBest := make(map[string]time.Duration)
	for _, car := range cars {
		if t := model.ParseLapTime(car.BestTime); t > 0 {
			if cur, ok := classBest[car.Class]; !ok || t < cur {
				classBest[car.Class] = t
			}
		}
	}
	for _, car := range cars {
		isBest := car.BestLap > 0 && car.BestLap == car.LastLapCompleted
		if car.IsBestTime != isBest {
			patch(car.Number).IsBestTime = model.Ptr(isBest)
		}
		t := model.ParseLapTime(car.BestTime)
		isClassBest := t > 0 && t == classBest[car.Class]
		if car.IsBestTimeClass != isClassBest {
			patch(car.Number).IsBestTimeClass = model.Ptr(isClassBest)
		}
	}
}
