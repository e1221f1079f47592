// SPDX-License-Identifier: MIT

// Package grid derives starting positions: live while the field forms up
// before green, or recovered from persisted lap logs after a restart.
package grid

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/apexgrid/pitwall/internal/model"
	"github.com/apexgrid/pitwall/internal/store"
)

// recoveryLapCeiling caps how many early laps are loaded when recovering.
const recoveryLapCeiling = 4

// minLapsBeforeRecovery is how far into the race the field must be
// before recovery is attempted.
const minLapsBeforeRecovery = 3

type gridSlot struct {
	number  string
	class   string
	overall int
}

// LapSource is the slice of the persistent store the recovery reads.
type LapSource interface {
	GetLapLogsUpTo(ctx context.Context, eventID, sessionID, maxLap int) ([]*store.CarLapLog, error)
}

// Recovery tracks starting positions for one event.
type Recovery struct {
	eventID int
	store   LapSource
	logger  zerolog.Logger

	mu        sync.Mutex
	sessionID int
	checked   bool
	live      map[string]gridSlot
}

func NewRecovery(eventID int, st LapSource, logger zerolog.Logger) *Recovery {
	return &Recovery{
		eventID:   eventID,
		store:     st,
		logger:    logger,
		sessionID: -1,
		live:      make(map[string]gridSlot),
	}
}

func (r *Recovery) syncSessionLocked(sessionID int) {
	if sessionID == r.sessionID {
		return
	}
	r.sessionID = sessionID
	r.checked = false
	r.live = make(map[string]gridSlot)
}

// ObserveLive captures the forming grid from a race-info update seen
// before the start: the car has not completed a lap and the field is not
// yet racing for position. It returns patches for cars whose starting
// position settles on a new value.
func (r *Recovery) ObserveLive(sessionID int, flag model.Flag, st *model.SessionState) []*model.CarPositionPatch {
	switch flag {
	case model.FlagUnknown, model.FlagYellow, model.FlagGreen:
	default:
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncSessionLocked(sessionID)

	for _, car := range st.CarPositions {
		if car.LastLapCompleted != 0 || car.OverallPosition <= 0 {
			continue
		}
		r.live[car.Number] = gridSlot{number: car.Number, class: car.Class, overall: car.OverallPosition}
	}
	if len(r.live) == 0 {
		return nil
	}
	slots := make([]gridSlot, 0, len(r.live))
	for _, s := range r.live {
		slots = append(slots, s)
	}
	return startingPatches(slots, st)
}

// TryRecover reconstructs the grid from persisted lap logs. It runs at
// most once per session and only once the race is clearly under way with
// no starting data. The bool reports whether a grid was recovered.
func (r *Recovery) TryRecover(ctx context.Context, sessionID int, st *model.SessionState) ([]*model.CarPositionPatch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncSessionLocked(sessionID)
	if r.checked {
		return nil, false
	}

	anyStarting := false
	racingDeep := false
	for _, car := range st.CarPositions {
		if car.OverallStartingPosition > 0 || car.InClassStartingPosition > 0 {
			anyStarting = true
		}
		if car.LastLapCompleted > minLapsBeforeRecovery && st.CurrentFlag.IsRacing() {
			racingDeep = true
		}
	}
	if anyStarting || !racingDeep {
		return nil, false
	}

	logs, err := r.store.GetLapLogsUpTo(ctx, r.eventID, sessionID, recoveryLapCeiling)
	if err != nil {
		// Transient read failure: leave checked unset so the next update
		// retries.
		r.logger.Error().Err(err).Int("session_id", sessionID).Msg("grid recovery load failed")
		return nil, false
	}
	r.checked = true
	if len(logs) == 0 {
		return nil, false
	}

	leader := leaderNumber(st)
	gLap := -1
	for _, l := range logs {
		if l.CarNumber == leader && l.Flag == model.FlagGreen {
			if gLap < 0 || l.LapNumber < gLap {
				gLap = l.LapNumber
			}
		}
	}
	if gLap <= 0 {
		return nil, false
	}
	gridLap := gLap - 1

	var slots []gridSlot
	for _, l := range logs {
		if l.LapNumber != gridLap || l.Position == nil {
			continue
		}
		slots = append(slots, gridSlot{
			number:  l.CarNumber,
			class:   l.Position.Class,
			overall: l.Position.OverallPosition,
		})
	}
	if len(slots) == 0 {
		return nil, false
	}
	return startingPatches(slots, st), true
}

func leaderNumber(st *model.SessionState) string {
	best := ""
	bestLaps := -1
	for _, car := range st.CarPositions {
		if car.OverallPosition == 1 {
			return car.Number
		}
		if car.LastLapCompleted > bestLaps {
			bestLaps = car.LastLapCompleted
			best = car.Number
		}
	}
	return best
}

// startingPatches turns grid slots into starting-position patches,
// numbering each class 1..N in overall order.
func startingPatches(slots []gridSlot, st *model.SessionState) []*model.CarPositionPatch {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].overall != slots[j].overall {
			return slots[i].overall < slots[j].overall
		}
		return slots[i].number < slots[j].number
	})
	classCounts := make(map[string]int)
	var patches []*model.CarPositionPatch
	for _, s := range slots {
		classCounts[s.class]++
		inClass := classCounts[s.class]
		var cur *model.CarPosition
		for _, car := range st.CarPositions {
			if car.Number == s.number {
				cur = car
				break
			}
		}
		if cur == nil {
			continue
		}
		p := &model.CarPositionPatch{Number: s.number}
		if cur.OverallStartingPosition != s.overall {
			p.OverallStartingPosition = model.Ptr(s.overall)
		}
		if cur.InClassStartingPosition != inClass {
			p.InClassStartingPosition = model.Ptr(inClass)
		}
		if !p.IsEmpty() {
			patches = append(patches, p)
		}
	}
	return patches
}
