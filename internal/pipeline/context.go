// SPDX-License-Identifier: MIT

// Package pipeline contains the per-event session processing core: the
// shared session context, the ordered message coordinator, the patch
// consolidator and the consistency checker.
package pipeline

import (
	"sync"
	"time"

	"github.com/apexgrid/pitwall/internal/model"
)

// resetSnapshotWindow suppresses repeated reset snapshots arriving in a
// tight burst from the timing source.
const resetSnapshotWindow = 5 * time.Second

// SessionContext owns the live SessionState and its lookups. The write
// lock serializes every mutation; readers either hold the read lock or
// work on a deep copy taken under it.
//
// Methods suffixed "Locked" assume the caller already holds the write
// lock.
type SessionContext struct {
	mu sync.RWMutex

	state    *model.SessionState
	previous *model.SessionState

	carsByNumber        map[string]*model.CarPosition
	numberByTransponder map[uint32]string

	lastResetAt  time.Time
	lastLapTimes map[string]string
}

// NewSessionContext creates the context for one event.
func NewSessionContext(eventID int) *SessionContext {
	return &SessionContext{
		state:               model.NewSessionState(eventID),
		carsByNumber:        make(map[string]*model.CarPosition),
		numberByTransponder: make(map[uint32]string),
		lastLapTimes:        make(map[string]string),
	}
}

func (sc *SessionContext) Lock()    { sc.mu.Lock() }
func (sc *SessionContext) Unlock()  { sc.mu.Unlock() }
func (sc *SessionContext) RLock()   { sc.mu.RLock() }
func (sc *SessionContext) RUnlock() { sc.mu.RUnlock() }

// StateLocked returns the live state. Caller must hold a lock.
func (sc *SessionContext) StateLocked() *model.SessionState { return sc.state }

// PreviousLocked returns the pre-reset snapshot, if any.
func (sc *SessionContext) PreviousLocked() *model.SessionState { return sc.previous }

// Snapshot deep-copies the state under the read lock.
func (sc *SessionContext) Snapshot() *model.SessionState {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.state.Clone()
}

// SnapshotCars deep-copies just the car list under the read lock.
func (sc *SessionContext) SnapshotCars() []*model.CarPosition {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make([]*model.CarPosition, len(sc.state.CarPositions))
	for i, c := range sc.state.CarPositions {
		out[i] = c.Clone()
	}
	return out
}

// GetCarByNumberLocked returns the live car record, or nil.
func (sc *SessionContext) GetCarByNumberLocked(number string) *model.CarPosition {
	return sc.carsByNumber[number]
}

// GetCarNumberForTransponderLocked resolves a transponder to its car.
func (sc *SessionContext) GetCarNumberForTransponderLocked(id uint32) (string, bool) {
	n, ok := sc.numberByTransponder[id]
	return n, ok
}

// UpdateCarsLocked upserts cars by number and maintains both lookups. A
// car whose transponder changed evicts its stale binding. Cars created
// after a reset inherit their pre-reset last lap time when the feed has
// not yet re-announced one.
func (sc *SessionContext) UpdateCarsLocked(cars []*model.CarPosition) {
	for _, car := range cars {
		if car == nil || car.Number == "" {
			continue
		}
		existing, ok := sc.carsByNumber[car.Number]
		if !ok {
			if car.LastLapTime == "" {
				if prev, ok := sc.lastLapTimes[car.Number]; ok {
					car.LastLapTime = prev
				}
			}
			sc.carsByNumber[car.Number] = car
			sc.state.CarPositions = append(sc.state.CarPositions, car)
			existing = car
		} else if existing != car {
			*existing = *car
		}
		if existing.TransponderID != 0 {
			if old, ok := sc.numberByTransponder[existing.TransponderID]; ok && old != existing.Number {
				delete(sc.numberByTransponder, existing.TransponderID)
			}
			sc.numberByTransponder[existing.TransponderID] = existing.Number
		}
	}
}

// EnsureCarLocked returns the live record for number, creating it when
// the feed references a car not seen before.
func (sc *SessionContext) EnsureCarLocked(number string) *model.CarPosition {
	if car, ok := sc.carsByNumber[number]; ok {
		return car
	}
	car := &model.CarPosition{Number: number}
	sc.UpdateCarsLocked([]*model.CarPosition{car})
	return sc.carsByNumber[number]
}

// ResetCommandLocked clears the car list, entries and both lookups. When
// the previous reset is older than the suppression window it first
// snapshots the state (for final-result persistence) and records each
// car's last lap time so a practice-to-qualifying restart looks seamless.
func (sc *SessionContext) ResetCommandLocked(now time.Time) {
	if sc.lastResetAt.IsZero() || now.Sub(sc.lastResetAt) > resetSnapshotWindow {
		sc.previous = sc.state.Clone()
		sc.lastLapTimes = make(map[string]string, len(sc.state.CarPositions))
		for _, car := range sc.state.CarPositions {
			if car.LastLapTime != "" {
				sc.lastLapTimes[car.Number] = car.LastLapTime
			}
		}
	}
	sc.lastResetAt = now
	sc.state.CarPositions = nil
	sc.state.EventEntries = make(map[string]*model.EventEntry)
	sc.carsByNumber = make(map[string]*model.CarPosition)
	sc.numberByTransponder = make(map[uint32]string)
}

// NewSession resets the context and installs a fresh state for the given
// session. It takes the write lock itself.
func (sc *SessionContext) NewSession(id int, name string, now time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.ResetCommandLocked(now)
	eventID := sc.state.EventID
	sc.state = model.NewSessionState(eventID)
	sc.state.SessionID = id
	sc.state.SessionName = name
}
