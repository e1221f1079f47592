// SPDX-License-Identifier: MIT

package rmonitor

import (
	"strconv"
	"strings"

	"github.com/apexgrid/pitwall/internal/model"
)

// StateChange is the output of a calculator: sparse patches plus a reset
// marker for $I. A nil StateChange means the command changed nothing.
type StateChange struct {
	Session *model.SessionStatePatch
	Cars    []*model.CarPositionPatch
	Reset   bool
}

// Calculator derives the minimal state change a command implies against
// the current session state. Calculators may update the bookkeeping
// dictionaries on the state (entries, class labels, class colors) but
// never touch CarPositions directly; car mutations flow back through the
// returned patches so the pipeline can diff and dispatch them.
type Calculator interface {
	GetChanges(st *model.SessionState) *StateChange
}

var classPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

func findCar(st *model.SessionState, number string) *model.CarPosition {
	for _, c := range st.CarPositions {
		if c.Number == number {
			return c
		}
	}
	return nil
}

// carOrZero returns the current car record, or an empty one so field
// comparisons against a not-yet-seen car treat every value as changed.
func carOrZero(st *model.SessionState, number string) *model.CarPosition {
	if c := findCar(st, number); c != nil {
		return c
	}
	return &model.CarPosition{Number: number}
}

// numberForReg resolves a registration number to a car number via the
// entry list, falling back to the registration itself.
func numberForReg(st *model.SessionState, regNum string) string {
	if e, ok := st.EventEntries[regNum]; ok && e.Number != "" {
		return e.Number
	}
	return regNum
}

func (h Heartbeat) GetChanges(st *model.SessionState) *StateChange {
	p := &model.SessionStatePatch{}
	if st.LapsToGo != h.LapsToGo {
		p.LapsToGo = model.Ptr(h.LapsToGo)
	}
	if st.TimeToGo != h.TimeToGo {
		p.TimeToGo = model.Ptr(h.TimeToGo)
	}
	if st.LocalTimeOfDay != h.LocalTimeOfDay {
		p.LocalTimeOfDay = model.Ptr(h.LocalTimeOfDay)
	}
	if st.RunningRaceTime != h.RunningRaceTime {
		p.RunningRaceTime = model.Ptr(h.RunningRaceTime)
	}
	if flag := model.ParseFlag(h.FlagText); st.CurrentFlag != flag {
		p.CurrentFlag = model.Ptr(flag)
	}
	if p.IsEmpty() {
		return nil
	}
	return &StateChange{Session: p}
}

func (r RunInfo) GetChanges(st *model.SessionState) *StateChange {
	if r.SessionRef == st.SessionID {
		return nil
	}
	return &StateChange{Session: &model.SessionStatePatch{
		SessionID:   model.Ptr(r.SessionRef),
		SessionName: model.Ptr(r.SessionName),
	}}
}

func (c ClassInfo) GetChanges(st *model.SessionState) *StateChange {
	prev, known := st.Classes[c.ClassNum]
	if known && prev == c.Label {
		return nil
	}
	st.Classes[c.ClassNum] = c.Label
	if _, ok := st.ClassColors[c.Label]; !ok {
		st.ClassColors[c.Label] = classPalette[len(st.ClassColors)%len(classPalette)]
	}

	// Re-resolve the label on every entry registered under this class.
	var cars []*model.CarPositionPatch
	for _, e := range st.EventEntries {
		if e.ClassNum != c.ClassNum || e.Class == c.Label {
			continue
		}
		e.Class = c.Label
		if cur := findCar(st, e.Number); cur != nil && cur.Class != c.Label {
			cars = append(cars, &model.CarPositionPatch{
				Number: e.Number,
				Class:  model.Ptr(c.Label),
			})
		}
	}
	return &StateChange{Cars: cars}
}

func (a CompetitorLong) GetChanges(st *model.SessionState) *StateChange {
	return upsertCompetitor(st, a.RegNum, a.Number, a.Transponder, a.ClassNum, a.FirstName, a.LastName)
}

func (a CompetitorShort) GetChanges(st *model.SessionState) *StateChange {
	return upsertCompetitor(st, a.RegNum, a.Number, 0, a.ClassNum, a.FirstName, a.LastName)
}

// upsertCompetitor records the registration and diffs identity fields
// against the current car. A transponder of zero means "not announced"
// and leaves any known binding alone.
func upsertCompetitor(st *model.SessionState, regNum, number string, transponder uint32, classNum int, first, last string) *StateChange {
	driver := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	label := st.Classes[classNum]

	e, ok := st.EventEntries[regNum]
	if !ok {
		e = &model.EventEntry{Number: number}
		st.EventEntries[regNum] = e
	}
	e.Number = number
	e.Name = driver
	e.ClassNum = classNum
	e.Class = label
	if transponder != 0 {
		e.TransponderID = transponder
	}

	cur := carOrZero(st, number)
	p := &model.CarPositionPatch{Number: number}
	if label != "" && cur.Class != label {
		p.Class = model.Ptr(label)
	}
	if driver != "" && cur.DriverName != driver {
		p.DriverName = model.Ptr(driver)
	}
	if transponder != 0 && cur.TransponderID != transponder {
		p.TransponderID = model.Ptr(transponder)
	}
	if p.IsEmpty() && findCar(st, number) != nil {
		return nil
	}
	return &StateChange{Cars: []*model.CarPositionPatch{p}}
}

func (g RaceInfo) GetChanges(st *model.SessionState) *StateChange {
	number := numberForReg(st, g.RegNum)
	if number == "" {
		return nil
	}
	cur := carOrZero(st, number)
	p := &model.CarPositionPatch{Number: number}
	if cur.OverallPosition != g.Position {
		p.OverallPosition = model.Ptr(g.Position)
	}
	if cur.LastLapCompleted != g.Laps {
		p.LastLapCompleted = model.Ptr(g.Laps)
	}
	if cur.TotalTime != g.RaceTime {
		p.TotalTime = model.Ptr(g.RaceTime)
	}
	if p.IsEmpty() && findCar(st, number) != nil {
		return nil
	}
	return &StateChange{Cars: []*model.CarPositionPatch{p}}
}

func (h PracticeBest) GetChanges(st *model.SessionState) *StateChange {
	number := numberForReg(st, h.RegNum)
	if number == "" {
		return nil
	}
	cur := carOrZero(st, number)
	p := &model.CarPositionPatch{Number: number}
	if cur.BestLap != h.BestLap {
		p.BestLap = model.Ptr(h.BestLap)
	}
	if cur.BestTime != h.BestLapTime {
		p.BestTime = model.Ptr(h.BestLapTime)
	}
	if p.IsEmpty() && findCar(st, number) != nil {
		return nil
	}
	return &StateChange{Cars: []*model.CarPositionPatch{p}}
}

func (j PassingInfo) GetChanges(st *model.SessionState) *StateChange {
	number := numberForReg(st, j.RegNum)
	if number == "" {
		return nil
	}
	cur := carOrZero(st, number)
	p := &model.CarPositionPatch{Number: number}
	if cur.LastLapTime != j.LapTime {
		p.LastLapTime = model.Ptr(j.LapTime)
	}
	if cur.TotalTime != j.RaceTime {
		p.TotalTime = model.Ptr(j.RaceTime)
	}
	if p.IsEmpty() && findCar(st, number) != nil {
		return nil
	}
	return &StateChange{Cars: []*model.CarPositionPatch{p}}
}

func (e Setting) GetChanges(st *model.SessionState) *StateChange {
	switch e.Key {
	case "TRACKNAME":
		if st.TrackName == e.Value {
			return nil
		}
		return &StateChange{Session: &model.SessionStatePatch{TrackName: model.Ptr(e.Value)}}
	case "TRACKLENGTH":
		length, err := strconv.ParseFloat(strings.TrimSpace(e.Value), 64)
		if err != nil || st.TrackLength == length {
			return nil
		}
		return &StateChange{Session: &model.SessionStatePatch{TrackLength: model.Ptr(length)}}
	default:
		return nil
	}
}

func (InitRecord) GetChanges(*model.SessionState) *StateChange {
	return &StateChange{Reset: true}
}

func (CorrectedFinish) GetChanges(*model.SessionState) *StateChange { return nil }
