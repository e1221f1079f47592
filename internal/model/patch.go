// SPDX-License-Identifier: MIT

package model

import "time"

// Ptr returns a pointer to v. Convenience for building sparse patches.
func Ptr[T any](v T) *T { return &v }

func pick[T any](a, b *T) *T {
	if b != nil {
		return b
	}
	return a
}

// SessionStatePatch is a sparse diff of the session-wide fields. A nil
// field means "unchanged". Merging two patches is field-wise right-biased.
type SessionStatePatch struct {
	SessionID       *int     `json:"sessionId,omitempty"`
	SessionName     *string  `json:"sessionName,omitempty"`
	CurrentFlag     *Flag    `json:"currentFlag,omitempty"`
	LapsToGo        *int     `json:"lapsToGo,omitempty"`
	TimeToGo        *string  `json:"timeToGo,omitempty"`
	LocalTimeOfDay  *string  `json:"localTimeOfDay,omitempty"`
	RunningRaceTime *string  `json:"runningRaceTime,omitempty"`
	TrackName       *string  `json:"trackName,omitempty"`
	TrackLength     *float64 `json:"trackLength,omitempty"`
}

// IsEmpty reports whether the patch carries no changes.
func (p *SessionStatePatch) IsEmpty() bool {
	return p == nil || *p == SessionStatePatch{}
}

// Merge returns the field-wise right-biased merge of p and next.
// Either argument may be nil.
func (p *SessionStatePatch) Merge(next *SessionStatePatch) *SessionStatePatch {
	if p == nil {
		return next
	}
	if next == nil {
		return p
	}
	return &SessionStatePatch{
		SessionID:       pick(p.SessionID, next.SessionID),
		SessionName:     pick(p.SessionName, next.SessionName),
		CurrentFlag:     pick(p.CurrentFlag, next.CurrentFlag),
		LapsToGo:        pick(p.LapsToGo, next.LapsToGo),
		TimeToGo:        pick(p.TimeToGo, next.TimeToGo),
		LocalTimeOfDay:  pick(p.LocalTimeOfDay, next.LocalTimeOfDay),
		RunningRaceTime: pick(p.RunningRaceTime, next.RunningRaceTime),
		TrackName:       pick(p.TrackName, next.TrackName),
		TrackLength:     pick(p.TrackLength, next.TrackLength),
	}
}

// ApplyTo writes the present fields into the session state.
func (p *SessionStatePatch) ApplyTo(s *SessionState) {
	if p == nil || s == nil {
		return
	}
	if p.SessionID != nil {
		s.SessionID = *p.SessionID
	}
	if p.SessionName != nil {
		s.SessionName = *p.SessionName
	}
	if p.CurrentFlag != nil {
		s.CurrentFlag = *p.CurrentFlag
	}
	if p.LapsToGo != nil {
		s.LapsToGo = *p.LapsToGo
	}
	if p.TimeToGo != nil {
		s.TimeToGo = *p.TimeToGo
	}
	if p.LocalTimeOfDay != nil {
		s.LocalTimeOfDay = *p.LocalTimeOfDay
	}
	if p.RunningRaceTime != nil {
		s.RunningRaceTime = *p.RunningRaceTime
	}
	if p.TrackName != nil {
		s.TrackName = *p.TrackName
	}
	if p.TrackLength != nil {
		s.TrackLength = *p.TrackLength
	}
}

// CarPositionPatch is a sparse diff for one car. Number is always set and
// identifies the car; every other field is present iff it changed.
type CarPositionPatch struct {
	Number string `json:"number"`

	Class         *string `json:"class,omitempty"`
	DriverName    *string `json:"driverName,omitempty"`
	TransponderID *uint32 `json:"transponderId,omitempty"`

	OverallPosition *int `json:"overallPosition,omitempty"`
	ClassPosition   *int `json:"classPosition,omitempty"`

	OverallStartingPosition *int `json:"overallStartingPosition,omitempty"`
	InClassStartingPosition *int `json:"inClassStartingPosition,omitempty"`
	OverallPositionsGained  *int `json:"overallPositionsGained,omitempty"`
	InClassPositionsGained  *int `json:"inClassPositionsGained,omitempty"`

	IsOverallMostPositionsGained *bool `json:"isOverallMostPositionsGained,omitempty"`
	IsClassMostPositionsGained   *bool `json:"isClassMostPositionsGained,omitempty"`

	BestLap          *int    `json:"bestLap,omitempty"`
	BestTime         *string `json:"bestTime,omitempty"`
	LastLapCompleted *int    `json:"lastLapCompleted,omitempty"`
	LastLapTime      *string `json:"lastLapTime,omitempty"`
	TotalTime        *string `json:"totalTime,omitempty"`

	IsBestTime      *bool `json:"isBestTime,omitempty"`
	IsBestTimeClass *bool `json:"isBestTimeClass,omitempty"`

	Gap      *string `json:"gap,omitempty"`
	Interval *string `json:"interval,omitempty"`

	IsEnteredPit     *bool `json:"isEnteredPit,omitempty"`
	IsInPit          *bool `json:"isInPit,omitempty"`
	IsExitedPit      *bool `json:"isExitedPit,omitempty"`
	IsPitStartFinish *bool `json:"isPitStartFinish,omitempty"`
	LapIncludedPit   *bool `json:"lapIncludedPit,omitempty"`

	LapStartTime       *time.Time `json:"lapStartTime,omitempty"`
	ProjectedLapTimeMs *int       `json:"projectedLapTimeMs,omitempty"`

	InClassFastestAveragePace *bool `json:"inClassFastestAveragePace,omitempty"`

	PenalityLaps     *int `json:"penalityLaps,omitempty"`
	PenalityWarnings *int `json:"penalityWarnings,omitempty"`

	TrackFlag *Flag `json:"trackFlag,omitempty"`
	LocalFlag *Flag `json:"localFlag,omitempty"`
}

// IsEmpty reports whether the patch carries no change beyond the key.
// Semantically empty patches must not be dispatched.
func (p *CarPositionPatch) IsEmpty() bool {
	return p == nil || *p == CarPositionPatch{Number: p.Number}
}

// Merge returns the field-wise right-biased merge of p and next. The two
// patches must address the same car number.
func (p *CarPositionPatch) Merge(next *CarPositionPatch) *CarPositionPatch {
	if p == nil {
		return next
	}
	if next == nil {
		return p
	}
	return &CarPositionPatch{
		Number: p.Number,

		Class:         pick(p.Class, next.Class),
		DriverName:    pick(p.DriverName, next.DriverName),
		TransponderID: pick(p.TransponderID, next.TransponderID),

		OverallPosition: pick(p.OverallPosition, next.OverallPosition),
		ClassPosition:   pick(p.ClassPosition, next.ClassPosition),

		OverallStartingPosition: pick(p.OverallStartingPosition, next.OverallStartingPosition),
		InClassStartingPosition: pick(p.InClassStartingPosition, next.InClassStartingPosition),
		OverallPositionsGained:  pick(p.OverallPositionsGained, next.OverallPositionsGained),
		InClassPositionsGained:  pick(p.InClassPositionsGained, next.InClassPositionsGained),

		IsOverallMostPositionsGained: pick(p.IsOverallMostPositionsGained, next.IsOverallMostPositionsGained),
		IsClassMostPositionsGained:   pick(p.IsClassMostPositionsGained, next.IsClassMostPositionsGained),

		BestLap:          pick(p.BestLap, next.BestLap),
		BestTime:         pick(p.BestTime, next.BestTime),
		LastLapCompleted: pick(p.LastLapCompleted, next.LastLapCompleted),
		LastLapTime:      pick(p.LastLapTime, next.LastLapTime),
		TotalTime:        pick(p.TotalTime, next.TotalTime),

		IsBestTime:      pick(p.IsBestTime, next.IsBestTime),
		IsBestTimeClass: pick(p.IsBestTimeClass, next.IsBestTimeClass),

		Gap:      pick(p.Gap, next.Gap),
		Interval: pick(p.Interval, next.Interval),

		IsEnteredPit:     pick(p.IsEnteredPit, next.IsEnteredPit),
		IsInPit:          pick(p.IsInPit, next.IsInPit),
		IsExitedPit:      pick(p.IsExitedPit, next.IsExitedPit),
		IsPitStartFinish: pick(p.IsPitStartFinish, next.IsPitStartFinish),
		LapIncludedPit:   pick(p.LapIncludedPit, next.LapIncludedPit),

		LapStartTime:       pick(p.LapStartTime, next.LapStartTime),
		ProjectedLapTimeMs: pick(p.ProjectedLapTimeMs, next.ProjectedLapTimeMs),

		InClassFastestAveragePace: pick(p.InClassFastestAveragePace, next.InClassFastestAveragePace),

		PenalityLaps:     pick(p.PenalityLaps, next.PenalityLaps),
		PenalityWarnings: pick(p.PenalityWarnings, next.PenalityWarnings),

		TrackFlag: pick(p.TrackFlag, next.TrackFlag),
		LocalFlag: pick(p.LocalFlag, next.LocalFlag),
	}
}

// ApplyTo writes the present fields into the car record.
func (p *CarPositionPatch) ApplyTo(c *CarPosition) {
	if p == nil || c == nil {
		return
	}
	if p.Class != nil {
		c.Class = *p.Class
	}
	if p.DriverName != nil {
		c.DriverName = *p.DriverName
	}
	if p.TransponderID != nil {
		c.TransponderID = *p.TransponderID
	}
	if p.OverallPosition != nil {
		c.OverallPosition = *p.OverallPosition
	}
	if p.ClassPosition != nil {
		c.ClassPosition = *p.ClassPosition
	}
	if p.OverallStartingPosition != nil {
		c.OverallStartingPosition = *p.OverallStartingPosition
	}
	if p.InClassStartingPosition != nil {
		c.InClassStartingPosition = *p.InClassStartingPosition
	}
	if p.OverallPositionsGained != nil {
		c.OverallPositionsGained = *p.OverallPositionsGained
	}
	if p.InClassPositionsGained != nil {
		c.InClassPositionsGained = *p.InClassPositionsGained
	}
	if p.IsOverallMostPositionsGained != nil {
		c.IsOverallMostPositionsGained = *p.IsOverallMostPositionsGained
	}
	if p.IsClassMostPositionsGained != nil {
		c.IsClassMostPositionsGained = *p.IsClassMostPositionsGained
	}
	if p.BestLap != nil {
		c.BestLap = *p.BestLap
	}
	if p.BestTime != nil {
		c.BestTime = *p.BestTime
	}
	if p.LastLapCompleted != nil {
		c.LastLapCompleted = *p.LastLapCompleted
	}
	if p.LastLapTime != nil {
		c.LastLapTime = *p.LastLapTime
	}
	if p.TotalTime != nil {
		c.TotalTime = *p.TotalTime
	}
	if p.IsBestTime != nil {
		c.IsBestTime = *p.IsBestTime
	}
	if p.IsBestTimeClass != nil {
		c.IsBestTimeClass = *p.IsBestTimeClass
	}
	if p.Gap != nil {
		c.Gap = *p.Gap
	}
	if p.Interval != nil {
		c.Interval = *p.Interval
	}
	if p.IsEnteredPit != nil {
		c.IsEnteredPit = *p.IsEnteredPit
	}
	if p.IsInPit != nil {
		c.IsInPit = *p.IsInPit
	}
	if p.IsExitedPit != nil {
		c.IsExitedPit = *p.IsExitedPit
	}
	if p.IsPitStartFinish != nil {
		c.IsPitStartFinish = *p.IsPitStartFinish
	}
	if p.LapIncludedPit != nil {
		c.LapIncludedPit = *p.LapIncludedPit
	}
	if p.LapStartTime != nil {
		c.LapStartTime = *p.LapStartTime
	}
	if p.ProjectedLapTimeMs != nil {
		c.ProjectedLapTimeMs = *p.ProjectedLapTimeMs
	}
	if p.InClassFastestAveragePace != nil {
		c.InClassFastestAveragePace = *p.InClassFastestAveragePace
	}
	if p.PenalityLaps != nil {
		c.PenalityLaps = *p.PenalityLaps
	}
	if p.PenalityWarnings != nil {
		c.PenalityWarnings = *p.PenalityWarnings
	}
	if p.TrackFlag != nil {
		c.TrackFlag = *p.TrackFlag
	}
	if p.LocalFlag != nil {
		c.LocalFlag = *p.LocalFlag
	}
}
