// SPDX-License-Identifier: MIT

package model

import "time"

// InvalidPosition marks a positions-gained value that cannot be computed
// yet because the starting position is unknown.
const InvalidPosition = -9999

// CarPosition is the live scoring record for one car within a session.
type CarPosition struct {
	Number        string `json:"number"`
	Class         string `json:"class,omitempty"`
	DriverName    string `json:"driverName,omitempty"`
	TransponderID uint32 `json:"transponderId,omitempty"`

	OverallPosition int `json:"overallPosition,omitempty"`
	ClassPosition   int `json:"classPosition,omitempty"`

	OverallStartingPosition int `json:"overallStartingPosition,omitempty"`
	InClassStartingPosition int `json:"inClassStartingPosition,omitempty"`
	OverallPositionsGained  int `json:"overallPositionsGained,omitempty"`
	InClassPositionsGained  int `json:"inClassPositionsGained,omitempty"`

	IsOverallMostPositionsGained bool `json:"isOverallMostPositionsGained,omitempty"`
	IsClassMostPositionsGained   bool `json:"isClassMostPositionsGained,omitempty"`

	BestLap          int    `json:"bestLap,omitempty"`
	BestTime         string `json:"bestTime,omitempty"`
	LastLapCompleted int    `json:"lastLapCompleted,omitempty"`
	LastLapTime      string `json:"lastLapTime,omitempty"`
	TotalTime        string `json:"totalTime,omitempty"`

	IsBestTime      bool `json:"isBestTime,omitempty"`
	IsBestTimeClass bool `json:"isBestTimeClass,omitempty"`

	Gap      string `json:"gap,omitempty"`
	Interval string `json:"interval,omitempty"`

	IsEnteredPit     bool `json:"isEnteredPit,omitempty"`
	IsInPit          bool `json:"isInPit,omitempty"`
	IsExitedPit      bool `json:"isExitedPit,omitempty"`
	IsPitStartFinish bool `json:"isPitStartFinish,omitempty"`
	LapIncludedPit   bool `json:"lapIncludedPit,omitempty"`

	LapStartTime       time.Time `json:"lapStartTime,omitzero"`
	ProjectedLapTimeMs int       `json:"projectedLapTimeMs,omitempty"`

	InClassFastestAveragePace bool `json:"inClassFastestAveragePace,omitempty"`

	PenalityLaps     int `json:"penalityLaps,omitempty"`
	PenalityWarnings int `json:"penalityWarnings,omitempty"`

	TrackFlag Flag `json:"trackFlag,omitempty"`
	LocalFlag Flag `json:"localFlag,omitempty"`
}

// InPit reports whether any of the pit-cycle flags is set.
func (c *CarPosition) InPit() bool {
	return c.IsEnteredPit || c.IsInPit || c.IsExitedPit || c.IsPitStartFinish
}

// Clone returns a deep copy of the car record.
func (c *CarPosition) Clone() *CarPosition {
	cp := *c
	return &cp
}
