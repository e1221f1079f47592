// SPDX-License-Identifier: MIT

// Package rmonitor parses the line-oriented result-monitor protocol and
// maps each command onto a state-change calculator that produces sparse
// patches against the current session state.
package rmonitor

// Command is one parsed result-monitor line.
type Command interface {
	// Marker returns the protocol marker the command was parsed from,
	// e.g. "$F".
	Marker() string
}

// Heartbeat is the periodic session-wide status line ($F).
type Heartbeat struct {
	LapsToGo        int
	TimeToGo        string
	LocalTimeOfDay  string
	RunningRaceTime string
	FlagText        string
}

// RunInfo announces the active session ($B).
type RunInfo struct {
	SessionRef  int
	SessionName string
}

// CompetitorLong is the full competitor identification record ($A).
type CompetitorLong struct {
	RegNum      string
	Number      string
	Transponder uint32
	FirstName   string
	LastName    string
	Nationality string
	ClassNum    int
}

// CompetitorShort is the compact competitor record ($COMP).
type CompetitorShort struct {
	RegNum      string
	Number      string
	ClassNum    int
	FirstName   string
	LastName    string
	Nationality string
	Sponsor     string
}

// ClassInfo binds a class number to its display label ($C).
type ClassInfo struct {
	ClassNum int
	Label    string
}

// Setting is a key/value track setting ($E).
type Setting struct {
	Key   string
	Value string
}

// RaceInfo is the per-car race scoring line ($G).
type RaceInfo struct {
	Position int
	RegNum   string
	Laps     int
	RaceTime string
}

// PracticeBest is the per-car practice/qualifying scoring line ($H).
type PracticeBest struct {
	Position    int
	RegNum      string
	BestLap     int
	BestLapTime string
}

// InitRecord is the timing-source reset announcement ($I).
type InitRecord struct {
	TimeOfDay string
	Date      string
}

// PassingInfo is the per-car passing record ($J).
type PassingInfo struct {
	RegNum   string
	LapTime  string
	RaceTime string
}

// CorrectedFinish is acknowledged but carries no state change ($COR).
type CorrectedFinish struct{}

func (Heartbeat) Marker() string       { return "$F" }
func (RunInfo) Marker() string         { return "$B" }
func (CompetitorLong) Marker() string  { return "$A" }
func (CompetitorShort) Marker() string { return "$COMP" }
func (ClassInfo) Marker() string       { return "$C" }
func (Setting) Marker() string         { return "$E" }
func (RaceInfo) Marker() string        { return "$G" }
func (PracticeBest) Marker() string    { return "$H" }
func (InitRecord) Marker() string      { return "$I" }
func (PassingInfo) Marker() string     { return "$J" }
func (CorrectedFinish) Marker() string { return "$COR" }
