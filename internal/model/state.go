// SPDX-License-Identifier: MIT

package model

import "strings"

// SessionType classifies a session by what it scores.
type SessionType string

const (
	SessionTypePractice   SessionType = "practice"
	SessionTypeQualifying SessionType = "qualifying"
	SessionTypeRace       SessionType = "race"
)

// SessionTypeFromName derives the session type from its display name.
// Qualifying keywords win over practice keywords; anything else is a race.
func SessionTypeFromName(name string) SessionType {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "qual"):
		return SessionTypeQualifying
	case strings.Contains(n, "practice"), strings.Contains(n, "test"), strings.Contains(n, "warm"):
		return SessionTypePractice
	default:
		return SessionTypeRace
	}
}

// EventEntry is one registration record from the competitor feed.
type EventEntry struct {
	Number        string `json:"number"`
	Name          string `json:"name,omitempty"`
	Class         string `json:"class,omitempty"`
	ClassNum      int    `json:"classNum,omitempty"`
	Crew          string `json:"crew,omitempty"`
	TransponderID uint32 `json:"transponderId,omitempty"`
}

// Announcement is a free-text message surfaced alongside timing data.
type Announcement struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SessionState is the live in-memory projection for the session currently
// being processed. It is owned by the per-event pipeline; see the pipeline
// package for the locking rules.
type SessionState struct {
	EventID     int    `json:"eventId"`
	SessionID   int    `json:"sessionId"`
	SessionName string `json:"sessionName,omitempty"`

	CurrentFlag     Flag   `json:"currentFlag,omitempty"`
	LapsToGo        int    `json:"lapsToGo,omitempty"`
	TimeToGo        string `json:"timeToGo,omitempty"`
	LocalTimeOfDay  string `json:"localTimeOfDay,omitempty"`
	RunningRaceTime string `json:"runningRaceTime,omitempty"`

	TrackName   string  `json:"trackName,omitempty"`
	TrackLength float64 `json:"trackLength,omitempty"`

	CarPositions  []*CarPosition         `json:"carPositions,omitempty"`
	EventEntries  map[string]*EventEntry `json:"eventEntries,omitempty"`
	Classes       map[int]string         `json:"classes,omitempty"`
	FlagDurations []FlagDuration         `json:"flagDurations,omitempty"`
	ClassColors   map[string]string      `json:"classColors,omitempty"`
	Announcements []Announcement         `json:"announcements,omitempty"`
}

// NewSessionState returns an empty state for the given event.
func NewSessionState(eventID int) *SessionState {
	return &SessionState{
		EventID:      eventID,
		CurrentFlag:  FlagUnknown,
		EventEntries: make(map[string]*EventEntry),
		Classes:      make(map[int]string),
		ClassColors:  make(map[string]string),
	}
}

// Clone returns a deep copy. Readers that need the state outside the lock
// must copy before releasing it.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.CarPositions = make([]*CarPosition, len(s.CarPositions))
	for i, c := range s.CarPositions {
		out.CarPositions[i] = c.Clone()
	}
	out.EventEntries = make(map[string]*EventEntry, len(s.EventEntries))
	for k, e := range s.EventEntries {
		ec := *e
		out.EventEntries[k] = &ec
	}
	out.Classes = make(map[int]string, len(s.Classes))
	for k, v := range s.Classes {
		out.Classes[k] = v
	}
	out.FlagDurations = append([]FlagDuration(nil), s.FlagDurations...)
	out.ClassColors = make(map[string]string, len(s.ClassColors))
	for k, v := range s.ClassColors {
		out.ClassColors[k] = v
	}
	out.Announcements = append([]Announcement(nil), s.Announcements...)
	return &out
}
