// SPDX-License-Identifier: MIT

// Package store persists session rows, session results, lap logs and
// last-lap markers in Badger. The per-event pipeline is the sole writer
// for its (event, session) keys.
package store

import (
	"time"

	"github.com/apexgrid/pitwall/internal/model"
)

// Session is one practice/qualifying/race run of an event.
type Session struct {
	EventID     int               `json:"eventId"`
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	Type        model.SessionType `json:"type,omitempty"`
	StartTime   time.Time         `json:"startTime"`
	EndTime     time.Time         `json:"endTime,omitzero"`
	IsLive      bool              `json:"isLive"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

// SessionResult snapshots the final state of a finished session.
type SessionResult struct {
	EventID   int                 `json:"eventId"`
	SessionID int                 `json:"sessionId"`
	StartTime time.Time           `json:"startTime"`
	State     *model.SessionState `json:"state"`
}

// CarLapLog is one immutable lap record.
type CarLapLog struct {
	EventID   int                `json:"eventId"`
	SessionID int                `json:"sessionId"`
	CarNumber string             `json:"carNumber"`
	LapNumber int                `json:"lapNumber"`
	Timestamp time.Time          `json:"timestamp"`
	Flag      model.Flag         `json:"flag"`
	Position  *model.CarPosition `json:"position"`
}

// CarLastLap marks the last logged lap per (event, session, car) so a
// restart never logs the same lap twice.
type CarLastLap struct {
	EventID       int       `json:"eventId"`
	SessionID     int       `json:"sessionId"`
	CarNumber     string    `json:"carNumber"`
	LastLapNumber int       `json:"lastLapNumber"`
	LastLapTime   time.Time `json:"lastLapTime"`
}
