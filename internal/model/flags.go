// SPDX-License-Identifier: MIT

// Package model holds the shared timing data model: session state, car
// positions, sparse patches and the flag enum.
package model

import (
	"strings"
	"time"
)

// Flag is the track-wide or car-local flag condition.
type Flag string

const (
	FlagUnknown   Flag = "Unknown"
	FlagGreen     Flag = "Green"
	FlagYellow    Flag = "Yellow"
	FlagRed       Flag = "Red"
	FlagWhite     Flag = "White"
	FlagCheckered Flag = "Checkered"
	FlagPurple35  Flag = "Purple35"
)

// ParseFlag maps free-form flag text from the timing feed to a Flag.
// Matching is case-insensitive after trimming; anything unrecognised
// maps to FlagUnknown.
func ParseFlag(s string) Flag {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "green":
		return FlagGreen
	case "yellow":
		return FlagYellow
	case "red":
		return FlagRed
	case "white":
		return FlagWhite
	case "checkered":
		return FlagCheckered
	case "purple35":
		return FlagPurple35
	default:
		return FlagUnknown
	}
}

// IsActive reports whether cars are circulating under this flag.
func (f Flag) IsActive() bool {
	switch f {
	case FlagGreen, FlagYellow, FlagWhite, FlagPurple35:
		return true
	}
	return false
}

// IsRacing reports whether the flag counts as a racing condition for
// starting-position recovery purposes.
func (f Flag) IsRacing() bool {
	switch f {
	case FlagGreen, FlagYellow, FlagRed, FlagPurple35:
		return true
	}
	return false
}

// FlagDuration records one contiguous range a flag was displayed.
// EndUtc is zero while the range is still open.
type FlagDuration struct {
	Flag     Flag      `json:"flag"`
	StartUtc time.Time `json:"startUtc"`
	EndUtc   time.Time `json:"endUtc,omitzero"`
}
