// SPDX-License-Identifier: MIT

package model

import "time"

// Message type discriminators for the inbound timing envelope.
const (
	MessageTypeRMonitor       = "rmonitor"
	MessageTypeMultiloop      = "multiloop"
	MessageTypeX2Pass         = "x2pass"
	MessageTypeX2Loop         = "x2loop"
	MessageTypeFlags          = "flags"
	MessageTypeSessionChanged = "event-session-changed"
	MessageTypeConfigChanged  = "event-configuration-changed"
	MessageTypeCompetitors    = "competitors"
)

// TimingMessage is the envelope every upstream source delivers into the
// per-event pipeline.
type TimingMessage struct {
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	SessionID int       `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// RelayResetRequest asks the upstream relay to resynchronise an event's
// timing feed. ForceTimingDataReset additionally requests a full data
// reset at the timing source rather than a plain reconnect.
type RelayResetRequest struct {
	EventID              int  `json:"eventId"`
	ForceTimingDataReset bool `json:"forceTimingDataReset"`
}
