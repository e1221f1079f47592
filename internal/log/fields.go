// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldEventID   = "event_id"
	FieldSessionID = "session_id"
	FieldCarNumber = "car_number"
	FieldClass     = "class"

	// Pipeline fields
	FieldComponent   = "component"
	FieldMessageType = "message_type"
	FieldCommand     = "command"

	// Timing fields
	FieldLap      = "lap"
	FieldFlag     = "flag"
	FieldPosition = "position"
)
