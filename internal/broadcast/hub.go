// SPDX-License-Identifier: MIT

// Package broadcast fans consolidated patches out to per-event subscriber
// groups and answers full-snapshot requests.
package broadcast

import (
	"context"

	"github.com/apexgrid/pitwall/internal/model"
)

// Update is one consolidated flush delivered to subscribers. Session may
// be nil when only car fields changed.
type Update struct {
	Session *model.SessionStatePatch  `json:"session,omitempty"`
	Cars    []*model.CarPositionPatch `json:"cars,omitempty"`
}

// Hub is the transport surface the pipeline dispatches into. Sends are
// best-effort: a failed or slow subscriber is dropped, never retried;
// clients reconcile through SendFullSnapshot.
type Hub interface {
	BroadcastSession(ctx context.Context, eventID int, patch *model.SessionStatePatch) error
	BroadcastCars(ctx context.Context, eventID int, patches []*model.CarPositionPatch) error
}

// SnapshotFunc returns the full current state for an event, used to
// answer request-reply snapshot calls from (re)connecting clients.
type SnapshotFunc func() *model.SessionState
