// SPDX-License-Identifier: MIT

package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/apexgrid/pitwall/internal/metrics"
	"github.com/apexgrid/pitwall/internal/model"
)

// MemoryHub is an in-process Hub with buffered per-connection channels.
// A subscriber whose buffer is full loses the update; the periodic full
// snapshot covers the gap.
type MemoryHub struct {
	mu        sync.RWMutex
	subs      map[int]map[string]*Subscription
	snapshots map[int]SnapshotFunc
}

// Subscription is one connected client on one event group.
type Subscription struct {
	ID      string
	EventID int
	ch      chan Update
	hub     *MemoryHub
}

// C is the subscriber's update stream.
func (s *Subscription) C() <-chan Update { return s.ch }

// Close detaches the subscription from its group.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	group := s.hub.subs[s.EventID]
	if _, ok := group[s.ID]; !ok {
		return
	}
	delete(group, s.ID)
	if len(group) == 0 {
		delete(s.hub.subs, s.EventID)
	}
	close(s.ch)
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs:      make(map[int]map[string]*Subscription),
		snapshots: make(map[int]SnapshotFunc),
	}
}

// Subscribe attaches a new connection to the event group.
func (h *MemoryHub) Subscribe(eventID int) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		EventID: eventID,
		ch:      make(chan Update, 64),
		hub:     h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[eventID] == nil {
		h.subs[eventID] = make(map[string]*Subscription)
	}
	h.subs[eventID][sub.ID] = sub
	return sub
}

// RegisterSnapshot installs the event's full-state provider.
func (h *MemoryHub) RegisterSnapshot(eventID int, fn SnapshotFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots[eventID] = fn
}

func (h *MemoryHub) send(eventID int, channel string, u Update) {
	h.mu.RLock()
	group := make([]*Subscription, 0, len(h.subs[eventID]))
	for _, s := range h.subs[eventID] {
		group = append(group, s)
	}
	h.mu.RUnlock()
	for _, s := range group {
		select {
		case s.ch <- u:
		default:
			metrics.HubDropsTotal.WithLabelValues(channel).Inc()
		}
	}
}

// BroadcastSession delivers a session patch to the event group.
func (h *MemoryHub) BroadcastSession(ctx context.Context, eventID int, patch *model.SessionStatePatch) error {
	if patch.IsEmpty() {
		return nil
	}
	h.send(eventID, "session", Update{Session: patch})
	return nil
}

// BroadcastCars delivers a batch of car patches to the event group.
func (h *MemoryHub) BroadcastCars(ctx context.Context, eventID int, patches []*model.CarPositionPatch) error {
	if len(patches) == 0 {
		return nil
	}
	h.send(eventID, "cars", Update{Cars: patches})
	return nil
}

// SendFullSnapshot answers a request-reply snapshot call for the given
// connection, using the snapshot provider of the connection's event.
func (h *MemoryHub) SendFullSnapshot(connectionID string) (*model.SessionState, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for eventID, group := range h.subs {
		if _, ok := group[connectionID]; !ok {
			continue
		}
		fn := h.snapshots[eventID]
		if fn == nil {
			return nil, fmt.Errorf("no snapshot provider for event %d", eventID)
		}
		return fn(), nil
	}
	return nil, fmt.Errorf("unknown connection %s", connectionID)
}

var _ Hub = (*MemoryHub)(nil)
