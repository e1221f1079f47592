// SPDX-License-Identifier: MIT

// Package app owns the per-event processing groups. Events are created
// lazily on first message and share the process-wide stores and hub.
package app

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/apexgrid/pitwall/internal/broadcast"
	"github.com/apexgrid/pitwall/internal/history"
	"github.com/apexgrid/pitwall/internal/log"
	"github.com/apexgrid/pitwall/internal/model"
	"github.com/apexgrid/pitwall/internal/monitor"
	"github.com/apexgrid/pitwall/internal/pipeline"
	"github.com/apexgrid/pitwall/internal/store"
)

// PublishResetFunc forwards consistency-driven resync requests to the
// upstream relay. A nil func disables the consistency checker.
type PublishResetFunc func(model.RelayResetRequest)

// eventGroup bundles everything that lives per event.
type eventGroup struct {
	coordinator *pipeline.Coordinator
	monitor     *monitor.Monitor
}

// Manager multiplexes inbound traffic onto per-event pipelines.
type Manager struct {
	store        *store.Store
	redis        redis.Cmdable
	hub          *broadcast.MemoryHub
	publishReset PublishResetFunc
	logger       zerolog.Logger

	mu     sync.Mutex
	events map[int]*eventGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewManager wires the shared collaborators. Start the per-event
// background workers by posting traffic; they spin up on first use.
func NewManager(st *store.Store, rdb redis.Cmdable, hub *broadcast.MemoryHub, publishReset PublishResetFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:        st,
		redis:        rdb,
		hub:          hub,
		publishReset: publishReset,
		logger:       log.WithComponent("app"),
		events:       make(map[int]*eventGroup),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Post routes one timing message to its event pipeline, creating the
// pipeline on first sight of the event.
func (m *Manager) Post(ctx context.Context, eventID int, msg model.TimingMessage) error {
	group, err := m.group(eventID)
	if err != nil {
		return err
	}
	return group.coordinator.Post(ctx, msg)
}

// Coordinator returns the event's coordinator, creating the event group
// if needed.
func (m *Manager) Coordinator(eventID int) (*pipeline.Coordinator, error) {
	group, err := m.group(eventID)
	if err != nil {
		return nil, err
	}
	return group.coordinator, nil
}

// History returns a lap-history reader scoped to the event.
func (m *Manager) History(eventID int) *history.Store {
	return history.NewStore(m.redis, eventID, log.WithEvent("history", eventID))
}

// Store exposes the durable store for read surfaces.
func (m *Manager) Store() *store.Store { return m.store }

func (m *Manager) group(eventID int) (*eventGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, context.Canceled
	}
	if g, ok := m.events[eventID]; ok {
		return g, nil
	}

	opts := pipeline.Options{
		EventID: eventID,
		Store:   m.store,
		History: m.History(eventID),
		Hub:     m.hub,
	}
	if m.publishReset != nil {
		opts.PublishReset = func(req model.RelayResetRequest) { m.publishReset(req) }
	}
	coord := pipeline.NewCoordinator(opts)
	mon := monitor.New(eventID, m.store, coord.Session(), nil, log.WithEvent("monitor", eventID))
	coord.SetObserver(mon)

	m.hub.RegisterSnapshot(eventID, func() *model.SessionState {
		return coord.Session().Snapshot()
	})

	coord.Start(m.ctx)
	m.events[eventID] = &eventGroup{coordinator: coord, monitor: mon}
	m.logger.Info().Int(log.FieldEventID, eventID).Msg("event pipeline created")
	return m.events[eventID], nil
}

// Close drains every event pipeline. Safe to call once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	groups := make([]*eventGroup, 0, len(m.events))
	for _, g := range m.events {
		groups = append(groups, g)
	}
	m.mu.Unlock()

	for _, g := range groups {
		g.coordinator.Close()
		g.monitor.Close()
	}
	m.cancel()
}
