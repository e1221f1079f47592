// SPDX-License-Identifier: MIT

// Package monitor tracks the live session of an event: it keeps the
// session rows fresh, detects a race finishing with no follow-up session
// and finalizes sessions into durable results.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/apexgrid/pitwall/internal/metrics"
	"github.com/apexgrid/pitwall/internal/model"
	"github.com/apexgrid/pitwall/internal/pipeline"
	"github.com/apexgrid/pitwall/internal/store"
)

const (
	// touchDebounce coalesces LastUpdated writes for the live session.
	touchDebounce = 1500 * time.Millisecond
	// finishingTimeout is how long, in event time, the field must be
	// static after checkered before the session finalizes.
	finishingTimeout = 60 * time.Second
)

// FinalizedFunc observes every finalized session.
type FinalizedFunc func(eventID, sessionID int)

// Monitor watches one event.
type Monitor struct {
	eventID int
	store   *store.Store
	sc      *pipeline.SessionContext
	logger  zerolog.Logger

	onFinalized FinalizedFunc

	mu            sync.Mutex
	liveSessionID int
	liveStart     time.Time
	touchTimer    *time.Timer

	prevFlag          model.Flag
	finishing         bool
	checkeredSnapshot map[string]int
	countdownBase     time.Duration
	lastEventTime     time.Duration
	sawEventTime      bool
}

func New(eventID int, st *store.Store, sc *pipeline.SessionContext, onFinalized FinalizedFunc, logger zerolog.Logger) *Monitor {
	return &Monitor{
		eventID:     eventID,
		store:       st,
		sc:          sc,
		logger:      logger,
		onFinalized: onFinalized,
		prevFlag:    model.FlagUnknown,
	}
}

// Close stops any pending debounce timer.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touchTimer != nil {
		m.touchTimer.Stop()
		m.touchTimer = nil
	}
}

// OnSessionChanged handles an upstream session-changed notification.
// A repeat of the live session only refreshes its LastUpdated row; a new
// session finalizes the previous one and goes live.
func (m *Monitor) OnSessionChanged(ctx context.Context, sessionID int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID == m.liveSessionID && m.liveSessionID != 0 {
		m.scheduleTouchLocked()
		return
	}
	if m.liveSessionID != 0 {
		m.finalizeLocked(context.WithoutCancel(ctx), m.liveSessionID)
	}
	now := time.Now().UTC()
	m.liveSessionID = sessionID
	m.liveStart = now
	m.resetFinishingLocked()
	sess := &store.Session{
		EventID:     m.eventID,
		ID:          sessionID,
		Name:        name,
		Type:        model.SessionTypeFromName(name),
		StartTime:   now,
		IsLive:      true,
		LastUpdated: now,
	}
	if err := m.store.UpsertSession(ctx, sess); err != nil {
		m.logger.Error().Err(err).Int("session_id", sessionID).Msg("session upsert failed")
	}
}

func (m *Monitor) scheduleTouchLocked() {
	if m.touchTimer != nil {
		return
	}
	sessionID := m.liveSessionID
	m.touchTimer = time.AfterFunc(touchDebounce, func() {
		m.mu.Lock()
		m.touchTimer = nil
		m.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.TouchSession(ctx, m.eventID, sessionID, time.Now().UTC()); err != nil {
			m.logger.Warn().Err(err).Int("session_id", sessionID).Msg("session touch failed")
		}
	})
}

func (m *Monitor) resetFinishingLocked() {
	m.finishing = false
	m.checkeredSnapshot = nil
	m.sawEventTime = false
}

// OnStateUpdate runs finishing detection against the freshly
// consolidated state. It is called after every dispatched flush.
func (m *Monitor) OnStateUpdate(ctx context.Context) {
	st := m.sc.Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()

	flag := st.CurrentFlag
	eventTime := model.ParseLapTime(st.RunningRaceTime)

	if !m.finishing {
		if m.prevFlag.IsActive() && flag == model.FlagCheckered {
			m.finishing = true
			m.checkeredSnapshot = make(map[string]int, len(st.CarPositions))
			for _, car := range st.CarPositions {
				m.checkeredSnapshot[car.Number] = car.LastLapCompleted
			}
			m.countdownBase = eventTime
			m.lastEventTime = eventTime
			m.sawEventTime = true
		}
		m.prevFlag = flag
		return
	}
	m.prevFlag = flag

	changed := 0
	for _, car := range st.CarPositions {
		if m.checkeredSnapshot[car.Number] != car.LastLapCompleted {
			changed++
		}
	}
	if changed > 0 {
		// The field is still crossing the line; restart the countdown
		// and fold the late crossings into the snapshot.
		for _, car := range st.CarPositions {
			m.checkeredSnapshot[car.Number] = car.LastLapCompleted
		}
		m.countdownBase = eventTime
		m.lastEventTime = eventTime
		return
	}

	stalled := m.sawEventTime && eventTime == m.lastEventTime
	expired := eventTime-m.countdownBase >= finishingTimeout
	m.lastEventTime = eventTime
	if stalled || expired {
		m.finalizeLocked(context.WithoutCancel(ctx), m.liveSessionID)
		m.liveSessionID = 0
		m.resetFinishingLocked()
	}
}

// finalizeLocked closes out a session: flips the row to not-live, stores
// the result snapshot and fires the finalized callback.
func (m *Monitor) finalizeLocked(ctx context.Context, sessionID int) {
	now := time.Now().UTC()

	state := m.sc.Snapshot()
	if state == nil || state.SessionID != sessionID {
		// The live state already moved on; use the preserved pre-reset
		// snapshot if it matches.
		m.sc.RLock()
		if prev := m.sc.PreviousLocked(); prev != nil && prev.SessionID == sessionID {
			state = prev.Clone()
		} else {
			state = nil
		}
		m.sc.RUnlock()
	}

	sess, err := m.store.GetSession(ctx, m.eventID, sessionID)
	if err != nil {
		m.logger.Error().Err(err).Int("session_id", sessionID).Msg("loading session for finalize failed")
	}
	if sess == nil {
		name := ""
		if state != nil {
			name = state.SessionName
		}
		sess = &store.Session{
			EventID:   m.eventID,
			ID:        sessionID,
			Name:      name,
			Type:      model.SessionTypeFromName(name),
			StartTime: m.liveStart,
		}
	}
	sess.IsLive = false
	sess.EndTime = now
	sess.LastUpdated = now
	if err := m.store.UpsertSession(ctx, sess); err != nil {
		m.logger.Error().Err(err).Int("session_id", sessionID).Msg("finalize session upsert failed")
	}

	if state != nil {
		result := &store.SessionResult{
			EventID:   m.eventID,
			SessionID: sessionID,
			StartTime: sess.StartTime,
			State:     state,
		}
		if err := m.store.UpsertSessionResult(ctx, result); err != nil {
			m.logger.Error().Err(err).Int("session_id", sessionID).Msg("session result upsert failed")
		}
	}

	metrics.SessionsFinalizedTotal.Inc()
	m.logger.Info().Int("session_id", sessionID).Msg("session finalized")
	if m.onFinalized != nil {
		m.onFinalized(m.eventID, sessionID)
	}
}

var _ pipeline.SessionObserver = (*Monitor)(nil)
