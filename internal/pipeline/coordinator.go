// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/apexgrid/pitwall/internal/broadcast"
	"github.com/apexgrid/pitwall/internal/enrich"
	"github.com/apexgrid/pitwall/internal/grid"
	"github.com/apexgrid/pitwall/internal/history"
	"github.com/apexgrid/pitwall/internal/laps"
	"github.com/apexgrid/pitwall/internal/log"
	"github.com/apexgrid/pitwall/internal/metrics"
	"github.com/apexgrid/pitwall/internal/model"
	"github.com/apexgrid/pitwall/internal/rmonitor"
	"github.com/apexgrid/pitwall/internal/store"
)

// SessionObserver receives lifecycle notifications from the coordinator.
// The calls arrive outside the session write lock; implementations may
// take their own snapshots.
type SessionObserver interface {
	OnSessionChanged(ctx context.Context, sessionID int, name string)
	OnStateUpdate(ctx context.Context)
}

// Penalty is the applied-penalty overlay for one car.
type Penalty struct {
	Laps     int
	Warnings int
}

// Coordinator is the single-entry ordered processor for one event. Post
// applies messages serially under the session write lock, runs the
// enrichment chain when car state changed and hands the resulting
// patches to the consolidator.
type Coordinator struct {
	eventID int
	sc      *SessionContext
	laps    *laps.Processor
	history *history.Store
	grid    *grid.Recovery
	hub     broadcast.Hub
	cons    *Consolidator
	checker *Checker
	logger  zerolog.Logger

	observer SessionObserver

	postMu    sync.Mutex
	penalties map[string]Penalty
}

// Options wires the coordinator's collaborators.
type Options struct {
	EventID  int
	Store    *store.Store
	History  *history.Store
	Hub      broadcast.Hub
	Observer SessionObserver
	// PublishReset delivers consistency-driven resync requests upstream.
	PublishReset PublishResetFunc
}

// NewCoordinator builds the full per-event pipeline.
func NewCoordinator(opts Options) *Coordinator {
	logger := log.WithEvent("pipeline", opts.EventID)
	c := &Coordinator{
		eventID:   opts.EventID,
		sc:        NewSessionContext(opts.EventID),
		history:   opts.History,
		hub:       opts.Hub,
		observer:  opts.Observer,
		logger:    logger,
		penalties: make(map[string]Penalty),
	}
	c.cons = NewConsolidator(c.dispatchFlush)
	c.laps = laps.NewProcessor(opts.EventID, opts.Store, c.lapIncludedPit, c.onLapsCommitted,
		log.WithEvent("laps", opts.EventID))
	c.grid = grid.NewRecovery(opts.EventID, opts.Store, log.WithEvent("grid", opts.EventID))
	if opts.PublishReset != nil {
		c.checker = NewChecker(opts.EventID, c.sc, opts.PublishReset,
			log.WithEvent("consistency", opts.EventID))
	}
	return c
}

// Session exposes the session context for observers and read surfaces.
func (c *Coordinator) Session() *SessionContext { return c.sc }

// SetObserver installs the lifecycle observer; call before Start.
func (c *Coordinator) SetObserver(obs SessionObserver) { c.observer = obs }

// Start launches the background workers.
func (c *Coordinator) Start(ctx context.Context) {
	c.laps.Start(ctx)
	if c.checker != nil {
		go c.checker.Run(ctx)
	}
}

// Close flushes pending work and stops the background workers.
func (c *Coordinator) Close() {
	c.laps.Close()
	c.cons.Close()
}

// Post processes one inbound timing message. Messages are applied
// serially per event in arrival order.
func (c *Coordinator) Post(ctx context.Context, msg model.TimingMessage) error {
	c.postMu.Lock()
	defer c.postMu.Unlock()
	metrics.IncMessage(msg.Type)

	switch msg.Type {
	case model.MessageTypeRMonitor:
		return c.postRMonitor(ctx, msg)
	case model.MessageTypeX2Pass, model.MessageTypeX2Loop, model.MessageTypeMultiloop:
		return c.postPassings(ctx, msg)
	case model.MessageTypeFlags:
		return c.postFlags(ctx, msg)
	case model.MessageTypeSessionChanged:
		return c.postSessionChanged(ctx, msg)
	case model.MessageTypeCompetitors, model.MessageTypeConfigChanged:
		return c.postCompetitors(ctx, msg)
	default:
		c.logger.Warn().Str(log.FieldMessageType, msg.Type).Msg("unknown timing message type dropped")
		return nil
	}
}

// applyCarPatchLocked applies one car patch to the live state, creating
// the car on first reference and keeping the lookups in sync.
func (c *Coordinator) applyCarPatchLocked(p *model.CarPositionPatch) {
	car := c.sc.EnsureCarLocked(p.Number)
	if p.LastLapCompleted != nil && *p.LastLapCompleted > car.LastLapCompleted {
		// A fresh lap opens with a clean pit classification.
		car.LapIncludedPit = false
		car.LapStartTime = time.Now().UTC()
	}
	p.ApplyTo(car)
	c.sc.UpdateCarsLocked([]*model.CarPosition{car})
}

func (c *Coordinator) postRMonitor(ctx context.Context, msg model.TimingMessage) (err error) {
	cmds := rmonitor.ParseBatch(msg.Data, func(perr error) {
		metrics.ParseErrorsTotal.Inc()
		c.logger.Warn().Err(perr).Msg("skipping malformed command")
	})
	if len(cmds) == 0 {
		return nil
	}

	var (
		sessionPatch  *model.SessionStatePatch
		carPatches    []*model.CarPositionPatch
		sessionChange *rmonitor.RunInfo
	)

	c.sc.Lock()
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("rmonitor batch aborted: %v", r)
			}
		}()
		st := c.sc.StateLocked()
		for _, cmd := range cmds {
			calc, ok := cmd.(rmonitor.Calculator)
			if !ok {
				continue
			}
			change := calc.GetChanges(st)
			if change == nil {
				continue
			}
			if change.Reset {
				c.sc.ResetCommandLocked(time.Now())
				st = c.sc.StateLocked()
				continue
			}
			if change.Session != nil {
				if run, isRun := cmd.(rmonitor.RunInfo); isRun {
					sessionChange = &run
				}
				change.Session.ApplyTo(st)
				sessionPatch = sessionPatch.Merge(change.Session)
			}
			for _, p := range change.Cars {
				c.applyCarPatchLocked(p)
				carPatches = append(carPatches, p)
			}
		}
		if len(carPatches) > 0 {
			carPatches = append(carPatches, c.enrichLocked(ctx)...)
		}
	}()
	c.sc.Unlock()
	if err != nil {
		c.logger.Error().Err(err).Msg("message aborted")
		return err
	}

	if sessionChange != nil && c.observer != nil {
		c.observer.OnSessionChanged(ctx, sessionChange.SessionRef, sessionChange.SessionName)
	}
	c.scheduleDispatch(sessionPatch, carPatches)
	return nil
}

// enrichLocked runs lap detection, starting-grid work, position
// enrichment and the penalty overlay. Caller holds the write lock and
// guarantees at least one primary car patch was produced.
func (c *Coordinator) enrichLocked(ctx context.Context) []*model.CarPositionPatch {
	st := c.sc.StateLocked()
	var extra []*model.CarPositionPatch

	changed := make([]*model.CarPosition, 0, len(st.CarPositions))
	for _, car := range st.CarPositions {
		changed = append(changed, car.Clone())
	}
	c.laps.Process(ctx, st.SessionID, st.CurrentFlag, changed)

	for _, p := range c.grid.ObserveLive(st.SessionID, st.CurrentFlag, st) {
		c.applyCarPatchLocked(p)
		extra = append(extra, p)
	}
	if patches, ok := c.grid.TryRecover(ctx, st.SessionID, st); ok {
		for _, p := range patches {
			c.applyCarPatchLocked(p)
			extra = append(extra, p)
		}
	}

	for _, p := range enrich.Positions(st) {
		c.applyCarPatchLocked(p)
		extra = append(extra, p)
	}

	extra = append(extra, c.penaltyOverlayLocked()...)
	return extra
}

func (c *Coordinator) penaltyOverlayLocked() []*model.CarPositionPatch {
	var patches []*model.CarPositionPatch
	for number, pen := range c.penalties {
		car := c.sc.GetCarByNumberLocked(number)
		if car == nil {
			continue
		}
		p := &model.CarPositionPatch{Number: number}
		if car.PenalityLaps != pen.Laps {
			p.PenalityLaps = model.Ptr(pen.Laps)
		}
		if car.PenalityWarnings != pen.Warnings {
			p.PenalityWarnings = model.Ptr(pen.Warnings)
		}
		if p.IsEmpty() {
			continue
		}
		p.ApplyTo(car)
		patches = append(patches, p)
	}
	return patches
}

// SetPenalty records an applied penalty for a car and pushes the delta
// to clients.
func (c *Coordinator) SetPenalty(carNumber string, laps, warnings int) {
	c.sc.Lock()
	c.penalties[carNumber] = Penalty{Laps: laps, Warnings: warnings}
	patches := c.penaltyOverlayLocked()
	c.sc.Unlock()
	c.scheduleDispatch(nil, patches)
}

type passingRecord struct {
	TransponderID uint32 `json:"transponderId"`
	CarNumber     string `json:"carNumber"`
	InPit         bool   `json:"inPit"`
	PitEntry      bool   `json:"pitEntry"`
	PitExit       bool   `json:"pitExit"`
	StartFinish   bool   `json:"startFinish"`
}

func (c *Coordinator) postPassings(ctx context.Context, msg model.TimingMessage) error {
	var records []passingRecord
	if err := json.Unmarshal([]byte(msg.Data), &records); err != nil {
		metrics.ParseErrorsTotal.Inc()
		return fmt.Errorf("parse %s payload: %w", msg.Type, err)
	}

	var patches []*model.CarPositionPatch
	var pitCars []string

	c.sc.Lock()
	for _, r := range records {
		number := r.CarNumber
		if number == "" && r.TransponderID != 0 {
			number, _ = c.sc.GetCarNumberForTransponderLocked(r.TransponderID)
		}
		if number == "" {
			continue
		}
		car := c.sc.GetCarByNumberLocked(number)
		if car == nil {
			continue
		}
		p := &model.CarPositionPatch{Number: number}
		if car.IsEnteredPit != r.PitEntry {
			p.IsEnteredPit = model.Ptr(r.PitEntry)
		}
		if car.IsInPit != r.InPit {
			p.IsInPit = model.Ptr(r.InPit)
		}
		if car.IsExitedPit != r.PitExit {
			p.IsExitedPit = model.Ptr(r.PitExit)
		}
		if car.IsPitStartFinish != r.StartFinish {
			p.IsPitStartFinish = model.Ptr(r.StartFinish)
		}
		pit := r.PitEntry || r.InPit || r.PitExit || r.StartFinish
		if pit && !car.LapIncludedPit {
			p.LapIncludedPit = model.Ptr(true)
		}
		if p.IsEmpty() {
			continue
		}
		c.applyCarPatchLocked(p)
		patches = append(patches, p)
		if pit {
			pitCars = append(pitCars, number)
		}
	}
	c.sc.Unlock()

	// The pit hook drains any pending lap for the car so the pit
	// classification lands in the same log record.
	for _, number := range pitCars {
		c.laps.PitHook(ctx, number)
	}
	c.scheduleDispatch(nil, patches)
	return nil
}

func (c *Coordinator) postFlags(ctx context.Context, msg model.TimingMessage) error {
	var durations []model.FlagDuration
	if err := json.Unmarshal([]byte(msg.Data), &durations); err != nil {
		metrics.ParseErrorsTotal.Inc()
		return fmt.Errorf("parse flags payload: %w", err)
	}
	c.sc.Lock()
	c.sc.StateLocked().FlagDurations = durations
	c.sc.Unlock()
	return nil
}

type sessionChangedPayload struct {
	SessionID int    `json:"sessionId"`
	Name      string `json:"name"`
}

func (c *Coordinator) postSessionChanged(ctx context.Context, msg model.TimingMessage) error {
	var payload sessionChangedPayload
	if err := json.Unmarshal([]byte(msg.Data), &payload); err != nil {
		metrics.ParseErrorsTotal.Inc()
		return fmt.Errorf("parse session-changed payload: %w", err)
	}

	c.sc.RLock()
	current := c.sc.StateLocked().SessionID
	c.sc.RUnlock()

	if c.observer != nil {
		c.observer.OnSessionChanged(ctx, payload.SessionID, payload.Name)
	}
	if payload.SessionID != current {
		c.laps.Flush(ctx)
		c.sc.NewSession(payload.SessionID, payload.Name, time.Now())
	}
	return nil
}

func (c *Coordinator) postCompetitors(ctx context.Context, msg model.TimingMessage) error {
	var entries []model.EventEntry
	if err := json.Unmarshal([]byte(msg.Data), &entries); err != nil {
		metrics.ParseErrorsTotal.Inc()
		return fmt.Errorf("parse competitors payload: %w", err)
	}

	var patches []*model.CarPositionPatch
	c.sc.Lock()
	st := c.sc.StateLocked()
	for i := range entries {
		e := entries[i]
		if e.Number == "" {
			continue
		}
		stored, ok := st.EventEntries[e.Number]
		if !ok {
			stored = &model.EventEntry{Number: e.Number}
			st.EventEntries[e.Number] = stored
		}
		*stored = e

		cur := c.sc.GetCarByNumberLocked(e.Number)
		if cur == nil {
			cur = &model.CarPosition{Number: e.Number}
		}
		p := &model.CarPositionPatch{Number: e.Number}
		if e.Class != "" && cur.Class != e.Class {
			p.Class = model.Ptr(e.Class)
		}
		if e.Name != "" && cur.DriverName != e.Name {
			p.DriverName = model.Ptr(e.Name)
		}
		if e.TransponderID != 0 && cur.TransponderID != e.TransponderID {
			p.TransponderID = model.Ptr(e.TransponderID)
		}
		if p.IsEmpty() && c.sc.GetCarByNumberLocked(e.Number) != nil {
			continue
		}
		c.applyCarPatchLocked(p)
		patches = append(patches, p)
	}
	c.sc.Unlock()

	c.scheduleDispatch(nil, patches)
	return nil
}

// scheduleDispatch merges a batch into the consolidator in arrival
// order; the right-biased merge relies on it. Add never blocks: it
// either flushes inline or arms the debounce timer.
func (c *Coordinator) scheduleDispatch(session *model.SessionStatePatch, cars []*model.CarPositionPatch) {
	if session.IsEmpty() && len(cars) == 0 {
		return
	}
	c.cons.Add(session, cars)
}

// dispatchFlush is the consolidator sink: it re-applies the merged pair
// under the write lock so state and broadcast stay causally consistent,
// then fans the patches out to the event group.
func (c *Coordinator) dispatchFlush(session *model.SessionStatePatch, cars []*model.CarPositionPatch) {
	c.sc.Lock()
	st := c.sc.StateLocked()
	session.ApplyTo(st)
	for _, p := range cars {
		if car := c.sc.GetCarByNumberLocked(p.Number); car != nil {
			p.ApplyTo(car)
		}
	}
	c.sc.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !session.IsEmpty() {
		if err := c.hub.BroadcastSession(ctx, c.eventID, session); err != nil {
			c.logger.Warn().Err(err).Msg("session patch broadcast failed")
		}
	}
	if len(cars) > 0 {
		if err := c.hub.BroadcastCars(ctx, c.eventID, cars); err != nil {
			c.logger.Warn().Err(err).Msg("car patch broadcast failed")
		}
	}
	if c.observer != nil {
		c.observer.OnStateUpdate(ctx)
	}
}

// lapIncludedPit reports the car's pit classification as known to the
// session context right now; the lap processor consults it at commit.
func (c *Coordinator) lapIncludedPit(carNumber string) bool {
	c.sc.RLock()
	defer c.sc.RUnlock()
	car := c.sc.GetCarByNumberLocked(carNumber)
	return car != nil && (car.LapIncludedPit || car.InPit())
}

// onLapsCommitted feeds committed laps into the rolling history and
// re-runs the lap-completion enrichers for the cars involved.
func (c *Coordinator) onLapsCommitted(logs []*store.CarLapLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, l := range logs {
		pos := l.Position.Clone()
		pos.TrackFlag = l.Flag
		if err := c.history.AddLap(ctx, pos); err != nil {
			c.logger.Error().Err(err).
				Str(log.FieldCarNumber, l.CarNumber).
				Int(log.FieldLap, l.LapNumber).
				Msg("lap history append failed")
		}
	}

	var patches []*model.CarPositionPatch
	c.sc.Lock()
	st := c.sc.StateLocked()
	for _, l := range logs {
		car := c.sc.GetCarByNumberLocked(l.CarNumber)
		if car == nil {
			continue
		}
		avgPatches, err := enrich.FastestAverage(ctx, c.history, st, car)
		if err != nil {
			c.logger.Warn().Err(err).Msg("fastest-average enrichment failed")
		}
		for _, p := range avgPatches {
			c.applyCarPatchLocked(p)
			patches = append(patches, p)
		}
		proj, err := enrich.ProjectedLapTime(ctx, c.history, st, car)
		if err != nil {
			c.logger.Warn().Err(err).Msg("lap projection failed")
		}
		if proj != nil {
			c.applyCarPatchLocked(proj)
			patches = append(patches, proj)
		}
	}
	c.sc.Unlock()

	c.scheduleDispatch(nil, patches)
}
