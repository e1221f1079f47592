// SPDX-License-Identifier: MIT

// Package laps detects completed laps and commits exactly one lap log per
// (event, session, car, lap), holding each record briefly so a pit event
// arriving around the crossing lands in the same record.
package laps

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/apexgrid/pitwall/internal/metrics"
	"github.com/apexgrid/pitwall/internal/model"
	"github.com/apexgrid/pitwall/internal/store"
)

const (
	// commitWait is how long an entry sits in the pending buffer before
	// the sweeper commits it.
	commitWait = 1000 * time.Millisecond
	// sweepEvery is the sweeper cadence.
	sweepEvery = 100 * time.Millisecond
)

type pendingEntry struct {
	sessionID  int
	car        *model.CarPosition
	lap        int
	flag       model.Flag
	enqueuedAt time.Time
}

func (e *pendingEntry) dueBy(cutoff time.Time) bool {
	return cutoff.IsZero() || !e.enqueuedAt.After(cutoff)
}

type zeroLapMark struct {
	lastLapTime     string
	overallPosition int
}

// CommitFunc observes every committed batch, after persistence succeeded.
// It is never invoked while the caller of Process holds the session lock.
type CommitFunc func(logs []*store.CarLapLog)

// PitFlagFunc reports the car's current lap-included-pit classification
// as known to the session context at commit time.
type PitFlagFunc func(carNumber string) bool

// LapStore is the persistence surface the processor needs.
type LapStore interface {
	GetCarLastLaps(ctx context.Context, eventID, sessionID int) (map[string]int, error)
	AppendLapLogs(ctx context.Context, logs []*store.CarLapLog) error
}

// Processor is the per-event lap processor. Process only enqueues;
// commits happen on the sweeper goroutine, from the pit hook or from an
// explicit flush, so enqueueing under the session lock never re-enters
// the session context.
type Processor struct {
	eventID int
	store   LapStore
	logger  zerolog.Logger

	onCommit CommitFunc
	pitFlag  PitFlagFunc

	mu         sync.Mutex
	sessionID  int
	loaded     bool
	lastLogged map[string]int
	pending    map[string][]*pendingEntry
	zeroMarks  map[string]zeroLapMark

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewProcessor creates a processor for one event. onCommit may be nil.
func NewProcessor(eventID int, st LapStore, pitFlag PitFlagFunc, onCommit CommitFunc, logger zerolog.Logger) *Processor {
	return &Processor{
		eventID:    eventID,
		store:      st,
		logger:     logger,
		onCommit:   onCommit,
		pitFlag:    pitFlag,
		sessionID:  -1,
		lastLogged: make(map[string]int),
		pending:    make(map[string][]*pendingEntry),
		zeroMarks:  make(map[string]zeroLapMark),
	}
}

// Start launches the background sweeper.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.sweepLoop(ctx)
}

// Close stops the sweeper after a final flush. Idempotent.
func (p *Processor) Close() {
	p.closeOnce.Do(func() {
		p.Flush(context.Background())
		if p.cancel != nil {
			p.cancel()
		}
	})
}

func (p *Processor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			p.commit(ctx, p.takeDue(time.Now().Add(-commitWait)))
		}
	}
}

// Process enqueues lap candidates from freshly patched car snapshots.
// The snapshots must be private copies; pending entries outlive the
// session lock.
func (p *Processor) Process(ctx context.Context, sessionID int, flag model.Flag, cars []*model.CarPosition) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	if sessionID != p.sessionID {
		p.sessionID = sessionID
		p.lastLogged = make(map[string]int)
		p.zeroMarks = make(map[string]zeroLapMark)
		p.pending = make(map[string][]*pendingEntry)
		p.loaded = false
	}
	// Enqueueing against unknown markers could double-log a replayed
	// lap; wait for a successful load.
	if !p.ensureLoadedLocked(ctx) {
		return
	}

	for _, car := range cars {
		if car == nil || car.Number == "" {
			continue
		}
		lap := car.LastLapCompleted
		if lap == 0 {
			if logged, ok := p.lastLogged[car.Number]; ok && logged > 0 {
				continue
			}
			// Pre-green grid state is loggable once per observable change.
			mark := zeroLapMark{lastLapTime: car.LastLapTime, overallPosition: car.OverallPosition}
			if prev, seen := p.zeroMarks[car.Number]; seen && prev == mark {
				continue
			}
			p.zeroMarks[car.Number] = mark
		} else if logged, ok := p.lastLogged[car.Number]; ok && lap <= logged {
			// Out-of-order enqueues are dropped silently.
			continue
		}

		queue := p.pending[car.Number]
		if n := len(queue); n > 0 {
			last := queue[n-1]
			if last.lap == lap {
				// Same lap resubmitted with fresher data: replace the
				// snapshot, keep the original deadline.
				last.car = car
				last.flag = flag
				continue
			}
			if lap < last.lap {
				continue
			}
			// A newer lap makes everything queued immediately due so no
			// record is lost; the next sweep commits them in order.
			for _, e := range queue {
				e.enqueuedAt = time.Time{}
			}
		}
		p.pending[car.Number] = append(queue, &pendingEntry{
			sessionID:  sessionID,
			car:        car,
			lap:        lap,
			flag:       flag,
			enqueuedAt: now,
		})
	}
}

func (p *Processor) ensureLoadedLocked(ctx context.Context) bool {
	if p.loaded {
		return true
	}
	if p.sessionID < 0 {
		return false
	}
	last, err := p.store.GetCarLastLaps(ctx, p.eventID, p.sessionID)
	if err != nil {
		p.logger.Error().Err(err).
			Int("session_id", p.sessionID).
			Msg("loading last-lap markers failed, retrying on next process")
		return false
	}
	for car, lap := range last {
		p.lastLogged[car] = lap
	}
	p.loaded = true
	return true
}

// PitHook drains the car's pending laps immediately so the pit
// classification lands in the same record. No pending entry, no-op.
func (p *Processor) PitHook(ctx context.Context, carNumber string) {
	p.mu.Lock()
	due := p.pending[carNumber]
	delete(p.pending, carNumber)
	p.mu.Unlock()
	p.commit(ctx, due)
}

// Flush commits everything pending regardless of age.
func (p *Processor) Flush(ctx context.Context) {
	p.commit(ctx, p.takeDue(time.Time{}))
}

// takeDue removes and returns the due prefix of every car queue; the
// zero cutoff takes everything.
func (p *Processor) takeDue(cutoff time.Time) []*pendingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var due []*pendingEntry
	for car, queue := range p.pending {
		n := 0
		for _, e := range queue {
			if !e.dueBy(cutoff) {
				break
			}
			n++
		}
		if n == 0 {
			continue
		}
		due = append(due, queue[:n]...)
		if n == len(queue) {
			delete(p.pending, car)
		} else {
			p.pending[car] = queue[n:]
		}
	}
	return due
}

// commit persists a batch and advances the last-logged markers. On
// persistence failure the entries are requeued and the sweeper retries.
func (p *Processor) commit(ctx context.Context, entries []*pendingEntry) {
	if len(entries) == 0 {
		return
	}
	now := time.Now()
	logs := make([]*store.CarLapLog, 0, len(entries))
	for _, e := range entries {
		pos := e.car.Clone()
		if p.pitFlag != nil && p.pitFlag(pos.Number) {
			pos.LapIncludedPit = true
		}
		logs = append(logs, &store.CarLapLog{
			EventID:   p.eventID,
			SessionID: e.sessionID,
			CarNumber: pos.Number,
			LapNumber: e.lap,
			Timestamp: now,
			Flag:      e.flag,
			Position:  pos,
		})
	}
	if err := p.store.AppendLapLogs(ctx, logs); err != nil {
		p.logger.Error().Err(err).
			Int("records", len(logs)).
			Msg("lap log append failed, requeueing entries")
		p.requeue(entries)
		return
	}
	p.mu.Lock()
	for _, e := range entries {
		if e.sessionID == p.sessionID && e.lap > p.lastLogged[e.car.Number] {
			p.lastLogged[e.car.Number] = e.lap
		} else if e.sessionID == p.sessionID {
			if _, ok := p.lastLogged[e.car.Number]; !ok {
				p.lastLogged[e.car.Number] = e.lap
			}
		}
	}
	p.mu.Unlock()
	metrics.LapsLoggedTotal.Add(float64(len(logs)))
	if p.onCommit != nil {
		p.onCommit(logs)
	}
}

func (p *Processor) requeue(entries []*pendingEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		if e.sessionID != p.sessionID {
			continue
		}
		e.enqueuedAt = time.Time{}
		p.pending[e.car.Number] = append([]*pendingEntry{e}, p.pending[e.car.Number]...)
	}
}
