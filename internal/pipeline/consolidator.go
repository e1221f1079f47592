// SPDX-License-Identifier: MIT

package pipeline

import (
	"sync"
	"time"

	"github.com/apexgrid/pitwall/internal/metrics"
	"github.com/apexgrid/pitwall/internal/model"
)

// debounceWindow is the minimum spacing between consecutive flushes.
const debounceWindow = 20 * time.Millisecond

// DispatchFunc receives one consolidated flush. Session may be nil; cars
// never contains a semantically empty patch.
type DispatchFunc func(session *model.SessionStatePatch, cars []*model.CarPositionPatch)

// Consolidator accumulates patches across rapid bursts and emits one
// merged pair per debounce window. Merging is field-wise right-biased,
// so the flushed pair equals the merge of everything that arrived during
// the window.
type Consolidator struct {
	mu        sync.Mutex
	session   *model.SessionStatePatch
	cars      map[string]*model.CarPositionPatch
	order     []string
	lastFlush time.Time
	pending   bool
	closed    bool

	// dispatchMu keeps flushes ordered even when a timer-driven flush
	// races a direct one.
	dispatchMu sync.Mutex
	dispatch   DispatchFunc
}

func NewConsolidator(dispatch DispatchFunc) *Consolidator {
	return &Consolidator{
		cars:     make(map[string]*model.CarPositionPatch),
		dispatch: dispatch,
	}
}

// Add merges a post-processing batch into the accumulator and flushes
// once the debounce window allows.
func (c *Consolidator) Add(session *model.SessionStatePatch, cars []*model.CarPositionPatch) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if !session.IsEmpty() {
		c.session = c.session.Merge(session)
	}
	for _, p := range cars {
		if p == nil || p.Number == "" {
			continue
		}
		if cur, ok := c.cars[p.Number]; ok {
			c.cars[p.Number] = cur.Merge(p)
		} else {
			c.cars[p.Number] = p
			c.order = append(c.order, p.Number)
		}
	}
	if c.pending {
		c.mu.Unlock()
		return
	}
	wait := debounceWindow - time.Since(c.lastFlush)
	if wait <= 0 {
		c.mu.Unlock()
		c.flush()
		return
	}
	c.pending = true
	c.mu.Unlock()
	time.AfterFunc(wait, c.flush)
}

// Close emits whatever is accumulated and drops everything after.
func (c *Consolidator) Close() {
	c.flush()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Consolidator) flush() {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	session := c.session
	cars := make([]*model.CarPositionPatch, 0, len(c.order))
	for _, number := range c.order {
		// Patches carrying only the key are not dispatched.
		if p := c.cars[number]; !p.IsEmpty() {
			cars = append(cars, p)
		}
	}
	c.session = nil
	c.cars = make(map[string]*model.CarPositionPatch)
	c.order = nil
	c.pending = false
	c.lastFlush = time.Now()
	c.mu.Unlock()

	if session.IsEmpty() && len(cars) == 0 {
		return
	}
	metrics.PatchFlushesTotal.Inc()
	metrics.CarPatchesTotal.Add(float64(len(cars)))
	c.dispatch(session, cars)
}
