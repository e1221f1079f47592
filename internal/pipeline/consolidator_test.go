// SPDX-License-Identifier: MIT

package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgrid/pitwall/internal/model"
)

type flushRecorder struct {
	mu      sync.Mutex
	flushes []struct {
		session *model.SessionStatePatch
		cars    []*model.CarPositionPatch
	}
}

func (f *flushRecorder) dispatch(session *model.SessionStatePatch, cars []*model.CarPositionPatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes = append(f.flushes, struct {
		session *model.SessionStatePatch
		cars    []*model.CarPositionPatch
	}{session, cars})
}

func (f *flushRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flushes)
}

func TestConsolidatorMergesBurstIntoOneFlush(t *testing.T) {
	rec := &flushRecorder{}
	c := NewConsolidator(rec.dispatch)

	// First add flushes immediately; the burst behind it coalesces.
	c.Add(&model.SessionStatePatch{LapsToGo: model.Ptr(20)}, nil)
	c.Add(&model.SessionStatePatch{LapsToGo: model.Ptr(19)}, []*model.CarPositionPatch{
		{Number: "42", OverallPosition: model.Ptr(2)},
	})
	c.Add(nil, []*model.CarPositionPatch{
		{Number: "42", OverallPosition: model.Ptr(1)},
		{Number: "7", Gap: model.Ptr("1.000")},
	})

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	first := rec.flushes[0]
	assert.Equal(t, 20, *first.session.LapsToGo)

	second := rec.flushes[1]
	require.NotNil(t, second.session)
	assert.Equal(t, 19, *second.session.LapsToGo)
	require.Len(t, second.cars, 2)
	assert.Equal(t, "42", second.cars[0].Number)
	// Right-biased merge keeps the latest value.
	assert.Equal(t, 1, *second.cars[0].OverallPosition)
	assert.Equal(t, "7", second.cars[1].Number)
}

func TestConsolidatorDropsEmptyCarPatches(t *testing.T) {
	rec := &flushRecorder{}
	c := NewConsolidator(rec.dispatch)

	c.Add(nil, []*model.CarPositionPatch{{Number: "42"}})
	c.Close()

	assert.Zero(t, rec.count())
}

func TestConsolidatorCloseFlushesAndDropsLater(t *testing.T) {
	rec := &flushRecorder{}
	c := NewConsolidator(rec.dispatch)

	c.Add(nil, []*model.CarPositionPatch{{Number: "42", Gap: model.Ptr("2.000")}})
	c.Close()
	c.Add(nil, []*model.CarPositionPatch{{Number: "7", Gap: model.Ptr("3.000")}})

	require.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(2 * debounceWindow)
	assert.Equal(t, 1, rec.count())
}

func TestConsolidatorPreservesFirstSeenOrder(t *testing.T) {
	rec := &flushRecorder{}
	c := NewConsolidator(rec.dispatch)

	// Prime lastFlush so the next adds coalesce into one window.
	c.Add(nil, []*model.CarPositionPatch{{Number: "0", Gap: model.Ptr("x")}})
	c.Add(nil, []*model.CarPositionPatch{{Number: "9", Gap: model.Ptr("1.000")}})
	c.Add(nil, []*model.CarPositionPatch{{Number: "3", Gap: model.Ptr("2.000")}})
	c.Add(nil, []*model.CarPositionPatch{{Number: "9", Interval: model.Ptr("0.500")}})

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	cars := rec.flushes[1].cars
	require.Len(t, cars, 2)
	assert.Equal(t, "9", cars[0].Number)
	assert.Equal(t, "3", cars[1].Number)
	assert.Equal(t, "1.000", *cars[0].Gap)
	assert.Equal(t, "0.500", *cars[0].Interval)
}
