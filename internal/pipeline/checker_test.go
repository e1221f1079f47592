// SPDX-License-Identifier: MIT

package pipeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgrid/pitwall/internal/model"
)

func TestVerifyConsistencyCleanField(t *testing.T) {
	cars := []*model.CarPosition{
		{Number: "1", Class: "GT3", OverallPosition: 1, ClassPosition: 1, LastLapCompleted: 10, TotalTime: "00:30:00.000"},
		{Number: "2", Class: "GT3", OverallPosition: 2, ClassPosition: 2, LastLapCompleted: 10, TotalTime: "00:30:05.000"},
		{Number: "3", Class: "GT4", OverallPosition: 3, ClassPosition: 1, LastLapCompleted: 9, TotalTime: "00:30:10.000"},
	}
	assert.NoError(t, VerifyConsistency(cars))
}

func TestVerifyConsistencyDuplicateOverall(t *testing.T) {
	cars := []*model.CarPosition{
		{Number: "1", OverallPosition: 1, ClassPosition: 1, LastLapCompleted: 10},
		{Number: "2", OverallPosition: 1, ClassPosition: 2, LastLapCompleted: 9},
	}
	err := VerifyConsistency(cars)
	assert.ErrorContains(t, err, "share overall position")
}

func TestVerifyConsistencyPositionOutOfRange(t *testing.T) {
	cars := []*model.CarPosition{
		{Number: "1", OverallPosition: 1, ClassPosition: 1, LastLapCompleted: 10},
		{Number: "2", OverallPosition: 5, ClassPosition: 2, LastLapCompleted: 9},
	}
	err := VerifyConsistency(cars)
	assert.ErrorContains(t, err, "outside 1..2")
}

func TestVerifyConsistencyDuplicateClassPosition(t *testing.T) {
	cars := []*model.CarPosition{
		{Number: "1", Class: "GT3", OverallPosition: 1, ClassPosition: 1, LastLapCompleted: 10},
		{Number: "2", Class: "GT3", OverallPosition: 2, ClassPosition: 1, LastLapCompleted: 9},
	}
	err := VerifyConsistency(cars)
	assert.ErrorContains(t, err, "share class position")
}

func TestVerifyConsistencyLeaderBehindOnLaps(t *testing.T) {
	cars := []*model.CarPosition{
		{Number: "1", OverallPosition: 1, ClassPosition: 1, LastLapCompleted: 9},
		{Number: "2", OverallPosition: 2, ClassPosition: 2, LastLapCompleted: 10},
	}
	err := VerifyConsistency(cars)
	assert.ErrorContains(t, err, "leader")
}

func TestVerifyConsistencyLeaderSlowerOnLeadLap(t *testing.T) {
	cars := []*model.CarPosition{
		{Number: "1", OverallPosition: 1, ClassPosition: 1, LastLapCompleted: 10, TotalTime: "00:30:10.000"},
		{Number: "2", OverallPosition: 2, ClassPosition: 2, LastLapCompleted: 10, TotalTime: "00:30:00.000"},
	}
	err := VerifyConsistency(cars)
	assert.ErrorContains(t, err, "lower total time")
}

func TestVerifyConsistencyEmptyField(t *testing.T) {
	assert.NoError(t, VerifyConsistency(nil))
}

func TestRequestResetRateLimitAndForceWindow(t *testing.T) {
	var requests []model.RelayResetRequest
	c := NewChecker(1, NewSessionContext(1), func(r model.RelayResetRequest) {
		requests = append(requests, r)
	}, zerolog.Nop())

	base := time.Date(2026, 8, 22, 14, 0, 0, 0, time.UTC)
	clock := base
	c.now = func() time.Time { return clock }

	// First sustained inconsistency publishes a plain reset.
	c.requestReset()
	require.Len(t, requests, 1)
	assert.Equal(t, 1, requests[0].EventID)
	assert.False(t, requests[0].ForceTimingDataReset)

	// Inside the rate limit nothing goes out.
	clock = base.Add(30 * time.Second)
	c.requestReset()
	assert.Len(t, requests, 1)

	// The plain reset 90s ago did not help: escalate to a forced reset.
	clock = base.Add(90 * time.Second)
	c.requestReset()
	require.Len(t, requests, 2)
	assert.True(t, requests[1].ForceTimingDataReset)

	// Another force needs 3 minutes of spacing.
	clock = clock.Add(90 * time.Second)
	c.requestReset()
	require.Len(t, requests, 3)
	assert.False(t, requests[2].ForceTimingDataReset)

	// Outside the 1-2 minute window the escalation does not trigger.
	clock = clock.Add(150 * time.Second)
	c.requestReset()
	require.Len(t, requests, 4)
	assert.False(t, requests[3].ForceTimingDataReset)
}
