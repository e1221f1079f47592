// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/apexgrid/pitwall/internal/metrics"
	"github.com/apexgrid/pitwall/internal/model"
)

const (
	checkInterval   = 10 * time.Second
	recheckInterval = 750 * time.Millisecond
	recheckAttempts = 3
	// errorThrottle delays the next tick after a transient failure
	// inside the check itself.
	errorThrottle = 10 * time.Second
	// resetRateLimit is the minimum spacing between published resets.
	resetRateLimit = time.Minute
	// forceWindowMin/Max: a forced data reset is requested only when the
	// plain reset 1-2 minutes ago did not help.
	forceWindowMin = time.Minute
	forceWindowMax = 2 * time.Minute
	// forceReconnectSpacing is the minimum spacing between forced resets.
	forceReconnectSpacing = 3 * time.Minute
)

// PublishResetFunc delivers a relay reset request upstream.
type PublishResetFunc func(model.RelayResetRequest)

// Checker periodically samples the consolidated state and, on sustained
// inconsistency, asks the upstream relay to resynchronise the feed.
type Checker struct {
	eventID int
	sc      *SessionContext
	publish PublishResetFunc
	logger  zerolog.Logger
	now     func() time.Time

	lastConsistencyError    time.Time
	lastRelayForceReconnect time.Time
}

func NewChecker(eventID int, sc *SessionContext, publish PublishResetFunc, logger zerolog.Logger) *Checker {
	return &Checker{eventID: eventID, sc: sc, publish: publish, logger: logger, now: time.Now}
}

// Run loops until the context is cancelled, exiting between ticks.
func (c *Checker) Run(ctx context.Context) {
	timer := time.NewTimer(checkInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		next := checkInterval
		if err := c.tick(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("consistency check failed transiently, throttling")
			next += errorThrottle
		}
		timer.Reset(next)
	}
}

// tick returns an error only for transient failures of the check itself;
// inconsistency is handled internally.
func (c *Checker) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consistency check panicked: %v", r)
		}
	}()

	if c.verify() == nil {
		return nil
	}
	// Re-sample before blaming the upstream; bursts heal themselves.
	for i := 0; i < recheckAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(recheckInterval):
		}
		if c.verify() == nil {
			return nil
		}
	}
	c.requestReset()
	return nil
}

func (c *Checker) verify() error {
	cars := c.sc.SnapshotCars()
	if len(cars) == 0 {
		return nil
	}
	return VerifyConsistency(cars)
}

func (c *Checker) requestReset() {
	now := c.now()
	if !c.lastConsistencyError.IsZero() && now.Sub(c.lastConsistencyError) < resetRateLimit {
		return
	}
	sinceErr := now.Sub(c.lastConsistencyError)
	force := !c.lastConsistencyError.IsZero() &&
		sinceErr >= forceWindowMin && sinceErr <= forceWindowMax &&
		(c.lastRelayForceReconnect.IsZero() || now.Sub(c.lastRelayForceReconnect) >= forceReconnectSpacing)

	c.logger.Warn().
		Bool("force", force).
		Msg("sustained state inconsistency, requesting upstream resync")
	c.publish(model.RelayResetRequest{EventID: c.eventID, ForceTimingDataReset: force})
	metrics.IncResync(force)

	c.lastConsistencyError = now
	if force {
		c.lastRelayForceReconnect = now
	}
}

// VerifyConsistency checks the position permutations and the leader
// invariant on a car snapshot.
func VerifyConsistency(cars []*model.CarPosition) error {
	seenOverall := make(map[int]string, len(cars))
	seenClass := make(map[string]map[int]string)
	maxLaps := 0
	for _, car := range cars {
		if car.LastLapCompleted > maxLaps {
			maxLaps = car.LastLapCompleted
		}
	}
	for _, car := range cars {
		p := car.OverallPosition
		if p < 1 || p > len(cars) {
			return fmt.Errorf("car %s overall position %d outside 1..%d", car.Number, p, len(cars))
		}
		if other, dup := seenOverall[p]; dup {
			return fmt.Errorf("cars %s and %s share overall position %d", other, car.Number, p)
		}
		seenOverall[p] = car.Number

		if seenClass[car.Class] == nil {
			seenClass[car.Class] = make(map[int]string)
		}
		cp := car.ClassPosition
		if other, dup := seenClass[car.Class][cp]; dup {
			return fmt.Errorf("cars %s and %s share class position %d in %q", other, car.Number, cp, car.Class)
		}
		seenClass[car.Class][cp] = car.Number

		if p == 1 {
			if car.LastLapCompleted != maxLaps {
				return fmt.Errorf("leader %s has %d laps, field max is %d", car.Number, car.LastLapCompleted, maxLaps)
			}
			leaderTime := model.ParseLapTime(car.TotalTime)
			for _, other := range cars {
				if other == car || other.LastLapCompleted != maxLaps {
					continue
				}
				if t := model.ParseLapTime(other.TotalTime); t > 0 && leaderTime > 0 && t < leaderTime {
					return fmt.Errorf("car %s is on the lead lap with a lower total time than leader %s", other.Number, car.Number)
				}
			}
		}
	}
	for class, positions := range seenClass {
		for cp := range positions {
			if cp < 1 || cp > len(positions) {
				return fmt.Errorf("class %q position %d outside 1..%d", class, cp, len(positions))
			}
		}
	}
	return nil
}
