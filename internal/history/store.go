// SPDX-License-Identifier: MIT

// Package history keeps a durable rolling window of recent car snapshots
// per (event, car), backed by a Redis list.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/apexgrid/pitwall/internal/model"
)

// Window is the number of snapshots retained per car.
const Window = 5

// ErrInvalidKey reports an empty car number. Callers treat this as a
// logic bug, not a transient condition.
var ErrInvalidKey = errors.New("history: empty car number")

// Store is the per-event rolling lap-history store.
type Store struct {
	client  redis.Cmdable
	eventID int
	logger  zerolog.Logger
}

// NewStore scopes a store to one event so cars in different events never
// collide.
func NewStore(client redis.Cmdable, eventID int, logger zerolog.Logger) *Store {
	return &Store{client: client, eventID: eventID, logger: logger}
}

func (s *Store) key(carNumber string) string {
	return fmt.Sprintf("pitwall:laps:%d:%s", s.eventID, carNumber)
}

// AddLap pushes a snapshot to the head of the car's window and trims the
// window to its cap. The full record is serialized; no field is dropped.
func (s *Store) AddLap(ctx context.Context, position *model.CarPosition) error {
	if position == nil || position.Number == "" {
		return ErrInvalidKey
	}
	data, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("history: marshal car %s: %w", position.Number, err)
	}
	key := s.key(position.Number)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, Window-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history: push %s: %w", key, err)
	}
	return nil
}

// GetLaps returns the car's window most-recent first. Unknown cars yield
// an empty slice.
func (s *Store) GetLaps(ctx context.Context, carNumber string) ([]*model.CarPosition, error) {
	if carNumber == "" {
		return nil, ErrInvalidKey
	}
	vals, err := s.client.LRange(ctx, s.key(carNumber), 0, Window-1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: range %s: %w", s.key(carNumber), err)
	}
	laps := make([]*model.CarPosition, 0, len(vals))
	for _, v := range vals {
		var pos model.CarPosition
		if err := json.Unmarshal([]byte(v), &pos); err != nil {
			s.logger.Warn().Err(err).
				Str("car_number", carNumber).
				Msg("skipping undecodable lap snapshot")
			continue
		}
		laps = append(laps, &pos)
	}
	return laps, nil
}

// Client builds a go-redis client with the connection profile used across
// the service and verifies the connection.
func Client(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
