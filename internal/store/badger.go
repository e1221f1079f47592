// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Store is the Badger-backed persistence layer.
//
// Key layout:
//   - sessions:  "sess:<event>:<session>"            (JSON Session)
//   - results:   "result:<event>:<session>"          (JSON SessionResult)
//   - lap logs:  "laplog:<event>:<session>:<car>:<lap %05d>" (JSON CarLapLog)
//   - last laps: "lastlap:<event>:<session>:<car>"   (JSON CarLastLap)
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store, used in tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func sessionKey(eventID, sessionID int) []byte {
	return fmt.Appendf(nil, "sess:%d:%d", eventID, sessionID)
}

func resultKey(eventID, sessionID int) []byte {
	return fmt.Appendf(nil, "result:%d:%d", eventID, sessionID)
}

func lapLogKey(eventID, sessionID int, car string, lap int) []byte {
	return fmt.Appendf(nil, "laplog:%d:%d:%s:%05d", eventID, sessionID, car, lap)
}

func lapLogPrefix(eventID, sessionID int) []byte {
	return fmt.Appendf(nil, "laplog:%d:%d:", eventID, sessionID)
}

func lastLapKey(eventID, sessionID int, car string) []byte {
	return fmt.Appendf(nil, "lastlap:%d:%d:%s", eventID, sessionID, car)
}

func lastLapPrefix(eventID, sessionID int) []byte {
	return fmt.Appendf(nil, "lastlap:%d:%d:", eventID, sessionID)
}

func (s *Store) put(key []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

// get unmarshals key into out; the bool reports whether the key existed.
func (s *Store) get(key []byte, out any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpsertSession writes the session row.
func (s *Store) UpsertSession(ctx context.Context, sess *Session) error {
	return s.put(sessionKey(sess.EventID, sess.ID), sess)
}

// GetSession loads a session row; nil when unknown.
func (s *Store) GetSession(ctx context.Context, eventID, sessionID int) (*Session, error) {
	var out Session
	ok, err := s.get(sessionKey(eventID, sessionID), &out)
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// TouchSession bumps LastUpdated on an existing session row.
func (s *Store) TouchSession(ctx context.Context, eventID, sessionID int, now time.Time) error {
	key := sessionKey(eventID, sessionID)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var sess Session
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		}); err != nil {
			return err
		}
		sess.LastUpdated = now
		buf, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
}

// UpsertSessionResult writes the final snapshot for a session.
func (s *Store) UpsertSessionResult(ctx context.Context, res *SessionResult) error {
	return s.put(resultKey(res.EventID, res.SessionID), res)
}

// GetSessionResult loads a session result; nil when unknown.
func (s *Store) GetSessionResult(ctx context.Context, eventID, sessionID int) (*SessionResult, error) {
	var out SessionResult
	ok, err := s.get(resultKey(eventID, sessionID), &out)
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// AppendLapLogs writes a batch of lap records and their last-lap markers
// in one transaction. Idempotence on (car, lap) is the lap processor's
// responsibility, not the schema's.
func (s *Store) AppendLapLogs(ctx context.Context, logs []*CarLapLog) error {
	if len(logs) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, l := range logs {
			buf, err := json.Marshal(l)
			if err != nil {
				return err
			}
			if err := txn.Set(lapLogKey(l.EventID, l.SessionID, l.CarNumber, l.LapNumber), buf); err != nil {
				return err
			}
			marker := CarLastLap{
				EventID:       l.EventID,
				SessionID:     l.SessionID,
				CarNumber:     l.CarNumber,
				LastLapNumber: l.LapNumber,
				LastLapTime:   l.Timestamp,
			}
			mbuf, err := json.Marshal(marker)
			if err != nil {
				return err
			}
			if err := txn.Set(lastLapKey(l.EventID, l.SessionID, l.CarNumber), mbuf); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetLapLogsUpTo returns all lap logs for the session with
// LapNumber <= maxLap, ordered by car then lap.
func (s *Store) GetLapLogsUpTo(ctx context.Context, eventID, sessionID, maxLap int) ([]*CarLapLog, error) {
	var out []*CarLapLog
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = lapLogPrefix(eventID, sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec CarLapLog
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.LapNumber <= maxLap {
				out = append(out, &rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCarLastLaps loads every last-lap marker for the session, keyed by
// car number.
func (s *Store) GetCarLastLaps(ctx context.Context, eventID, sessionID int) (map[string]int, error) {
	out := make(map[string]int)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = lastLapPrefix(eventID, sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec CarLastLap
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out[rec.CarNumber] = rec.LastLapNumber
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
