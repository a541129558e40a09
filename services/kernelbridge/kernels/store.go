// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernels

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/datatypes"
)

// =============================================================================
// Session Store
// =============================================================================

// sessionKeyPrefix namespaces session records in the key space.
const sessionKeyPrefix = "session/"

// ErrSessionNotFound is returned by Get for unknown session ids.
var ErrSessionNotFound = errors.New("kernels: session not found")

// Store persists session records in BadgerDB so session history survives
// bridge restarts. Low-latency embedded storage (~100µs reads); the warm
// tier of the persistence model.
//
// All operations are safe for concurrent use.
type Store struct {
	db *badger.DB
}

// OpenStore opens (creating if needed) a persistent store at path.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("kernels: create store dir: %w", err)
	}
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kernels: open store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenStoreInMemory opens a store that keeps nothing on disk. For tests.
func OpenStoreInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kernels: open in-memory store: %w", err)
	}
	return &Store{db: db}, nil
}

// Put writes or replaces a session record.
func (s *Store) Put(rec datatypes.SessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kernels: marshal session record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKeyPrefix+rec.ID), raw)
	})
}

// Get reads one session record.
func (s *Store) Get(id string) (datatypes.SessionRecord, error) {
	var rec datatypes.SessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// List returns every persisted session record.
func (s *Store) List() ([]datatypes.SessionRecord, error) {
	var out []datatypes.SessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec datatypes.SessionRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// Delete removes a session record. Deleting a missing record is not an
// error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKeyPrefix + id))
	})
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog to BadgerDB's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
