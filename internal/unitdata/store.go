// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package unitdata provides the unit's persistent key/value store. Values
// survive across hook invocations; writes made during a hook are held
// back until Flush so that a failed hook leaves the store as it found it.
package unitdata

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	_ "github.com/mattn/go-sqlite3"
)

var logger = loggo.GetLogger("kpi.unitdata")

// DefaultFilename is the name of the store file inside the charm directory.
const DefaultFilename = ".unit-state.db"

const dataChangedPrefix = "reactive.data_changed."

// Store is a key/value store backed by a SQLite database.
type Store struct {
	sqlDB *sql.DB
	db    *sqlair.DB

	getStmt    *sqlair.Statement
	rangeStmt  *sqlair.Statement
	upsertStmt *sqlair.Statement
	deleteStmt *sqlair.Statement

	mu sync.Mutex
	// pending holds writes not yet flushed. A nil value is a deletion.
	pending map[string]*string
}

// Open opens, creating if needed, the store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Annotatef(err, "opening unit data %q", path)
	}
	// SQLite allows a single writer; one connection avoids lock errors.
	sqlDB.SetMaxOpenConns(1)
	if err := applySchema(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Annotatef(err, "initialising unit data %q", path)
	}

	s := &Store{
		sqlDB:   sqlDB,
		db:      sqlair.NewDB(sqlDB),
		pending: make(map[string]*string),
	}
	if err := s.prepare(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Trace(err)
	}
	logger.Debugf("opened unit data %q", path)
	return s, nil
}

func (s *Store) prepare() error {
	var err error
	if s.getStmt, err = sqlair.Prepare(`
SELECT &kvEntry.*
FROM kv
WHERE key = $kvEntry.key`, kvEntry{}); err != nil {
		return errors.Annotate(err, "preparing select statement")
	}
	if s.rangeStmt, err = sqlair.Prepare(`
SELECT &kvEntry.*
FROM kv
WHERE instr(key, $keyPrefix.prefix) = 1`, kvEntry{}, keyPrefix{}); err != nil {
		return errors.Annotate(err, "preparing select range statement")
	}
	if s.upsertStmt, err = sqlair.Prepare(`
INSERT INTO kv (key, data)
VALUES ($kvEntry.key, $kvEntry.data)
ON CONFLICT (key) DO UPDATE SET data = excluded.data`, kvEntry{}); err != nil {
		return errors.Annotate(err, "preparing upsert statement")
	}
	if s.deleteStmt, err = sqlair.Prepare(`
DELETE FROM kv
WHERE key = $kvEntry.key`, kvEntry{}); err != nil {
		return errors.Annotate(err, "preparing delete statement")
	}
	return nil
}

// Close discards unflushed writes and closes the database.
func (s *Store) Close() error {
	s.Discard()
	return errors.Trace(s.sqlDB.Close())
}

// Get decodes the value stored for key into out. If the key is not set an
// error satisfying errors.NotFound is returned.
func (s *Store) Get(ctx context.Context, key string, out any) error {
	data, err := s.get(ctx, key)
	if err != nil {
		return errors.Trace(err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return errors.Annotatef(err, "decoding value of %q", key)
	}
	return nil
}

// GetString returns the string stored for key, or an empty string if the
// key is not set.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.Get(ctx, key, &value); errors.Is(err, errors.NotFound) {
		return "", nil
	} else if err != nil {
		return "", errors.Trace(err)
	}
	return value, nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	data, ok := s.pending[key]
	s.mu.Unlock()
	if ok {
		if data == nil {
			return "", errors.NotFoundf("key %q", key)
		}
		return *data, nil
	}

	entry := kvEntry{Key: key}
	err := s.db.Query(ctx, s.getStmt, entry).Get(&entry)
	if errors.Is(err, sqlair.ErrNoRows) {
		return "", errors.NotFoundf("key %q", key)
	} else if err != nil {
		return "", errors.Annotatef(err, "reading %q", key)
	}
	return entry.Data, nil
}

// Set stores value, JSON encoded, under key.
func (s *Store) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Annotatef(err, "encoding value of %q", key)
	}
	str := string(data)
	s.mu.Lock()
	s.pending[key] = &str
	s.mu.Unlock()
	return nil
}

// Unset removes key from the store. Removing a key that is not set is
// not an error.
func (s *Store) Unset(_ context.Context, key string) error {
	s.mu.Lock()
	s.pending[key] = nil
	s.mu.Unlock()
	return nil
}

// Keys returns the sorted keys starting with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	entries, err := s.getRange(ctx, prefix)
	if err != nil {
		return nil, errors.Trace(err)
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// GetRange returns the decoded values of every key starting with prefix,
// keyed with the prefix removed.
func (s *Store) GetRange(ctx context.Context, prefix string) (map[string]any, error) {
	entries, err := s.getRange(ctx, prefix)
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := make(map[string]any, len(entries))
	for key, data := range entries {
		var value any
		if err := json.Unmarshal([]byte(data), &value); err != nil {
			return nil, errors.Annotatef(err, "decoding value of %q", key)
		}
		result[strings.TrimPrefix(key, prefix)] = value
	}
	return result, nil
}

func (s *Store) getRange(ctx context.Context, prefix string) (map[string]string, error) {
	var rows []kvEntry
	err := s.db.Query(ctx, s.rangeStmt, keyPrefix{Prefix: prefix}).GetAll(&rows)
	if err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return nil, errors.Annotatef(err, "reading keys with prefix %q", prefix)
	}

	entries := make(map[string]string, len(rows))
	for _, row := range rows {
		entries[row.Key] = row.Data
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, data := range s.pending {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if data == nil {
			delete(entries, key)
		} else {
			entries[key] = *data
		}
	}
	return entries, nil
}

// DataChanged reports whether value differs from the value last passed
// for key, and records it. The first call for a key reports true.
func (s *Store) DataChanged(ctx context.Context, key string, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, errors.Annotatef(err, "encoding value of %q", key)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	hashKey := dataChangedPrefix + key
	old, err := s.GetString(ctx, hashKey)
	if err != nil {
		return false, errors.Trace(err)
	}
	if err := s.Set(ctx, hashKey, hash); err != nil {
		return false, errors.Trace(err)
	}
	return old != hash, nil
}

// Flush writes all pending changes in a single transaction.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx, nil)
	if err != nil {
		return errors.Annotate(err, "starting transaction")
	}
	for key, data := range s.pending {
		if data == nil {
			err = tx.Query(ctx, s.deleteStmt, kvEntry{Key: key}).Run()
		} else {
			err = tx.Query(ctx, s.upsertStmt, kvEntry{Key: key, Data: *data}).Run()
		}
		if err != nil {
			_ = tx.Rollback()
			return errors.Annotatef(err, "writing %q", key)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Annotate(err, "committing unit data")
	}
	logger.Tracef("flushed %d unit data changes", len(s.pending))
	s.pending = make(map[string]*string)
	return nil
}

// Discard drops all pending changes.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		logger.Debugf("discarding %d unit data changes", len(s.pending))
	}
	s.pending = make(map[string]*string)
}
