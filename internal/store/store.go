// Package store is the single-node storage engine (C1): an in-memory map
// backed by a write-ahead log and periodic snapshots. It is mode-agnostic —
// single-node, leader, and leaderless replication all sit on top of it and
// this package knows nothing about any of them.
//
// Durability contract: Set/Delete/BulkSet only return success once their
// WAL record(s) are flushed and fsynced. A single mutex covers the map and
// the WAL file for the entire duration of each operation, trading
// throughput for "serialisable within a node".
package store

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"kvstore/internal/kverrors"
)

// Store is the main storage engine. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	data  map[string]string
	wal   *wal
	dir   string
	debug bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDebug enables the simulate_failure fault-injection path (§4.1).
func WithDebug(debug bool) Option {
	return func(s *Store) { s.debug = debug }
}

// New opens (or creates) a store rooted at dir: it creates the directory if
// missing, loads the latest snapshot, then replays the WAL on top of it.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", kverrors.ErrIOFailure, err)
	}

	s := &Store{
		data: make(map[string]string),
		dir:  dir,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("%w: load snapshot: %v", kverrors.ErrIOFailure, err)
	}

	w, err := openWAL(filepath.Join(dir, "wal.log"))
	if err != nil {
		return nil, fmt.Errorf("%w: open wal: %v", kverrors.ErrIOFailure, err)
	}
	s.wal = w

	if err := s.replayWAL(); err != nil {
		return nil, fmt.Errorf("%w: replay wal: %v", kverrors.ErrIOFailure, err)
	}

	return s, nil
}

// Set durably stores key=value and returns once the WAL record is fsynced.
func (s *Store) Set(key, value string, simulateFailure bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.append(walEntry{Op: opSet, Key: key, Value: value}); err != nil {
		return fmt.Errorf("%w: wal append: %v", kverrors.ErrIOFailure, err)
	}
	s.data[key] = value

	return s.snapshotLocked(simulateFailure)
}

// Get returns the value for key, or ok=false if absent.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Delete removes key. Returns false without any side effect if the key was
// already absent (§4.1) — there is nothing to make durable in that case.
func (s *Store) Delete(key string, simulateFailure bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return false, nil
	}

	if err := s.wal.append(walEntry{Op: opDelete, Key: key}); err != nil {
		return false, fmt.Errorf("%w: wal append: %v", kverrors.ErrIOFailure, err)
	}
	delete(s.data, key)

	if err := s.snapshotLocked(simulateFailure); err != nil {
		return false, err
	}
	return true, nil
}

// Item is one key/value pair in a BulkSet request.
type Item struct {
	Key   string
	Value string
}

// BulkSet appends every item's WAL record in order (flushed+fsynced each
// time), then applies all of them to the map, then takes one snapshot.
// All-or-nothing is not promised: a crash between WAL appends may leave a
// prefix durable, but ordering within the call is preserved.
func (s *Store) BulkSet(items []Item, simulateFailure bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range items {
		if err := s.wal.append(walEntry{Op: opSet, Key: it.Key, Value: it.Value}); err != nil {
			return 0, fmt.Errorf("%w: wal append: %v", kverrors.ErrIOFailure, err)
		}
	}
	for _, it := range items {
		s.data[it.Key] = it.Value
	}

	if err := s.snapshotLocked(simulateFailure); err != nil {
		return 0, err
	}
	return len(items), nil
}

// Keys returns every key currently stored.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot forces a snapshot write (ignoring the simulate_failure skip) and
// is exposed for background snapshot tickers and graceful shutdown.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(false)
}

// Checkpoint forces a snapshot, then truncates the WAL (§4.1 checkpoint()).
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeSnapshotLocked(); err != nil {
		return err
	}
	if err := s.wal.truncate(); err != nil {
		return fmt.Errorf("%w: truncate wal: %v", kverrors.ErrIOFailure, err)
	}
	return nil
}

// Close releases the WAL file handle. Call during shutdown.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.close()
}

// ─── internal ───────────────────────────────────────────────────────────────

// snapshotLocked writes a new snapshot, honoring the debug simulate_failure
// skip (1% chance to skip the snapshot — never the WAL — per §4.1/§9). The
// caller must already hold s.mu.
func (s *Store) snapshotLocked(simulateFailure bool) error {
	if simulateFailure && s.debug && rand.Float64() < 0.01 {
		return nil
	}
	return s.writeSnapshotLocked()
}

func (s *Store) writeSnapshotLocked() error {
	path := filepath.Join(s.dir, "data.json")
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create snapshot: %v", kverrors.ErrIOFailure, err)
	}
	if err := json.NewEncoder(f).Encode(s.data); err != nil {
		f.Close()
		return fmt.Errorf("%w: encode snapshot: %v", kverrors.ErrIOFailure, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync snapshot: %v", kverrors.ErrIOFailure, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close snapshot: %v", kverrors.ErrIOFailure, err)
	}

	// Atomic rename: a crash between Create and Rename leaves the prior
	// snapshot intact (I3).
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename snapshot: %v", kverrors.ErrIOFailure, err)
	}
	return nil
}

func (s *Store) loadSnapshot() error {
	path := filepath.Join(s.dir, "data.json")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var data map[string]string
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		// A corrupt snapshot is treated as "no snapshot" rather than a
		// fatal startup error — WAL replay on top of an empty map is
		// still well defined.
		return nil
	}
	s.data = data
	return nil
}

// replayWAL rebuilds the in-memory map from the log without re-writing it.
func (s *Store) replayWAL() error {
	entries, err := s.wal.readAll()
	if err != nil {
		return err
	}
	for _, e := range entries {
		switch e.Op {
		case opSet:
			s.data[e.Key] = e.Value
		case opDelete:
			delete(s.data, e.Key)
		}
	}
	return nil
}
