package leaderless

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kvstore/internal/clock"
	"kvstore/internal/kverrors"
)

// clockStore holds this node's own vector clock plus the per-key clock of
// the last value it accepted, persisted together in one file (grounded on
// masterless_replication.py's _save_clocks/_load_clocks). It is distinct
// from the core store: §3's core Record is bare key/value, and clocks are a
// leaderless-mode-only concern layered on top.
type clockStore struct {
	mu    sync.Mutex
	path  string
	self  clock.VectorClock
	value map[string]clock.VectorClock
}

type clockFile struct {
	Self  map[string]uint64            `json:"vector_clock"`
	Value map[string]map[string]uint64 `json:"value_clocks"`
}

func newClockStore(dir string) (*clockStore, error) {
	cs := &clockStore{
		path:  filepath.Join(dir, "clocks.json"),
		self:  clock.New(),
		value: make(map[string]clock.VectorClock),
	}
	if err := cs.load(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *clockStore) load() error {
	data, err := os.ReadFile(cs.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read clocks: %v", kverrors.ErrIOFailure, err)
	}

	var cf clockFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil // corrupt clock file, start fresh rather than fail startup
	}
	cs.self = clock.FromDict(cf.Self)
	for k, vc := range cf.Value {
		cs.value[k] = clock.FromDict(vc)
	}
	return nil
}

// save must be called with cs.mu held.
func (cs *clockStore) save() error {
	cf := clockFile{
		Self:  cs.self.ToDict(),
		Value: make(map[string]map[string]uint64, len(cs.value)),
	}
	for k, vc := range cs.value {
		cf.Value[k] = vc.ToDict()
	}

	data, err := json.Marshal(cf)
	if err != nil {
		return fmt.Errorf("%w: marshal clocks: %v", kverrors.ErrIOFailure, err)
	}

	tmp := cs.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create clocks tmp: %v", kverrors.ErrIOFailure, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: write clocks tmp: %v", kverrors.ErrIOFailure, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: fsync clocks tmp: %v", kverrors.ErrIOFailure, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close clocks tmp: %v", kverrors.ErrIOFailure, err)
	}
	if err := os.Rename(tmp, cs.path); err != nil {
		return fmt.Errorf("%w: rename clocks tmp: %v", kverrors.ErrIOFailure, err)
	}
	return nil
}

// tick increments self's own counter for a local write and records the
// resulting clock as the key's value clock. Returns a copy safe for the
// caller to hand off to replicas.
func (cs *clockStore) tick(self, key string) clock.VectorClock {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.self.Tick(self)
	vc := cs.self.Copy()
	cs.value[key] = vc
	_ = cs.save()
	return vc
}

func (cs *clockStore) valueClock(key string) (clock.VectorClock, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	vc, ok := cs.value[key]
	if !ok {
		return nil, false
	}
	return vc.Copy(), true
}

// accept implements §4.5's replicated-write rule: a write is accepted if
// there's no existing record for the key, or the incoming clock is not
// strictly older than what's on file. Ties and concurrent writes are
// accepted (last-writer-wins is resolved at read time, not write time).
func (cs *clockStore) accept(self, key string, incoming clock.VectorClock) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.self = cs.self.Update(self, incoming)

	existing, ok := cs.value[key]
	if ok && incoming.Compare(existing) == clock.Before {
		_ = cs.save()
		return false
	}
	cs.value[key] = incoming.Copy()
	_ = cs.save()
	return true
}

// mergeGossip merges a peer's own vector clock into ours (§4.5: gossip
// exchanges clocks only, never values).
func (cs *clockStore) mergeGossip(self string, peerClock clock.VectorClock) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.self = cs.self.Update(self, peerClock)
	_ = cs.save()
}

func (cs *clockStore) selfClock() clock.VectorClock {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.self.Copy()
}

func (cs *clockStore) allValueClocks() map[string]clock.VectorClock {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make(map[string]clock.VectorClock, len(cs.value))
	for k, vc := range cs.value {
		out[k] = vc.Copy()
	}
	return out
}
