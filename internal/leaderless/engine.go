// Package leaderless implements the leaderless replication mode (C5):
// every node accepts reads and writes for the keys it's a replica of,
// coordinating via hash-based replica selection, quorum acknowledgement,
// and vector clocks for conflict resolution — no elected coordinator, no
// single point of failure for writes.
package leaderless

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kvstore/internal/clock"
	"kvstore/internal/cluster"
	"kvstore/internal/dispatch"
	"kvstore/internal/kverrors"
	"kvstore/internal/store"
)

// tombstone is the sentinel value written in place of a genuine delete.
// Leaderless mode has no single log to append a delete marker to, so a
// delete is just a write of this sentinel that propagates, quorums, and
// conflict-resolves exactly like any other value (§4.5).
const tombstone = "__DELETED__"

const gossipInterval = 2 * time.Second

type Engine struct {
	selfID            string
	store             *store.Store
	membership        *cluster.Membership
	clocks            *clockStore
	transport         *transport
	replicationFactor int

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(selfID string, s *store.Store, m *cluster.Membership, dataDir string, replicationFactor int) (*Engine, error) {
	cs, err := newClockStore(dataDir)
	if err != nil {
		return nil, err
	}
	if replicationFactor < 1 {
		replicationFactor = 1
	}
	return &Engine{
		selfID:            selfID,
		store:             s,
		membership:        m,
		clocks:            cs,
		transport:         newTransport(),
		replicationFactor: replicationFactor,
		stopCh:            make(chan struct{}),
	}, nil
}

// Start launches the gossip loop (§4.5: every 2s, clocks only).
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.gossipLoop()
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) quorum() int {
	return e.replicationFactor/2 + 1
}

func (e *Engine) replicas(key string) []cluster.Node {
	return replicaNodes(e.membership.All(), key, e.replicationFactor)
}

// ─── Writes ─────────────────────────────────────────────────────────────────

func (e *Engine) Set(key, value string, simulateFailure bool) error {
	return e.quorumWrite(key, value, simulateFailure)
}

// Delete writes the tombstone sentinel through the same quorum-write path
// as a Set — there is no hard delete in leaderless mode (§4.5).
func (e *Engine) Delete(key string, simulateFailure bool) (bool, error) {
	if _, ok := e.store.Get(key); !ok {
		if _, ok := e.clocks.valueClock(key); !ok {
			return false, nil
		}
	}
	if err := e.quorumWrite(key, tombstone, simulateFailure); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) BulkSet(items []store.Item, simulateFailure bool) (int, error) {
	count := 0
	for _, item := range items {
		if err := e.quorumWrite(item.Key, item.Value, simulateFailure); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (e *Engine) quorumWrite(key, value string, simulateFailure bool) error {
	vc := e.clocks.tick(e.selfID, key)

	if err := e.store.Set(key, value, simulateFailure); err != nil {
		return err
	}
	acked := 1 // self

	replicas := e.replicas(key)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range replicas {
		if p.ID == e.selfID {
			continue
		}
		wg.Add(1)
		go func(p cluster.Node) {
			defer wg.Done()
			if err := e.transport.replicateSet(p, key, value, vc); err != nil {
				log.Debug().Err(err).Str("peer", p.ID).Str("key", key).Msg("replicate_set failed")
				return
			}
			mu.Lock()
			acked++
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if acked < e.quorum() {
		return fmt.Errorf("%w: got %d of %d required acks", kverrors.ErrQuorumUnmet, acked, e.quorum())
	}
	return nil
}

// ─── Reads ──────────────────────────────────────────────────────────────────

type candidate struct {
	node  cluster.Node
	value string
	clock clock.VectorClock
}

func (e *Engine) Get(key string) (string, error) {
	replicas := e.replicas(key)

	localClock, _ := e.clocks.valueClock(key)
	localValue, localOK := e.store.Get(key)

	candidates := make([]candidate, 0, len(replicas))
	if localOK {
		candidates = append(candidates, candidate{node: cluster.Node{ID: e.selfID}, value: localValue, clock: localClock})
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range replicas {
		if p.ID == e.selfID {
			continue
		}
		wg.Add(1)
		go func(p cluster.Node) {
			defer wg.Done()
			value, vc, found, err := e.transport.replicateGet(p, key)
			if err != nil || !found {
				return
			}
			mu.Lock()
			candidates = append(candidates, candidate{node: p, value: value, clock: vc})
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if len(candidates) < e.quorum() {
		return "", fmt.Errorf("%w: got %d of %d required responses", kverrors.ErrQuorumUnmet, len(candidates), e.quorum())
	}

	winner := resolveWinner(candidates)
	e.readRepair(key, winner, candidates)

	if winner.value == tombstone {
		return "", kverrors.ErrNotFound
	}
	return winner.value, nil
}

// resolveWinner picks the causally dominant candidate. Ties (equal or
// concurrent clocks) are broken by the lexicographically greatest value —
// a stand-in "last write wins" rule, since no wall-clock timestamp is
// carried on the wire (§4.5).
func resolveWinner(candidates []candidate) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		switch c.clock.Compare(best.clock) {
		case clock.After:
			best = c
		case clock.Concurrent, clock.Equal:
			if c.value > best.value {
				best = c
			}
		}
	}
	return best
}

// readRepair asynchronously pushes the winning value to any replica that
// responded with something else, so the next read sees a consistent
// picture without blocking this one (§4.5 read-repair).
func (e *Engine) readRepair(key string, winner candidate, candidates []candidate) {
	for _, c := range candidates {
		if c.node.ID == e.selfID || c.node.ID == winner.node.ID {
			continue
		}
		if c.value == winner.value {
			continue
		}
		node := c.node
		go func() {
			if err := e.transport.replicateSet(node, key, winner.value, winner.clock); err != nil {
				log.Debug().Err(err).Str("peer", node.ID).Str("key", key).Msg("read repair failed")
			}
		}()
	}

	if winner.node.ID != e.selfID {
		e.clocks.accept(e.selfID, key, winner.clock)
		_ = e.store.Set(key, winner.value, false)
	}
}

// ─── Peer-facing RPCs ───────────────────────────────────────────────────────

func (e *Engine) ReplicateSet(key, value string, vc clock.VectorClock) error {
	if !e.clocks.accept(e.selfID, key, vc) {
		return nil // existing record is causally newer, incoming write is stale
	}
	return e.store.Set(key, value, false)
}

func (e *Engine) ReplicateGet(key string) (string, clock.VectorClock, bool) {
	value, ok := e.store.Get(key)
	if !ok {
		return "", nil, false
	}
	vc, _ := e.clocks.valueClock(key)
	return value, vc, true
}

func (e *Engine) Gossip(req dispatch.GossipRequest) error {
	e.clocks.mergeGossip(e.selfID, req.Clock)

	for key, peerClock := range req.ValueClocks {
		localClock, ok := e.clocks.valueClock(key)
		peerIsNewer := !ok || peerClock.Compare(localClock) == clock.After
		if !peerIsNewer {
			continue
		}
		log.Debug().Str("peer", req.NodeID).Str("key", key).Msg("gossip: peer holds a newer value we don't have (no anti-entropy fetch)")
	}
	return nil
}

func (e *Engine) gossipLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.gossipOnce()
		}
	}
}

func (e *Engine) gossipOnce() {
	req := dispatch.GossipRequest{
		NodeID:      e.selfID,
		Clock:       e.clocks.selfClock(),
		ValueClocks: e.clocks.allValueClocks(),
	}
	for _, p := range e.membership.Peers(e.selfID) {
		go func(p cluster.Node) {
			if err := e.transport.gossip(p, req); err != nil {
				log.Debug().Err(err).Str("peer", p.ID).Msg("gossip failed")
			}
		}(p)
	}
}

func (e *Engine) Vote(dispatch.VoteRequest) (dispatch.VoteResponse, error) {
	return dispatch.VoteResponse{}, unsupported("vote")
}

func (e *Engine) Heartbeat(dispatch.HeartbeatRequest) (dispatch.HeartbeatResponse, error) {
	return dispatch.HeartbeatResponse{}, unsupported("heartbeat")
}

func (e *Engine) ReplicateApply(dispatch.ApplyEntry) error {
	return unsupported("replicate_apply")
}

func (e *Engine) Ping() error { return nil }

func unsupported(op string) error {
	return fmt.Errorf("%w: %s is not supported in leaderless mode", kverrors.ErrBadRequest, op)
}

var _ dispatch.Engine = (*Engine)(nil)
