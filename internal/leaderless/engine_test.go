package leaderless

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"kvstore/internal/clock"
	"kvstore/internal/cluster"
	"kvstore/internal/dispatch"
	"kvstore/internal/kverrors"
	"kvstore/internal/store"
)

func TestReplicaNodesWrapsAround(t *testing.T) {
	nodes := []cluster.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	reps := replicaNodes(nodes, "somekey", 3)
	require.Len(t, reps, 3)

	seen := map[string]bool{}
	for _, n := range reps {
		seen[n.ID] = true
	}
	require.Len(t, seen, 3) // all distinct when RF == cluster size
}

func TestReplicaNodesCapsAtClusterSize(t *testing.T) {
	nodes := []cluster.Node{{ID: "a"}, {ID: "b"}}
	reps := replicaNodes(nodes, "k", 5)
	require.Len(t, reps, 2)
}

func newTestEngine(t *testing.T, selfID string, peers []cluster.Node, rf int) *Engine {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	self := cluster.Node{ID: selfID, Address: "127.0.0.1:0"}
	m := cluster.NewMembership(self, peers)

	e, err := New(selfID, s, m, t.TempDir(), rf)
	require.NoError(t, err)
	return e
}

func TestSingleNodeWriteMeetsQuorumOfOne(t *testing.T) {
	e := newTestEngine(t, "n1", nil, 1)
	require.NoError(t, e.Set("k", "v", false))

	v, err := e.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
}

func TestDeleteIsTombstoneNotHardDelete(t *testing.T) {
	e := newTestEngine(t, "n1", nil, 1)
	require.NoError(t, e.Set("k", "v", false))

	deleted, err := e.Delete("k", false)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = e.Get("k")
	require.ErrorIs(t, err, kverrors.ErrNotFound)

	// the tombstone itself is a real stored value, not an absence
	raw, ok := e.store.Get("k")
	require.True(t, ok)
	require.Equal(t, tombstone, raw)
}

func TestReplicateSetRejectsStaleClock(t *testing.T) {
	e := newTestEngine(t, "n1", nil, 1)

	vc := e.clocks.tick("n1", "k")
	require.NoError(t, e.store.Set("k", "fresh", false))

	stale := vc.Copy()
	for k := range stale {
		if stale[k] > 0 {
			stale[k]--
		}
	}
	require.NoError(t, e.ReplicateSet("k", "stale", stale))

	v, ok := e.store.Get("k")
	require.True(t, ok)
	require.Equal(t, "fresh", v)
}

func TestReplicateSetAcceptsWhenNoExistingRecord(t *testing.T) {
	e := newTestEngine(t, "n1", nil, 1)
	vc := clock.FromDict(map[string]uint64{"n2": 1})

	require.NoError(t, e.ReplicateSet("k", "v", vc))
	v, ok := e.store.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestGossipMergesSelfClockOnly(t *testing.T) {
	e := newTestEngine(t, "n1", nil, 1)
	before := e.clocks.selfClock()
	require.Equal(t, uint64(0), before["n2"])

	req := dispatch.GossipRequest{
		NodeID: "n2",
		Clock:  clock.FromDict(map[string]uint64{"n2": 5}),
	}
	err := e.Gossip(req)
	require.NoError(t, err)

	after := e.clocks.selfClock()
	require.Equal(t, uint64(5), after["n2"])
}

// fakeReplicaPeer stands in for another node's /replicate_set and
// /replicate_get endpoints.
type fakeReplicaPeer struct {
	srv   *httptest.Server
	store map[string]string
	clock map[string]map[string]uint64
}

func newFakeReplicaPeer() *fakeReplicaPeer {
	p := &fakeReplicaPeer{store: map[string]string{}, clock: map[string]map[string]uint64{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/replicate_set", func(w http.ResponseWriter, r *http.Request) {
		var req replicateSetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		p.store[req.Key] = req.Value
		p.clock[req.Key] = req.Clock
		_ = json.NewEncoder(w).Encode(struct {
			OK bool `json:"ok"`
		}{true})
	})
	mux.HandleFunc("/replicate_get", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		v, ok := p.store[key]
		_ = json.NewEncoder(w).Encode(replicateGetResponse{Value: v, Clock: p.clock[key], Found: ok})
	})
	p.srv = httptest.NewServer(mux)
	return p
}

func (p *fakeReplicaPeer) node(id string) cluster.Node {
	u, _ := url.Parse(p.srv.URL)
	return cluster.Node{ID: id, Address: u.Host}
}

func (p *fakeReplicaPeer) close() { p.srv.Close() }

func TestQuorumWriteReplicatesToPeers(t *testing.T) {
	peer := newFakeReplicaPeer()
	defer peer.close()

	e := newTestEngine(t, "n1", []cluster.Node{peer.node("n2")}, 2)
	require.NoError(t, e.Set("k", "v", false))
	require.Equal(t, "v", peer.store["k"])
}

func TestQuorumWriteFailsWhenPeerUnreachable(t *testing.T) {
	e := newTestEngine(t, "n1", []cluster.Node{{ID: "n2", Address: "127.0.0.1:1"}}, 2)
	err := e.Set("k", "v", false)
	require.Error(t, err)
}
