package leader

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kvstore/internal/cluster"
	"kvstore/internal/dispatch"
	"kvstore/internal/kverrors"
	"kvstore/internal/store"
)

// fakePeer is a minimal stand-in for another node's /cluster/* and
// /internal/apply endpoints, used to exercise Engine's outbound RPCs without
// standing up a second real Engine.
type fakePeer struct {
	srv         *httptest.Server
	grantVotes  bool
	applyCalled chan dispatch.ApplyEntry
}

func newFakePeer(grantVotes bool) *fakePeer {
	p := &fakePeer{grantVotes: grantVotes, applyCalled: make(chan dispatch.ApplyEntry, 8)}
	mux := http.NewServeMux()
	mux.HandleFunc("/cluster/vote", func(w http.ResponseWriter, r *http.Request) {
		var req dispatch.VoteRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(dispatch.VoteResponse{Granted: p.grantVotes, Term: req.Term})
	})
	mux.HandleFunc("/cluster/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dispatch.HeartbeatResponse{OK: true})
	})
	mux.HandleFunc("/internal/apply", func(w http.ResponseWriter, r *http.Request) {
		var entry dispatch.ApplyEntry
		_ = json.NewDecoder(r.Body).Decode(&entry)
		p.applyCalled <- entry
		_ = json.NewEncoder(w).Encode(struct {
			OK bool `json:"ok"`
		}{true})
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	p.srv = httptest.NewServer(mux)
	return p
}

func (p *fakePeer) node(id string) cluster.Node {
	u, _ := url.Parse(p.srv.URL)
	return cluster.Node{ID: id, Address: u.Host}
}

func (p *fakePeer) close() { p.srv.Close() }

func newEngineForTest(self cluster.Node, peers []cluster.Node) *Engine {
	m := cluster.NewMembership(self, peers)
	return &Engine{
		selfID:     self.ID,
		selfAddr:   self.Address,
		membership: m,
		transport:  newTransport(),
		stopCh:     make(chan struct{}),
	}
}

func TestStartElectionBecomesLeaderOnMajority(t *testing.T) {
	peer := newFakePeer(true)
	defer peer.close()

	self := cluster.Node{ID: "n1", Address: "127.0.0.1:0"}
	e := newEngineForTest(self, []cluster.Node{peer.node("n2")})
	e.StartElection()

	role, _, leaderID, _, _ := e.state.snapshot()
	require.Equal(t, Leader, role)
	require.Equal(t, "n1", leaderID)
}

func TestStartElectionStaysFollowerWithoutMajority(t *testing.T) {
	peer := newFakePeer(false)
	defer peer.close()

	self := cluster.Node{ID: "n1", Address: "127.0.0.1:0"}
	e := newEngineForTest(self, []cluster.Node{peer.node("n2"), {ID: "n3", Address: "127.0.0.1:1"}})
	e.StartElection()

	role, _, _, _, _ := e.state.snapshot()
	require.Equal(t, Follower, role)
}

func TestHeartbeatDemotesLeaderOnHigherTerm(t *testing.T) {
	self := cluster.Node{ID: "n1", Address: "127.0.0.1:0"}
	e := newEngineForTest(self, nil)

	term := e.state.beginCandidacy("n1")
	require.True(t, e.state.becomeLeader("n1", self.Address, term))

	ok := e.state.handleHeartbeat(term+1, "n2", "127.0.0.1:2")
	require.True(t, ok)

	role, _, leaderID, _, _ := e.state.snapshot()
	require.Equal(t, Follower, role)
	require.Equal(t, "n2", leaderID)
}

func TestFollowerRedirectsWrites(t *testing.T) {
	self := cluster.Node{ID: "n1", Address: "127.0.0.1:0"}
	e := newEngineForTest(self, nil)
	e.state.handleHeartbeat(1, "n2", "127.0.0.1:9999")

	err := e.Set("k", "v", false)
	require.Error(t, err)
	redirect, ok := err.(*kverrors.Redirect)
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:9999", redirect.Leader)
}

func TestFollowerWithNoKnownLeaderReturnsNoPrimary(t *testing.T) {
	self := cluster.Node{ID: "n1", Address: "127.0.0.1:0"}
	e := newEngineForTest(self, nil)

	_, err := e.Get("k")
	require.ErrorIs(t, err, kverrors.ErrNoPrimary)
}

func TestSetFansOutApplyToPeers(t *testing.T) {
	peer := newFakePeer(true)
	defer peer.close()

	self := cluster.Node{ID: "n1", Address: "127.0.0.1:0"}
	e := newEngineForTest(self, []cluster.Node{peer.node("n2")})

	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	e.store = s

	term := e.state.beginCandidacy("n1")
	require.True(t, e.state.becomeLeader("n1", self.Address, term))

	require.NoError(t, e.Set("k", "v", false))

	select {
	case entry := <-peer.applyCalled:
		require.Equal(t, "set", entry.Op)
		require.Equal(t, "k", entry.Key)
		require.Equal(t, "v", entry.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received replicate_apply")
	}

	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestReplicateApplyAppliesSetAndDelete(t *testing.T) {
	self := cluster.Node{ID: "n1", Address: "127.0.0.1:0"}
	e := newEngineForTest(self, nil)

	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	e.store = s

	require.NoError(t, e.ReplicateApply(dispatch.ApplyEntry{Op: "set", Key: "k", Value: "v"}))
	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	require.NoError(t, e.ReplicateApply(dispatch.ApplyEntry{Op: "delete", Key: "k"}))
	_, ok = s.Get("k")
	require.False(t, ok)
}

func TestVoteGrantedOnNewerTerm(t *testing.T) {
	self := cluster.Node{ID: "n1", Address: "127.0.0.1:0"}
	e := newEngineForTest(self, nil)

	resp, err := e.Vote(dispatch.VoteRequest{Term: 5, CandidateID: "n2"})
	require.NoError(t, err)
	require.True(t, resp.Granted)
	require.Equal(t, 5, resp.Term)
}
