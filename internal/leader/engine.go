package leader

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kvstore/internal/cluster"
	"kvstore/internal/clock"
	"kvstore/internal/dispatch"
	"kvstore/internal/kverrors"
	"kvstore/internal/store"
)

// Engine is the leader-mode replication node (C4). It owns one
// electionState, one Store, and the membership list of peers it
// heartbeats/replicates to.
type Engine struct {
	selfID   string
	selfAddr string

	store      *store.Store
	membership *cluster.Membership
	transport  *transport
	state      electionState

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(selfID, selfAddr string, s *store.Store, m *cluster.Membership) *Engine {
	return &Engine{
		selfID:     selfID,
		selfAddr:   selfAddr,
		store:      s,
		membership: m,
		transport:  newTransport(),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the follower health-check loop and runs an initial
// election. Call once at node startup.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.healthCheckLoop()
	e.StartElection()
}

// Stop cooperatively terminates all background loops.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// ─── Election ─────────────────────────────────────────────────────────────

// StartElection runs the candidacy described in §4.4: bump term, vote for
// self, request votes from every peer in parallel (each bounded by
// voteTimeout), and become leader on reaching a majority of the full
// cluster (including self) — the §9 redesign flag's generalized
// ⌊N/2⌋+1 rule, not the original's hardcoded 2.
func (e *Engine) StartElection() {
	term := e.state.beginCandidacy(e.selfID)
	peers := e.membership.Peers(e.selfID)
	majority := e.membership.Count()/2 + 1

	var mu sync.Mutex
	votes := 1 // self

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p cluster.Node) {
			defer wg.Done()
			resp, err := e.transport.requestVote(p, dispatch.VoteRequest{Term: term, CandidateID: e.selfID})
			if err != nil || !resp.Granted {
				return
			}
			mu.Lock()
			votes++
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if votes >= majority {
		if e.state.becomeLeader(e.selfID, e.selfAddr, term) {
			log.Info().Str("node", e.selfID).Int("term", term).Int("votes", votes).Msg("became leader")
			e.wg.Add(1)
			go e.heartbeatLoop(term)
		}
		return
	}
	e.state.stepDown(term)
	log.Info().Str("node", e.selfID).Int("term", term).Int("votes", votes).Msg("election lost, remaining follower")
}

func (e *Engine) heartbeatLoop(term int) {
	defer e.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			role, curTerm, _, _, _ := e.state.snapshot()
			if role != Leader || curTerm != term {
				return // demoted, or a newer term has taken over
			}
			for _, p := range e.membership.Peers(e.selfID) {
				go func(p cluster.Node) {
					_ = e.transport.sendHeartbeat(p, dispatch.HeartbeatRequest{
						Term: term, LeaderID: e.selfID, LeaderEndpoint: e.selfAddr,
					})
				}(p)
			}
		}
	}
}

// healthCheckLoop implements §4.4 failover: a follower whose heartbeat has
// gone stale and whose liveness ping to the known leader fails starts a new
// election.
func (e *Engine) healthCheckLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(healthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			role, _, leaderID, leaderAddr, lastHeartbeat := e.state.snapshot()
			if role == Leader {
				continue
			}
			if time.Since(lastHeartbeat) <= heartbeatTimeout {
				continue
			}
			if leaderAddr != "" {
				if n, ok := e.membership.Get(leaderID); ok {
					if err := e.transport.ping(n); err == nil {
						continue // leader still alive, just a slow heartbeat
					}
				}
			}
			e.StartElection()
		}
	}
}

// ─── dispatch.Engine ────────────────────────────────────────────────────────

func (e *Engine) Get(key string) (string, error) {
	if redirect, err := e.redirectIfNotLeader(); err != nil {
		return "", err
	} else if redirect != nil {
		return "", redirect
	}
	v, ok := e.store.Get(key)
	if !ok {
		return "", kverrors.ErrNotFound
	}
	return v, nil
}

func (e *Engine) Set(key, value string, simulateFailure bool) error {
	if redirect, err := e.redirectIfNotLeader(); err != nil {
		return err
	} else if redirect != nil {
		return redirect
	}
	if err := e.store.Set(key, value, simulateFailure); err != nil {
		return err
	}
	e.fanOutApply(dispatch.ApplyEntry{Op: "set", Key: key, Value: value})
	return nil
}

func (e *Engine) Delete(key string, simulateFailure bool) (bool, error) {
	if redirect, err := e.redirectIfNotLeader(); err != nil {
		return false, err
	} else if redirect != nil {
		return false, redirect
	}
	deleted, err := e.store.Delete(key, simulateFailure)
	if err != nil {
		return false, err
	}
	if deleted {
		e.fanOutApply(dispatch.ApplyEntry{Op: "delete", Key: key})
	}
	return deleted, nil
}

func (e *Engine) BulkSet(items []store.Item, simulateFailure bool) (int, error) {
	if redirect, err := e.redirectIfNotLeader(); err != nil {
		return 0, err
	} else if redirect != nil {
		return 0, redirect
	}
	count, err := e.store.BulkSet(items, simulateFailure)
	if err != nil {
		return 0, err
	}
	e.fanOutApply(dispatch.ApplyEntry{Op: "bulk_set", BulkItems: items})
	return count, nil
}

// fanOutApply replicates a successful local write to every peer, best
// effort: no quorum is required and failures are not retried (§4.4).
func (e *Engine) fanOutApply(entry dispatch.ApplyEntry) {
	for _, p := range e.membership.Peers(e.selfID) {
		go func(p cluster.Node) {
			if err := e.transport.sendApply(p, entry); err != nil {
				log.Debug().Err(err).Str("peer", p.ID).Msg("replicate_apply failed, dropped (best effort)")
			}
		}(p)
	}
}

func (e *Engine) redirectIfNotLeader() (*kverrors.Redirect, error) {
	role, _, _, leaderAddr, _ := e.state.snapshot()
	if role == Leader {
		return nil, nil
	}
	if leaderAddr == "" {
		return nil, kverrors.ErrNoPrimary
	}
	return &kverrors.Redirect{Leader: leaderAddr}, nil
}

func (e *Engine) Vote(req dispatch.VoteRequest) (dispatch.VoteResponse, error) {
	granted, term := e.state.handleVoteRequest(req.Term, req.CandidateID)
	return dispatch.VoteResponse{Granted: granted, Term: term}, nil
}

func (e *Engine) Heartbeat(req dispatch.HeartbeatRequest) (dispatch.HeartbeatResponse, error) {
	ok := e.state.handleHeartbeat(req.Term, req.LeaderID, req.LeaderEndpoint)
	return dispatch.HeartbeatResponse{OK: ok}, nil
}

// ReplicateApply applies a leader's op verbatim — a follower never
// re-validates or re-fans-out what it's told to apply, and never
// reorders or deduplicates (§5 Ordering guarantees).
func (e *Engine) ReplicateApply(entry dispatch.ApplyEntry) error {
	switch entry.Op {
	case "set":
		return e.store.Set(entry.Key, entry.Value, false)
	case "delete":
		_, err := e.store.Delete(entry.Key, false)
		return err
	case "bulk_set":
		_, err := e.store.BulkSet(entry.BulkItems, false)
		return err
	default:
		return fmt.Errorf("%w: unknown apply op %q", kverrors.ErrBadRequest, entry.Op)
	}
}

func (e *Engine) ReplicateSet(string, string, clock.VectorClock) error {
	return fmt.Errorf("%w: replicate_set is not supported in leader mode", kverrors.ErrBadRequest)
}

func (e *Engine) ReplicateGet(string) (string, clock.VectorClock, bool) {
	return "", nil, false
}

func (e *Engine) Gossip(dispatch.GossipRequest) error {
	return fmt.Errorf("%w: gossip is not supported in leader mode", kverrors.ErrBadRequest)
}

func (e *Engine) Ping() error { return nil }

var _ dispatch.Engine = (*Engine)(nil)
