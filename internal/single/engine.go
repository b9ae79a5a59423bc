// Package single implements the no-replication dispatch.Engine: every
// operation goes straight to the local storage engine. It exists so a
// single process can run the store without any cluster machinery, and so
// the leader/leaderless engines have a minimal baseline to diff against.
package single

import (
	"fmt"

	"kvstore/internal/clock"
	"kvstore/internal/dispatch"
	"kvstore/internal/kverrors"
	"kvstore/internal/store"
)

type Engine struct {
	Store *store.Store
}

func New(s *store.Store) *Engine {
	return &Engine{Store: s}
}

func (e *Engine) Get(key string) (string, error) {
	v, ok := e.Store.Get(key)
	if !ok {
		return "", kverrors.ErrNotFound
	}
	return v, nil
}

func (e *Engine) Set(key, value string, simulateFailure bool) error {
	return e.Store.Set(key, value, simulateFailure)
}

func (e *Engine) Delete(key string, simulateFailure bool) (bool, error) {
	return e.Store.Delete(key, simulateFailure)
}

func (e *Engine) BulkSet(items []store.Item, simulateFailure bool) (int, error) {
	return e.Store.BulkSet(items, simulateFailure)
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

func (e *Engine) ReplicateSet(string, string, clock.VectorClock) error {
	return unsupported("replicate_set")
}

func (e *Engine) ReplicateGet(string) (string, clock.VectorClock, bool) {
	return "", nil, false
}

func (e *Engine) Gossip(dispatch.GossipRequest) error {
	return unsupported("gossip")
}

func (e *Engine) Ping() error { return nil }

func unsupported(op string) error {
	return fmt.Errorf("%w: %s is not supported in single-node mode", kverrors.ErrBadRequest, op)
}

var _ dispatch.Engine = (*Engine)(nil)
