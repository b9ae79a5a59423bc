// Package dispatch is the Operation Dispatcher (C3): the thin,
// protocol-agnostic seam through which a transport invokes whichever
// replication Engine (single-node, leader, or leaderless) is configured for
// this process. Request validation happens in the transport. It knows nothing about HTTP — internal/api adapts these
// calls onto gin; a different transport could reuse this package unchanged.
package dispatch

import (
	"fmt"

	"kvstore/internal/clock"
	"kvstore/internal/kverrors"
	"kvstore/internal/store"
)

// Engine is the contract every replication mode implements. The eight
// logical request kinds from §4.3 (get, set, delete, bulk_set, vote,
// heartbeat, replicate_apply, replicate_set/replicate_get, gossip) plus a
// liveness ping all live here; a mode that doesn't use a given op (e.g.
// single-node has no Vote) returns kverrors.ErrBadRequest for it.
type Engine interface {
	Get(key string) (value string, err error)
	Set(key, value string, simulateFailure bool) error
	Delete(key string, simulateFailure bool) (deleted bool, err error)
	BulkSet(items []store.Item, simulateFailure bool) (count int, err error)

	Vote(req VoteRequest) (VoteResponse, error)
	Heartbeat(req HeartbeatRequest) (HeartbeatResponse, error)
	ReplicateApply(entry ApplyEntry) error

	ReplicateSet(key, value string, c clock.VectorClock) error
	ReplicateGet(key string) (value string, c clock.VectorClock, found bool)
	Gossip(req GossipRequest) error

	Ping() error
}

// VoteRequest/VoteResponse implement the leader-mode election RPC (§4.4).
type VoteRequest struct {
	Term        int    `json:"term"`
	CandidateID string `json:"candidate_id"`
}

type VoteResponse struct {
	Granted bool `json:"granted"`
	Term    int  `json:"term"`
}

// HeartbeatRequest/HeartbeatResponse implement the leader's periodic
// heartbeat (§4.4).
type HeartbeatRequest struct {
	Term           int    `json:"term"`
	LeaderID       string `json:"leader_id"`
	LeaderEndpoint string `json:"leader_endpoint"`
}

type HeartbeatResponse struct {
	OK bool `json:"ok"`
}

// ApplyEntry is a leader→follower log-apply record (§4.4). Op is "set",
// "delete" or "bulk_set"; BulkItems is populated only for a bulk_set apply.
type ApplyEntry struct {
	Op        string       `json:"op"`
	Key       string       `json:"key,omitempty"`
	Value     string       `json:"value,omitempty"`
	BulkItems []store.Item `json:"bulk_items,omitempty"`
}

// GossipRequest carries one node's clock state to a peer (§4.5). Only
// clocks are exchanged — never values — per the Non-goal on anti-entropy.
type GossipRequest struct {
	NodeID      string                        `json:"node_id"`
	Clock       clock.VectorClock             `json:"clock"`
	ValueClocks map[string]clock.VectorClock  `json:"value_clocks"`
}

// Dispatcher holds the configured Engine for a transport to call through.
// It exists so a non-HTTP transport (a test harness, a CLI over a Unix
// socket, ...) can drive the same core without depending on gin. It does
// not route operations by name itself; Unknown builds the error for an op
// name the transport does not recognise.
type Dispatcher struct {
	Engine Engine
}

func New(e Engine) *Dispatcher {
	return &Dispatcher{Engine: e}
}

// Unknown is returned for an op name the dispatcher doesn't recognise.
func (d *Dispatcher) Unknown(op string) error {
	return fmt.Errorf("%w: unknown operation %q", kverrors.ErrNotFound, op)
}
