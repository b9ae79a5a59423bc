// Package cluster tracks cluster membership: the flat, statically
// discovered set of peer endpoints every replication mode fans out to.
// There is no gossip-based membership protocol here — nodes are given the
// full peer list at startup (§9 "Cyclic peer graph": a flat set of
// endpoints, no cyclic object graph required).
package cluster

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// Node is one cluster member.
type Node struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// Membership holds the canonical, ordered node list: self first, then
// peers in the order they were configured. This order is the "canonical
// ordered list" §4.5 uses to pick a key's replica set, so it must stay
// stable across reads — Join/Leave append/remove but never reorder the
// surviving members.
type Membership struct {
	mu    sync.RWMutex
	order []string // node IDs in canonical order
	nodes map[string]Node
}

// NewMembership seeds membership with self plus its configured peers, self
// always first.
func NewMembership(self Node, peers []Node) *Membership {
	m := &Membership{
		nodes: make(map[string]Node, len(peers)+1),
	}
	m.nodes[self.ID] = self
	m.order = append(m.order, self.ID)
	for _, p := range peers {
		if _, ok := m.nodes[p.ID]; ok {
			continue
		}
		m.nodes[p.ID] = p
		m.order = append(m.order, p.ID)
	}
	return m
}

// Join adds a node to the cluster. Returns an error if already present.
func (m *Membership) Join(n Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[n.ID]; ok {
		return fmt.Errorf("node %s already in cluster", n.ID)
	}
	m.nodes[n.ID] = n
	m.order = append(m.order, n.ID)
	return nil
}

// Leave removes a node from the cluster.
func (m *Membership) Leave(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[id]; !ok {
		return fmt.Errorf("node %s not in cluster", id)
	}
	delete(m.nodes, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the Node for id.
func (m *Membership) Get(id string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// All returns every node, self included, in canonical order.
func (m *Membership) All() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.nodes[id])
	}
	return out
}

// Peers returns every node except self.
func (m *Membership) Peers(selfID string) []Node {
	all := m.All()
	out := make([]Node, 0, len(all))
	for _, n := range all {
		if n.ID != selfID {
			out = append(out, n)
		}
	}
	return out
}

// Count returns the number of nodes currently in the cluster.
func (m *Membership) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// HashKey maps a string key onto a 32-bit ring position using SHA-256,
// truncated to its first four bytes. Used by leaderless replica selection
// (§4.5: "hash(key) mod N").
func HashKey(key string) uint32 {
	h := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint32(h[:4])
}
