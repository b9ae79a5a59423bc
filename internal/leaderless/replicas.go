package leaderless

import "kvstore/internal/cluster"

// replicaNodes implements §4.5's replica-selection rule: hash the key onto
// the canonical ordered node list, then take RF consecutive nodes
// (wrapping around). This is deliberately the original's flat
// hash(key) mod N scheme, not a consistent-hash ring with virtual nodes —
// simpler, and it's what the reference implementation actually does.
func replicaNodes(all []cluster.Node, key string, replicationFactor int) []cluster.Node {
	n := len(all)
	if n == 0 {
		return nil
	}
	rf := replicationFactor
	if rf > n {
		rf = n
	}
	start := int(cluster.HashKey(key) % uint32(n))
	out := make([]cluster.Node, 0, rf)
	for i := 0; i < rf; i++ {
		out = append(out, all[(start+i)%n])
	}
	return out
}
