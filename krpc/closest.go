package krpc

import "sort"

// ClosestNodes returns up to count entries from nodes ordered by true XOR
// distance to target. Unlike kademlia.RoutingTable's internal CmpDistance
// ordering (a stable byte-wise order used for bucket placement), this
// ranks by actual Kademlia closeness, the way a driver must when answering
// or issuing find_node/get_peers.
func ClosestNodes(nodes []NodeInfo[NodeID], target NodeID, count int) []NodeInfo[NodeID] {
	out := append([]NodeInfo[NodeID]{}, nodes...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Distance(target).CmpDistance(out[j].ID.Distance(target)) < 0
	})
	if len(out) > count {
		out = out[:count]
	}
	return out
}
