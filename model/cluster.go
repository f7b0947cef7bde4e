package model

// Cluster is one round's worth of membership for a single elected head.
// Clusters are built fresh at each election and discarded at the next; no
// cluster survives a round boundary.
type Cluster struct {
	HeadID NodeID

	// BackupHeadID is the member holding strictly maximal remaining energy
	// at selection time, or nil when no member qualifies. Meaningful only
	// after formation has populated Members.
	BackupHeadID *NodeID

	// Members are the non-head nodes assigned to this head, in assignment
	// order. A node appears at most once.
	Members []NodeID
}

// HasMember reports whether id is currently in the member list.
func (c *Cluster) HasMember(id NodeID) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

// RemoveMember deletes every occurrence of id from the member list,
// preserving the order of the remaining members. It reports whether
// anything was removed.
func (c *Cluster) RemoveMember(id NodeID) bool {
	kept := c.Members[:0]
	removed := false
	for _, m := range c.Members {
		if m == id {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	c.Members = kept
	return removed
}

// ClusterTable maps each elected head to its cluster for the current round.
// The table is rebuilt wholesale every election; it is never patched
// incrementally across rounds.
type ClusterTable map[NodeID]*Cluster

// HeadIDs returns the elected heads in unspecified order.
func (t ClusterTable) HeadIDs() []NodeID {
	ids := make([]NodeID, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	return ids
}

// IsHead reports whether id heads a cluster in this table.
func (t ClusterTable) IsHead(id NodeID) bool {
	_, ok := t[id]
	return ok
}
