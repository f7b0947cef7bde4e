package core

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// PositionOracle supplies pairwise node distances. The clustering layer
// never computes positions itself; the knowledge base is the production
// implementation.
type PositionOracle interface {
	Distance(a, b model.NodeID) (float64, error)
}

// ClusterManager owns head election, nearest-head cluster formation, and
// backup head selection. It holds no cluster state itself; each operation
// takes or returns the round's cluster table explicitly.
type ClusterManager struct {
	oracle PositionOracle
	rng    *rand.Rand
	log    logging.Logger
}

// NewClusterManager constructs a manager. The random generator is injected
// so election runs can be replayed deterministically under a fixed seed.
func NewClusterManager(oracle PositionOracle, rng *rand.Rand, log logging.Logger) *ClusterManager {
	if log == nil {
		log = logging.Noop()
	}
	return &ClusterManager{oracle: oracle, rng: rng, log: log}
}

// ElectHeads builds a fresh cluster table for a new round. Each node draws
// a uniform sample in [0,1) and becomes a head when the sample is at or
// below probability and its remaining energy is strictly above
// eligibilityFloor. Zero heads is a valid outcome; downstream steps treat
// it as an idle round.
//
// Nodes are visited in the order given, so a sorted id slice plus a seeded
// generator yields identical tables across runs.
func (m *ClusterManager) ElectHeads(ids []model.NodeID, energy EnergyStore, probability, eligibilityFloor float64) model.ClusterTable {
	table := make(model.ClusterTable)
	for _, id := range ids {
		sample := m.rng.Float64()
		remaining := energy.RemainingOrZero(id)
		if sample <= probability && remaining > eligibilityFloor {
			table[id] = &model.Cluster{HeadID: id}
			m.log.Info(context.Background(), "node elected as cluster head",
				logging.Uint32("node", uint32(id)),
				logging.Float64("remaining_energy", remaining),
			)
		}
	}
	if len(table) == 0 {
		m.log.Info(context.Background(), "no cluster heads elected this round")
	}
	return table
}

// FormClusters assigns every non-head node to its minimum-distance head,
// appending it to that head's member list. Heads are scanned in ascending
// id order so distance ties always break to the first head encountered.
// Nodes with no reachable head stay unassigned for the round.
func (m *ClusterManager) FormClusters(ids []model.NodeID, table model.ClusterTable) {
	heads := table.HeadIDs()
	sort.Slice(heads, func(i, j int) bool { return heads[i] < heads[j] })

	for _, id := range ids {
		if table.IsHead(id) {
			continue
		}
		minDistance := math.MaxFloat64
		var closest model.NodeID
		found := false
		for _, head := range heads {
			distance, err := m.oracle.Distance(id, head)
			if err != nil {
				// Stale id in either slot: skip this pairing, the
				// failure detector will catch up with it.
				continue
			}
			if distance < minDistance {
				minDistance = distance
				closest = head
				found = true
			}
		}
		if !found {
			continue
		}
		table[closest].Members = append(table[closest].Members, id)
		m.log.Debug(context.Background(), "node joined cluster",
			logging.Uint32("node", uint32(id)),
			logging.Uint32("head", uint32(closest)),
			logging.Float64("distance", minDistance),
		)
	}
}

// SelectBackup returns the member with strictly maximal remaining energy,
// ties resolved to the first-seen member, or nil when the member list is
// empty. It only produces a useful answer after formation has populated
// the cluster; invoked straight after election it always returns nil.
func (m *ClusterManager) SelectBackup(cluster *model.Cluster, energy EnergyStore) *model.NodeID {
	var backup *model.NodeID
	best := -1.0
	for _, member := range cluster.Members {
		remaining := energy.RemainingOrZero(member)
		if remaining > best {
			best = remaining
			id := member
			backup = &id
		}
	}
	return backup
}

// AssignBackups runs SelectBackup for every cluster in the table and
// records the result on the cluster. Meant to be called once formation has
// completed for the round.
func (m *ClusterManager) AssignBackups(table model.ClusterTable, energy EnergyStore) {
	for _, cluster := range table {
		cluster.BackupHeadID = m.SelectBackup(cluster, energy)
		if cluster.BackupHeadID != nil {
			m.log.Debug(context.Background(), "backup head selected",
				logging.Uint32("head", uint32(cluster.HeadID)),
				logging.Uint32("backup", uint32(*cluster.BackupHeadID)),
			)
		}
	}
}
