package core

import (
	"context"

	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// FailureDetector prunes exhausted nodes. A node at or below the death
// floor is removed from every cluster's member list; the eligibility floor
// in election keeps it from ever heading a cluster again, so no separate
// blacklist is needed.
type FailureDetector struct {
	deathFloor float64
	log        logging.Logger
}

// NewFailureDetector constructs a detector with the given death floor.
func NewFailureDetector(deathFloor float64, log logging.Logger) *FailureDetector {
	if log == nil {
		log = logging.Noop()
	}
	return &FailureDetector{deathFloor: deathFloor, log: log}
}

// CheckFailures scans ids against the energy store and removes each failed
// node from every cluster in the table, not just its last known one, so a
// stale duplicate assignment is still fully pruned. It returns the ids
// that failed this pass.
//
// A dead head keeps its table entry; the entry disappears naturally at the
// next election when the table is rebuilt. Callers wanting mid-round head
// replacement can follow up with PromoteBackup.
func (d *FailureDetector) CheckFailures(ids []model.NodeID, energy EnergyStore, table model.ClusterTable) []model.NodeID {
	var failed []model.NodeID
	for _, id := range ids {
		remaining := energy.RemainingOrZero(id)
		if remaining > d.deathFloor {
			continue
		}
		failed = append(failed, id)
		for _, cluster := range table {
			cluster.RemoveMember(id)
		}
		d.log.Info(context.Background(), "node failed due to low energy",
			logging.Uint32("node", uint32(id)),
			logging.Float64("remaining_energy", remaining),
		)
	}
	return failed
}

// PromoteBackup replaces a dead head with its backup mid-round: the backup
// becomes the head of the entry, leaves the member list, and the old head
// is dropped. It reports whether a promotion happened; a head with no
// recorded backup simply keeps its entry until the next rebuild.
func (d *FailureDetector) PromoteBackup(table model.ClusterTable, headID model.NodeID) bool {
	cluster, ok := table[headID]
	if !ok || cluster.BackupHeadID == nil {
		return false
	}
	backup := *cluster.BackupHeadID

	cluster.RemoveMember(backup)
	cluster.HeadID = backup
	cluster.BackupHeadID = nil
	delete(table, headID)
	table[backup] = cluster

	d.log.Info(context.Background(), "backup promoted to cluster head",
		logging.Uint32("old_head", uint32(headID)),
		logging.Uint32("new_head", uint32(backup)),
	)
	return true
}
