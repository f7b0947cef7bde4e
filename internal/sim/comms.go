package sim

import (
	"context"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/sched"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// Transmission kinds reported to the metrics recorder.
const (
	kindIntraCluster = "intra_cluster"
	kindInterCluster = "inter_cluster"
)

// setupCommunications installs the self-rescheduling send tasks for a
// freshly built cluster table: one member-to-head task per member and one
// head-to-sink task per head. Tasks belong to this table generation and
// are cancelled wholesale when the table is next rebuilt.
func (rs *RoundScheduler) setupCommunications(now time.Time, table model.ClusterTable) {
	for _, cluster := range table {
		head := cluster.HeadID
		for _, member := range cluster.Members {
			member := member
			rs.repeatFor(member, now.Add(rs.cfg.IntraInterval), rs.cfg.IntraInterval, func(time.Time) {
				rs.sendIntraCluster(member, head)
			})
		}

		sampler := 0
		rs.repeatFor(head, now.Add(rs.cfg.InterInterval), rs.cfg.InterInterval, func(time.Time) {
			sampler++
			rs.sendInterCluster(head, sampler)
		})
	}
}

// repeatFor starts a repeating task and registers its handle under the
// transmitting node so failure pruning can cancel it individually.
func (rs *RoundScheduler) repeatFor(id model.NodeID, start time.Time, every time.Duration, fn func(at time.Time)) *sched.RepeatHandle {
	handle := sched.Repeat(rs.events, start, every, fn)
	rs.mu.Lock()
	rs.commHandles[id] = append(rs.commHandles[id], handle)
	rs.mu.Unlock()
	return handle
}

// sendIntraCluster charges one member-to-head transmission.
func (rs *RoundScheduler) sendIntraCluster(member, head model.NodeID) {
	if rs.sim.IsFailed(member) {
		return
	}
	distance, err := rs.sim.Nodes().Distance(member, head)
	if err != nil {
		// Either endpoint vanished; the task gets cancelled by the
		// failure path, this fire just goes quiet.
		return
	}
	txPower := rs.cfg.Profile.TxPower(distance, rs.isHighPriority(member))
	rs.sim.Energy().Drain(member, core.RoleMember.CostFactor()*txPower)
	rs.sim.TransmissionSent(kindIntraCluster)

	rs.log.Debug(context.Background(), "member sent data to cluster head",
		logging.Uint32("member", uint32(member)),
		logging.Uint32("head", uint32(head)),
		logging.Float64("tx_power", txPower),
	)
}

// sendInterCluster charges one head-to-sink relay. Energy accounting runs
// on every fire; the log line is sampled down to every Nth fire.
func (rs *RoundScheduler) sendInterCluster(head model.NodeID, fireCount int) {
	if rs.sim.IsFailed(head) {
		return
	}
	distance, err := rs.sim.Nodes().Distance(head, rs.cfg.SinkID)
	if err != nil {
		return
	}
	txPower := rs.cfg.Profile.TxPower(distance, rs.isHighPriority(head))
	rs.sim.Energy().Drain(head, core.RoleHead.CostFactor()*txPower)
	rs.sim.TransmissionSent(kindInterCluster)

	if rs.cfg.InterReportSampling > 0 && fireCount%rs.cfg.InterReportSampling == 0 {
		rs.log.Info(context.Background(), "cluster head sent aggregated data to base station",
			logging.Uint32("head", uint32(head)),
			logging.Float64("tx_power", txPower),
		)
	}
}

func (rs *RoundScheduler) isHighPriority(id model.NodeID) bool {
	node := rs.sim.Nodes().GetNode(id)
	return node != nil && node.HighPriority
}

// cancelAllComms cancels every outstanding send task of the current table
// generation.
func (rs *RoundScheduler) cancelAllComms() {
	rs.mu.Lock()
	handles := rs.commHandles
	rs.commHandles = make(map[model.NodeID][]*sched.RepeatHandle)
	rs.mu.Unlock()

	for _, hs := range handles {
		for _, h := range hs {
			h.Cancel()
		}
	}
}

// cancelCommsFor cancels only the send tasks transmitted by one node,
// used when the failure detector prunes it mid-round.
func (rs *RoundScheduler) cancelCommsFor(id model.NodeID) {
	rs.mu.Lock()
	handles := rs.commHandles[id]
	delete(rs.commHandles, id)
	rs.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}
