package cluster

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// HealthVerdict is the outcome of waiting for cluster convergence.
type HealthVerdict int

const (
	// Healthy means the cluster reached green or yellow with zero unassigned shards.
	Healthy HealthVerdict = iota
	// TimedOut means the cluster did not converge within the deadline. The
	// caller logs it and proceeds; some configurations recover once
	// benchmark load is applied.
	TimedOut
)

func (v HealthVerdict) String() string {
	if v == Healthy {
		return "healthy"
	}
	return "timed out"
}

// healthAPI is the part of the cluster client the health gate depends on.
type healthAPI interface {
	Health(ctx context.Context) (Health, error)
}

// indexResetter triggers a best-effort workload index cleanup.
type indexResetter interface {
	Reset(ctx context.Context, pattern string)
}

// quorumRecoverer performs the heavyweight recovery from a failed
// cluster-manager election.
type quorumRecoverer interface {
	Recover(ctx context.Context) error
}

// HealthGate polls cluster health until it converges or a deadline passes.
// Red status with unassigned shards triggers an index reset; a failed
// cluster-manager election triggers quorum recovery.
type HealthGate struct {
	client       healthAPI
	resetter     indexResetter
	recovery     quorumRecoverer
	indexPattern string
}

// NewHealthGate returns a HealthGate. recovery may be nil, which disables
// quorum recovery (useful when the installer cannot manage single nodes).
func NewHealthGate(client healthAPI, resetter indexResetter, recovery quorumRecoverer, indexPattern string) *HealthGate {
	return &HealthGate{
		client:       client,
		resetter:     resetter,
		recovery:     recovery,
		indexPattern: indexPattern,
	}
}

// WaitUntilHealthy polls cluster health every pollInterval until the cluster
// is accepted as healthy or timeout elapses. It returns an error only when
// ctx is cancelled; TimedOut is a normal outcome.
func (g *HealthGate) WaitUntilHealthy(ctx context.Context, timeout, pollInterval time.Duration) (HealthVerdict, error) {
	deadline := time.Now().Add(timeout)

	for {
		if ctx.Err() != nil {
			return TimedOut, errors.Wrap(ctx.Err(), "health wait cancelled")
		}
		if time.Now().After(deadline) {
			return TimedOut, nil
		}

		health, err := g.client.Health(ctx)
		switch {
		case err != nil && isQuorumFailure(err):
			g.recoverQuorum(ctx)

		case err != nil:
			log.Debugf("Health poll failed: %v", err)

		case !health.DiscoveredClusterManager:
			log.Warn("Cluster manager not discovered")
			g.recoverQuorum(ctx)

		case accepted(health):
			log.Infof("Cluster healthy: status=%s nodes=%d", health.Status, health.NumberOfNodes)
			return Healthy, nil

		case health.Status == "red" && health.UnassignedShards > 0:
			// Deleting workload indices is a safe way to clear
			// unassignable shard state; wait passively and the red status
			// can persist forever.
			log.Warnf("Cluster red with %d unassigned shards, resetting indices", health.UnassignedShards)
			g.resetter.Reset(ctx, g.indexPattern)

		default:
			log.Debugf("Cluster not converged yet: status=%s unassigned=%d",
				health.Status, health.UnassignedShards)
		}

		select {
		case <-ctx.Done():
			return TimedOut, errors.Wrap(ctx.Err(), "health wait cancelled")
		case <-time.After(pollInterval):
		}
	}
}

func (g *HealthGate) recoverQuorum(ctx context.Context) {
	if g.recovery == nil {
		log.Warn("Quorum failure detected but recovery is disabled")
		return
	}
	log.Warn("Quorum failure detected, starting node-by-node recovery")
	if err := g.recovery.Recover(ctx); err != nil {
		log.Warnf("Quorum recovery failed: %v", err)
	}
}

// accepted reports whether the health response is good enough to run a
// benchmark against. Yellow is fine on a single-host cluster as long as
// every shard found a node.
func accepted(health Health) bool {
	if health.UnassignedShards != 0 {
		return false
	}
	return health.Status == "green" || health.Status == "yellow"
}

// isQuorumFailure recognizes the health-endpoint failure signature of a
// cluster without an elected manager.
func isQuorumFailure(err error) bool {
	message := err.Error()
	return strings.Contains(message, "master_not_discovered_exception") ||
		strings.Contains(message, "cluster_manager_not_discovered_exception")
}

// nodeController is the part of the installer controller quorum recovery
// depends on.
type nodeController interface {
	Topology() (Topology, error)
	StopAllNodes() error
	WipeNodeState(node int) error
	StartNode(node int) error
}

// QuorumRecovery restores a cluster that lost its manager election: stop all
// node processes, wipe each node's on-disk cluster state, then restart the
// nodes one at a time.
type QuorumRecovery struct {
	controller nodeController
	// startGracePeriod is the pause between sequential node starts.
	startGracePeriod time.Duration
}

// NewQuorumRecovery returns a QuorumRecovery driving the given controller.
func NewQuorumRecovery(controller nodeController) *QuorumRecovery {
	return &QuorumRecovery{
		controller:       controller,
		startGracePeriod: 10 * time.Second,
	}
}

// Recover performs the full stop/wipe/sequential-restart cycle.
func (r *QuorumRecovery) Recover(ctx context.Context) error {
	topology, err := r.controller.Topology()
	if err != nil {
		return errors.Wrap(err, "reading topology for quorum recovery failed")
	}

	if err := r.controller.StopAllNodes(); err != nil {
		return errors.Wrap(err, "stopping nodes for quorum recovery failed")
	}

	// Wipe every node even when one fails; a node restarted with stale
	// cluster state re-poisons the election.
	var wipeErrs *multierror.Error
	for node := 0; node < topology.NodeCount; node++ {
		if err := r.controller.WipeNodeState(node); err != nil {
			wipeErrs = multierror.Append(wipeErrs,
				errors.Wrapf(err, "wiping state of node %d failed", node))
		}
	}
	if err := wipeErrs.ErrorOrNil(); err != nil {
		return err
	}

	for node := 0; node < topology.NodeCount; node++ {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "quorum recovery cancelled")
		}

		log.Infof("Restarting node %d/%d", node+1, topology.NodeCount)
		if err := r.controller.StartNode(node); err != nil {
			return errors.Wrapf(err, "starting node %d failed", node)
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "quorum recovery cancelled")
		case <-time.After(r.startGracePeriod):
		}
	}

	return nil
}
