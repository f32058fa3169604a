package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/geremyCohen/axion-opensearch/pkg/cluster"
)

// TierConfigurer applies a node/shard/heap topology to the live cluster.
type TierConfigurer interface {
	Configure(request cluster.TopologyRequest) error
}

// HealthWaiter blocks until the cluster converges or the timeout elapses.
type HealthWaiter interface {
	WaitUntilHealthy(ctx context.Context, timeout, pollInterval time.Duration) (cluster.HealthVerdict, error)
}

// IndexResetter clears workload indices, best effort.
type IndexResetter interface {
	Reset(ctx context.Context, pattern string)
}

// BenchmarkRunner executes one benchmark invocation for a configuration.
// It never returns an error: failures are encoded in the RunResult so the
// sweep keeps moving.
type BenchmarkRunner interface {
	Run(ctx context.Context, configuration RunConfiguration) RunResult
}

// MetricsSampler collects cluster statistics concurrently with one benchmark
// invocation. The returned stop function cancels sampling and blocks until
// the sampler goroutine has exited, so it cannot leak into the next run.
type MetricsSampler interface {
	Sample(ctx context.Context, artifactPath string) (stop func())
}

// MetadataRecorder stores per-run facts in the external metadata database.
type MetadataRecorder interface {
	RecordRun(values map[string]string) error
}

// Config carries the sweep-wide settings of the orchestrator.
type Config struct {
	Plan               Plan
	HeapPercent        int
	Breakers           cluster.BreakerLimits
	IndexPattern       string
	HealthTimeout      time.Duration
	HealthPollInterval time.Duration
}

// Orchestrator is the sweep state machine. A single goroutine drives it;
// one benchmark invocation is in flight at a time, since concurrent runs
// would invalidate the measurement.
type Orchestrator struct {
	config      Config
	configurer  TierConfigurer
	healthGate  HealthWaiter
	resetter    IndexResetter
	runner      BenchmarkRunner
	sampler     MetricsSampler
	results     *Results
	checkpoints *CheckpointStore
	metadata    MetadataRecorder

	completedRuns int
}

// NewOrchestrator wires the orchestrator. sampler and metadata may be nil.
func NewOrchestrator(
	config Config,
	configurer TierConfigurer,
	healthGate HealthWaiter,
	resetter IndexResetter,
	runner BenchmarkRunner,
	sampler MetricsSampler,
	results *Results,
	checkpoints *CheckpointStore,
	metadata MetadataRecorder,
) (*Orchestrator, error) {
	if err := config.Plan.Validate(); err != nil {
		return nil, err
	}

	return &Orchestrator{
		config:      config,
		configurer:  configurer,
		healthGate:  healthGate,
		resetter:    resetter,
		runner:      runner,
		sampler:     sampler,
		results:     results,
		checkpoints: checkpoints,
		metadata:    metadata,
	}, nil
}

// Run executes the sweep from the resume point to the end and returns the
// results of all repetitions attempted in this process. Individual
// repetition failures never abort the sweep; only context cancellation does.
func (o *Orchestrator) Run(ctx context.Context) ([]RunResult, error) {
	plan := o.config.Plan
	total := plan.TotalRuns()
	resumeOrdinal := o.loadResumePoint()

	var attempted []RunResult

	for tierIndex, tier := range plan.Tiers {
		if plan.tierEndOrdinal(tierIndex) <= resumeOrdinal {
			log.Infof("Tier %d/%d already completed, skipping", tier.NodeCount, tier.ShardCount)
			o.completedRuns += len(plan.ClientLoads) * plan.Repetitions
			continue
		}

		if tier.ShardCount > tier.NodeCount {
			// Shards without a hosting node never assign. Excluded before
			// any cluster or benchmark call is made.
			log.Warnf("Skipping invalid tier %d/%d: shard count exceeds node count",
				tier.NodeCount, tier.ShardCount)
			continue
		}

		if ctx.Err() != nil {
			return attempted, errors.Wrap(ctx.Err(), "sweep interrupted")
		}

		if err := o.configureTier(ctx, tier); err != nil {
			// A single unreachable tier must not void hours of valid
			// measurements; its configurations stay pending, the
			// checkpoint does not advance past them.
			log.Errorf("Configuring tier %d/%d failed, skipping: %v",
				tier.NodeCount, tier.ShardCount, err)
			continue
		}

		for clientIndex := range plan.ClientLoads {
			for repetition := 1; repetition <= plan.Repetitions; repetition++ {
				configuration := plan.Configuration(tierIndex, clientIndex, repetition)

				ordinal, err := plan.Ordinal(configuration)
				if err != nil {
					return attempted, err
				}
				if ordinal <= resumeOrdinal {
					o.completedRuns++
					continue
				}

				if ctx.Err() != nil {
					return attempted, errors.Wrap(ctx.Err(), "sweep interrupted")
				}

				result := o.runRepetition(ctx, configuration)
				attempted = append(attempted, result)

				o.completedRuns++
				log.Infof("%d/%d runs completed", o.completedRuns, total)
			}
		}
	}

	if err := o.checkpoints.Clear(); err != nil {
		log.Warnf("Clearing checkpoint after completed sweep failed: %v", err)
	}
	log.Infof("Sweep complete: %d/%d runs", o.completedRuns, total)

	return attempted, nil
}

// loadResumePoint maps the persisted checkpoint onto the plan's ordinal
// space. Any problem with the checkpoint means a fresh start; re-running
// work is acceptable, silently skipping it is not.
func (o *Orchestrator) loadResumePoint() int {
	checkpoint, err := o.checkpoints.Load()
	if err != nil {
		log.Warnf("Loading checkpoint failed, starting from the beginning: %v", err)
		return -1
	}
	if checkpoint == nil {
		return -1
	}

	configuration := checkpoint.Configuration()
	ordinal, err := o.config.Plan.Ordinal(configuration)
	if err != nil {
		log.Warnf("Checkpoint %s does not match this sweep, starting from the beginning: %v",
			configuration, err)
		return -1
	}

	log.Infof("Resuming after %s", configuration)
	return ordinal
}

func (o *Orchestrator) configureTier(ctx context.Context, tier Tier) error {
	// Stale indices from the previous tier would skew shard assignment on
	// the reshaped cluster.
	o.resetter.Reset(ctx, o.config.IndexPattern)

	err := o.configurer.Configure(cluster.TopologyRequest{
		NodeCount:   tier.NodeCount,
		ShardCount:  tier.ShardCount,
		HeapPercent: o.config.HeapPercent,
		Breakers:    o.config.Breakers,
	})
	if err != nil {
		return err
	}

	verdict, err := o.healthGate.WaitUntilHealthy(ctx, o.config.HealthTimeout, o.config.HealthPollInterval)
	if err != nil {
		return err
	}
	if verdict == cluster.TimedOut {
		// Some configurations only settle once indexing load arrives, so
		// a timeout here is a warning, not a tier failure.
		log.Warnf("Cluster did not converge within %s for tier %d/%d, proceeding anyway",
			o.config.HealthTimeout, tier.NodeCount, tier.ShardCount)
	}
	return nil
}

// runRepetition performs one benchmark invocation with the sampler attached
// and advances the checkpoint regardless of the outcome: repeating a
// deterministically failing configuration forever is not useful, the
// RunResult records the failure.
func (o *Orchestrator) runRepetition(ctx context.Context, configuration RunConfiguration) RunResult {
	o.resetter.Reset(ctx, o.config.IndexPattern)

	runCtx, cancel := context.WithCancel(ctx)

	var stopSampler func()
	if o.sampler != nil {
		stopSampler = o.sampler.Sample(runCtx, o.results.MetricsPath(configuration))
	}

	result := o.runner.Run(runCtx, configuration)

	cancel()
	if stopSampler != nil {
		stopSampler()
	}

	if result.Succeeded {
		log.Infof("Run %s succeeded", configuration.Name())
	} else {
		log.Warnf("Run %s failed, continuing sweep", configuration.Name())
	}
	if result.ParseWarning != "" {
		log.Warnf("Run %s: %s", configuration.Name(), result.ParseWarning)
	}

	o.recordMetadata(result)

	if err := o.checkpoints.Save(configuration); err != nil {
		// Resume would re-run this repetition; that is the acceptable
		// direction of the trade-off.
		log.Errorf("Saving checkpoint for %s failed: %v", configuration.Name(), err)
	}

	return result
}

func (o *Orchestrator) recordMetadata(result RunResult) {
	if o.metadata == nil {
		return
	}

	values := map[string]string{
		"run":       result.Configuration.Name(),
		"succeeded": fmt.Sprintf("%v", result.Succeeded),
		"artifact":  result.ArtifactPath,
		"log":       result.LogPath,
	}
	if result.Summary != nil {
		values["throughput_mean"] = fmt.Sprintf("%.2f", result.Summary.Throughput.Mean)
		values["error_rate"] = fmt.Sprintf("%.4f", result.Summary.ErrorRate)
		if p99, ok := result.Summary.Latency["99_0"]; ok {
			values["latency_p99"] = fmt.Sprintf("%.2f", p99)
		}
	}

	if err := o.metadata.RecordRun(values); err != nil {
		log.Warnf("Recording run metadata failed: %v", err)
	}
}
