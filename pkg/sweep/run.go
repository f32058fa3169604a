// Package sweep contains the orchestration core: the checkpointed state
// machine that walks the Cartesian product of client loads, node/shard tiers
// and repetitions, reconfiguring the cluster once per tier and invoking the
// benchmark once per repetition.
package sweep

import (
	"fmt"
)

// RunConfiguration is one point of the sweep: a client load applied to a
// node/shard tier for one repetition. It is immutable once enumerated.
type RunConfiguration struct {
	ClientLoad int
	NodeCount  int
	ShardCount int
	Repetition int
}

// Valid reports whether the configuration can be executed at all. A shard
// count exceeding the node count produces permanently unassigned shards, so
// such configurations are skipped, never executed.
func (c RunConfiguration) Valid() bool {
	return c.ShardCount <= c.NodeCount
}

// Name returns the deterministic artifact name of the configuration,
// `<clients>_<nodes>-<shards>_<repetition>`. Every per-run artifact (log,
// summary, metrics series, raw result) derives its filename from it.
func (c RunConfiguration) Name() string {
	return fmt.Sprintf("%d_%d-%d_%d", c.ClientLoad, c.NodeCount, c.ShardCount, c.Repetition)
}

func (c RunConfiguration) String() string {
	return fmt.Sprintf("clients=%d nodes=%d shards=%d repetition=%d",
		c.ClientLoad, c.NodeCount, c.ShardCount, c.Repetition)
}

// ThroughputStats summarize the ingest throughput of one run in docs/s.
type ThroughputStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Summary is the digest derived from the benchmark tool's raw result
// artifact. Latency keys follow the tool's percentile naming ("50_0",
// "90_0", "99_0", "mean").
type Summary struct {
	Throughput ThroughputStats    `json:"throughput"`
	Latency    map[string]float64 `json:"latency"`
	ErrorRate  float64            `json:"error_rate"`
}

// RunResult records the outcome of one benchmark invocation. It is created
// once the invocation returns and never mutated.
type RunResult struct {
	Configuration RunConfiguration
	// Succeeded is decided by the success marker in the tool output, not
	// by the process exit code.
	Succeeded bool
	// ParseWarning is set when the run identifier or result artifact could
	// not be located; the repetition still counts as attempted.
	ParseWarning string
	// Summary is nil when the result artifact was not parseable.
	Summary      *Summary
	ArtifactPath string
	LogPath      string
}
