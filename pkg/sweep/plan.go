package sweep

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Tier is one node-count/shard-count pairing. Cluster reconfiguration
// happens at tier granularity, never per repetition.
type Tier struct {
	NodeCount  int
	ShardCount int
}

// Plan spans the sweep: every tier crossed with every client load, each
// combination repeated Repetitions times. The enumeration order is fixed:
// tier outer, client load middle, repetition inner. Ordinal uses the exact
// same order, which is what makes checkpoint-based resume correct.
type Plan struct {
	ClientLoads []int
	Tiers       []Tier
	Repetitions int
}

// Validate checks that the plan describes at least one run.
func (p Plan) Validate() error {
	if len(p.ClientLoads) == 0 {
		return errors.New("plan has no client loads")
	}
	if len(p.Tiers) == 0 {
		return errors.New("plan has no node/shard tiers")
	}
	if p.Repetitions < 1 {
		return errors.Errorf("plan needs at least one repetition, got %d", p.Repetitions)
	}
	return nil
}

// TotalRuns returns the size of the full Cartesian product, including
// invalid combinations. Progress reporting and ordinals both span the full
// product so that skipped configurations keep the numbering stable.
func (p Plan) TotalRuns() int {
	return len(p.Tiers) * len(p.ClientLoads) * p.Repetitions
}

// Configuration materializes the run configuration at the given indices.
// Repetitions are 1-based, matching the artifact naming.
func (p Plan) Configuration(tierIndex, clientIndex, repetition int) RunConfiguration {
	return RunConfiguration{
		ClientLoad: p.ClientLoads[clientIndex],
		NodeCount:  p.Tiers[tierIndex].NodeCount,
		ShardCount: p.Tiers[tierIndex].ShardCount,
		Repetition: repetition,
	}
}

// Ordinal assigns each configuration its position in the fixed enumeration
// order. It is the single comparator used for resume decisions: a
// configuration is pending exactly when its ordinal is greater than the
// checkpointed one. An error means the configuration does not belong to
// this plan (e.g. a checkpoint left behind by a different sweep).
func (p Plan) Ordinal(c RunConfiguration) (int, error) {
	tierIndex := -1
	for i, tier := range p.Tiers {
		if tier.NodeCount == c.NodeCount && tier.ShardCount == c.ShardCount {
			tierIndex = i
			break
		}
	}
	if tierIndex < 0 {
		return 0, errors.Errorf("tier %d/%d is not part of this sweep", c.NodeCount, c.ShardCount)
	}

	clientIndex := -1
	for i, clients := range p.ClientLoads {
		if clients == c.ClientLoad {
			clientIndex = i
			break
		}
	}
	if clientIndex < 0 {
		return 0, errors.Errorf("client load %d is not part of this sweep", c.ClientLoad)
	}

	if c.Repetition < 1 || c.Repetition > p.Repetitions {
		return 0, errors.Errorf("repetition %d out of range [1, %d]", c.Repetition, p.Repetitions)
	}

	return (tierIndex*len(p.ClientLoads)+clientIndex)*p.Repetitions + (c.Repetition - 1), nil
}

// tierEndOrdinal returns the ordinal of the last configuration of the tier.
func (p Plan) tierEndOrdinal(tierIndex int) int {
	return (tierIndex+1)*len(p.ClientLoads)*p.Repetitions - 1
}

// ParseTiers parses tier definitions of the form "nodes:shards" or a bare
// "nodes", which means one shard per node.
func ParseTiers(definitions []string) ([]Tier, error) {
	tiers := make([]Tier, 0, len(definitions))
	for _, definition := range definitions {
		fields := strings.SplitN(strings.TrimSpace(definition), ":", 2)

		nodes, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid tier definition %q", definition)
		}

		shards := nodes
		if len(fields) == 2 {
			shards, err = strconv.Atoi(fields[1])
			if err != nil {
				return nil, errors.Wrapf(err, "invalid tier definition %q", definition)
			}
		}

		tiers = append(tiers, Tier{NodeCount: nodes, ShardCount: shards})
	}
	return tiers, nil
}
