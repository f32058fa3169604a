package sweep

import (
	"fmt"
	"io"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/olekukonko/tablewriter"
)

type aggregateKey struct {
	clients int
	nodes   int
	shards  int
}

type aggregate struct {
	key         aggregateKey
	throughputs []float64
	p99s        []float64
	errorRates  []float64
	attempted   int
	succeeded   int
}

// RenderSummary writes a per-configuration digest table of the results
// attempted in this process. Repetitions of the same configuration are
// aggregated; configurations without a parseable summary still appear with
// their success counts.
func RenderSummary(w io.Writer, results []RunResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No runs were attempted.")
		return
	}

	aggregates := map[aggregateKey]*aggregate{}
	for _, result := range results {
		key := aggregateKey{
			clients: result.Configuration.ClientLoad,
			nodes:   result.Configuration.NodeCount,
			shards:  result.Configuration.ShardCount,
		}
		agg, ok := aggregates[key]
		if !ok {
			agg = &aggregate{key: key}
			aggregates[key] = agg
		}

		agg.attempted++
		if result.Succeeded {
			agg.succeeded++
		}
		if result.Summary != nil {
			agg.throughputs = append(agg.throughputs, result.Summary.Throughput.Mean)
			agg.errorRates = append(agg.errorRates, result.Summary.ErrorRate)
			if p99, ok := result.Summary.Latency["99_0"]; ok {
				agg.p99s = append(agg.p99s, p99)
			}
		}
	}

	ordered := make([]*aggregate, 0, len(aggregates))
	for _, agg := range aggregates {
		ordered = append(ordered, agg)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i].key, ordered[j].key
		if a.nodes != b.nodes {
			return a.nodes < b.nodes
		}
		if a.shards != b.shards {
			return a.shards < b.shards
		}
		return a.clients < b.clients
	})

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{
		"Clients", "Nodes", "Shards", "Runs", "OK",
		"Throughput mean [docs/s]", "Latency p99 [ms]", "Error rate",
	})
	table.SetBorder(false)

	for _, agg := range ordered {
		table.Append([]string{
			fmt.Sprintf("%d", agg.key.clients),
			fmt.Sprintf("%d", agg.key.nodes),
			fmt.Sprintf("%d", agg.key.shards),
			fmt.Sprintf("%d", agg.attempted),
			fmt.Sprintf("%d", agg.succeeded),
			meanCell(agg.throughputs, "%.0f"),
			meanCell(agg.p99s, "%.1f"),
			meanCell(agg.errorRates, "%.4f"),
		})
	}

	table.Render()
}

func meanCell(samples []float64, format string) string {
	mean, err := stats.Mean(samples)
	if err != nil {
		return "-"
	}
	return fmt.Sprintf(format, mean)
}
