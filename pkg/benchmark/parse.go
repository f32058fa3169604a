package benchmark

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/geremyCohen/axion-opensearch/pkg/sweep"
)

// testExecution mirrors the slice of the benchmark tool's result artifact
// the summary is derived from.
type testExecution struct {
	Results struct {
		OpMetrics []opMetrics `json:"op_metrics"`
	} `json:"results"`
}

type opMetrics struct {
	Task       string `json:"task"`
	Throughput struct {
		Min  float64 `json:"min"`
		Mean float64 `json:"mean"`
		Max  float64 `json:"max"`
	} `json:"throughput"`
	Latency   map[string]float64 `json:"latency"`
	ErrorRate float64            `json:"error_rate"`
}

// deriveSummary reads the copied result artifact and condenses the metrics
// of the measured task into the per-run summary. When the named task is not
// present the first reported task is used.
func deriveSummary(artifactPath, task string) (*sweep.Summary, error) {
	content, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading result artifact %q failed", artifactPath)
	}

	var execution testExecution
	if err := json.Unmarshal(content, &execution); err != nil {
		return nil, errors.Wrapf(err, "result artifact %q is not parseable", artifactPath)
	}
	if len(execution.Results.OpMetrics) == 0 {
		return nil, errors.Errorf("result artifact %q carries no operation metrics", artifactPath)
	}

	metrics := execution.Results.OpMetrics[0]
	for _, candidate := range execution.Results.OpMetrics {
		if candidate.Task == task {
			metrics = candidate
			break
		}
	}

	latency := make(map[string]float64, len(metrics.Latency))
	for percentile, value := range metrics.Latency {
		latency[percentile] = value
	}

	return &sweep.Summary{
		Throughput: sweep.ThroughputStats{
			Mean: metrics.Throughput.Mean,
			Min:  metrics.Throughput.Min,
			Max:  metrics.Throughput.Max,
		},
		Latency:   latency,
		ErrorRate: metrics.ErrorRate,
	}, nil
}
