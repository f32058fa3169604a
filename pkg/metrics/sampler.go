// Package metrics samples live cluster statistics while a benchmark
// invocation is in flight and appends them to a per-run series file.
package metrics

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// statsAPI is the slice of the cluster client the sampler reads from.
type statsAPI interface {
	NodesStats(ctx context.Context, metrics []string) (json.RawMessage, error)
	ClusterStats(ctx context.Context) (json.RawMessage, error)
	IndexStats(ctx context.Context, pattern string) (json.RawMessage, error)
}

// nodeStatsMetrics limits node stats to the groups relevant for indexing
// load analysis.
var nodeStatsMetrics = []string{"jvm", "os", "indices", "thread_pool", "breaker"}

// Sample is one timestamped observation. The statistics bodies are stored
// verbatim so nothing gets lost to a lossy intermediate schema.
type Sample struct {
	Timestamp    time.Time       `json:"timestamp"`
	NodeStats    json.RawMessage `json:"node_stats,omitempty"`
	ClusterStats json.RawMessage `json:"cluster_stats,omitempty"`
	IndexStats   json.RawMessage `json:"index_stats,omitempty"`
}

// Sampler periodically collects cluster statistics for the duration of one
// benchmark run.
type Sampler struct {
	client       statsAPI
	interval     time.Duration
	indexPattern string
}

// NewSampler returns a sampler observing the given index pattern.
func NewSampler(client statsAPI, interval time.Duration, indexPattern string) *Sampler {
	return &Sampler{client: client, interval: interval, indexPattern: indexPattern}
}

// Sample starts collecting into seriesPath, one JSON line per observation,
// until the returned stop function is called or ctx is cancelled. The first
// observation is taken immediately. stop blocks until the collection
// goroutine has exited and the series file is closed, so a caller starting
// the next run cannot race a stale sampler.
func (s *Sampler) Sample(ctx context.Context, seriesPath string) (stop func()) {
	sampleCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := s.collect(sampleCtx, seriesPath); err != nil {
			log.Warnf("Metrics sampling for %q ended early: %v", seriesPath, err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *Sampler) collect(ctx context.Context, seriesPath string) error {
	series, err := os.Create(seriesPath)
	if err != nil {
		return errors.Wrapf(err, "creating metrics series %q failed", seriesPath)
	}
	defer series.Close()

	encoder := json.NewEncoder(series)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.observe(ctx, encoder); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Debugf("Collecting a metrics sample failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// observe takes one sample. Individual endpoint failures leave their field
// empty rather than discarding the whole observation.
func (s *Sampler) observe(ctx context.Context, encoder *json.Encoder) error {
	sample := Sample{Timestamp: time.Now().UTC()}

	var err error
	if sample.NodeStats, err = s.client.NodesStats(ctx, nodeStatsMetrics); err != nil {
		log.Debugf("Sampling node stats failed: %v", err)
	}
	if sample.ClusterStats, err = s.client.ClusterStats(ctx); err != nil {
		log.Debugf("Sampling cluster stats failed: %v", err)
	}
	if sample.IndexStats, err = s.client.IndexStats(ctx, s.indexPattern); err != nil {
		log.Debugf("Sampling index stats failed: %v", err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return encoder.Encode(sample)
}
