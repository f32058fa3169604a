package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type staticStatsAPI struct{}

func (staticStatsAPI) NodesStats(ctx context.Context, metrics []string) (json.RawMessage, error) {
	return json.RawMessage(`{"nodes":{}}`), nil
}

func (staticStatsAPI) ClusterStats(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"status":"green"}`), nil
}

func (staticStatsAPI) IndexStats(ctx context.Context, pattern string) (json.RawMessage, error) {
	return json.RawMessage(`{"indices":{}}`), nil
}

func countSamples(t *testing.T, path string) int {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var sample Sample
		if err := json.Unmarshal(scanner.Bytes(), &sample); err != nil {
			t.Fatalf("line %d is not a valid sample: %v", count+1, err)
		}
		count++
	}
	return count
}

func TestSampler(t *testing.T) {
	Convey("While sampling cluster statistics", t, func() {
		seriesPath := filepath.Join(t.TempDir(), "40_2-2_1_metrics.jsonl")
		sampler := NewSampler(staticStatsAPI{}, 10*time.Millisecond, "nyc_taxis*")

		Convey("Samples are collected periodically, starting immediately", func() {
			stop := sampler.Sample(context.Background(), seriesPath)
			time.Sleep(55 * time.Millisecond)
			stop()

			count := countSamples(t, seriesPath)
			So(count, ShouldBeGreaterThanOrEqualTo, 1)
			So(count, ShouldBeLessThanOrEqualTo, 7)
		})

		Convey("No samples are written after stop returns", func() {
			stop := sampler.Sample(context.Background(), seriesPath)
			time.Sleep(25 * time.Millisecond)
			stop()

			before := countSamples(t, seriesPath)
			time.Sleep(30 * time.Millisecond)
			So(countSamples(t, seriesPath), ShouldEqual, before)
		})

		Convey("Cancelling the parent context also ends the collection", func() {
			ctx, cancel := context.WithCancel(context.Background())
			stop := sampler.Sample(ctx, seriesPath)
			cancel()
			stop()

			_, err := os.Stat(seriesPath)
			So(err, ShouldBeNil)
		})
	})
}
