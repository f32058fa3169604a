package sweep

import (
	"bytes"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRenderSummary(t *testing.T) {
	Convey("While rendering the end-of-sweep summary", t, func() {
		Convey("No results produce a short notice instead of an empty table", func() {
			var buffer bytes.Buffer
			RenderSummary(&buffer, nil)
			So(buffer.String(), ShouldContainSubstring, "No runs were attempted")
		})

		Convey("Repetitions of one configuration are aggregated", func() {
			results := []RunResult{
				{
					Configuration: RunConfiguration{ClientLoad: 40, NodeCount: 8, ShardCount: 8, Repetition: 1},
					Succeeded:     true,
					Summary: &Summary{
						Throughput: ThroughputStats{Mean: 1000},
						Latency:    map[string]float64{"99_0": 200},
						ErrorRate:  0,
					},
				},
				{
					Configuration: RunConfiguration{ClientLoad: 40, NodeCount: 8, ShardCount: 8, Repetition: 2},
					Succeeded:     true,
					Summary: &Summary{
						Throughput: ThroughputStats{Mean: 3000},
						Latency:    map[string]float64{"99_0": 400},
						ErrorRate:  0,
					},
				},
				{
					Configuration: RunConfiguration{ClientLoad: 60, NodeCount: 8, ShardCount: 8, Repetition: 1},
					Succeeded:     false,
				},
			}

			var buffer bytes.Buffer
			RenderSummary(&buffer, results)
			output := buffer.String()

			So(output, ShouldContainSubstring, "2000")
			So(output, ShouldContainSubstring, "300.0")

			Convey("Configurations without a parseable summary still appear", func() {
				So(output, ShouldContainSubstring, "60")
				So(output, ShouldContainSubstring, "-")
			})
		})
	})
}
