package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/geremyCohen/axion-opensearch/pkg/cluster"
)

type fakeConfigurer struct {
	requests []cluster.TopologyRequest
	err      error
}

func (f *fakeConfigurer) Configure(request cluster.TopologyRequest) error {
	f.requests = append(f.requests, request)
	return f.err
}

type fakeHealthGate struct {
	verdict cluster.HealthVerdict
	err     error
	calls   int
}

func (f *fakeHealthGate) WaitUntilHealthy(ctx context.Context, timeout, pollInterval time.Duration) (cluster.HealthVerdict, error) {
	f.calls++
	return f.verdict, f.err
}

type fakeResetter struct {
	calls    int
	patterns []string
}

func (f *fakeResetter) Reset(ctx context.Context, pattern string) {
	f.calls++
	f.patterns = append(f.patterns, pattern)
}

type fakeRunner struct {
	runs    []RunConfiguration
	succeed bool
	// after invokes once the given number of runs have finished; used to
	// interrupt the sweep mid-flight.
	afterRuns int
	after     func()
}

func (f *fakeRunner) Run(ctx context.Context, configuration RunConfiguration) RunResult {
	f.runs = append(f.runs, configuration)
	if f.after != nil && len(f.runs) == f.afterRuns {
		f.after()
	}
	return RunResult{Configuration: configuration, Succeeded: f.succeed}
}

type fakeSampler struct {
	starts  int
	stops   int
	overlap bool
	active  bool
}

func (f *fakeSampler) Sample(ctx context.Context, artifactPath string) func() {
	if f.active {
		f.overlap = true
	}
	f.active = true
	f.starts++
	return func() {
		f.active = false
		f.stops++
	}
}

type fakeRecorder struct {
	records []map[string]string
	err     error
}

func (f *fakeRecorder) RecordRun(values map[string]string) error {
	f.records = append(f.records, values)
	return f.err
}

func newTestOrchestrator(t *testing.T, plan Plan, configurer *fakeConfigurer, gate *fakeHealthGate,
	resetter *fakeResetter, runner *fakeRunner, sampler MetricsSampler,
	recorder MetadataRecorder) (*Orchestrator, *CheckpointStore) {

	results, err := NewResults(t.TempDir())
	So(err, ShouldBeNil)
	checkpoints := NewCheckpointStore(t.TempDir())

	config := Config{
		Plan:               plan,
		HeapPercent:        50,
		IndexPattern:       "nyc_taxis*",
		HealthTimeout:      time.Second,
		HealthPollInterval: time.Millisecond,
	}

	orchestrator, err := NewOrchestrator(
		config, configurer, gate, resetter, runner, sampler, results, checkpoints, recorder)
	So(err, ShouldBeNil)

	return orchestrator, checkpoints
}

func TestOrchestrator(t *testing.T) {
	plan := Plan{
		ClientLoads: []int{40, 60},
		Tiers:       []Tier{{8, 8}, {16, 16}},
		Repetitions: 4,
	}

	Convey("While running a sweep", t, func() {
		configurer := &fakeConfigurer{}
		gate := &fakeHealthGate{verdict: cluster.Healthy}
		resetter := &fakeResetter{}
		runner := &fakeRunner{succeed: true}
		sampler := &fakeSampler{}
		recorder := &fakeRecorder{}

		Convey("A fresh sweep covers the full product, one reconfiguration per tier", func() {
			orchestrator, checkpoints := newTestOrchestrator(
				t, plan, configurer, gate, resetter, runner, sampler, recorder)

			results, err := orchestrator.Run(context.Background())

			So(err, ShouldBeNil)
			So(results, ShouldHaveLength, 16)
			So(runner.runs, ShouldHaveLength, 16)
			So(configurer.requests, ShouldHaveLength, 2)
			So(configurer.requests[0].NodeCount, ShouldEqual, 8)
			So(configurer.requests[1].NodeCount, ShouldEqual, 16)
			So(gate.calls, ShouldEqual, 2)

			Convey("Every repetition gets a fresh index and its own sampler session", func() {
				So(resetter.calls, ShouldEqual, 18)
				So(sampler.starts, ShouldEqual, 16)
				So(sampler.stops, ShouldEqual, 16)
				So(sampler.overlap, ShouldBeFalse)
			})

			Convey("The enumeration order is tier, client load, repetition", func() {
				So(runner.runs[0], ShouldResemble, RunConfiguration{ClientLoad: 40, NodeCount: 8, ShardCount: 8, Repetition: 1})
				So(runner.runs[3], ShouldResemble, RunConfiguration{ClientLoad: 40, NodeCount: 8, ShardCount: 8, Repetition: 4})
				So(runner.runs[4], ShouldResemble, RunConfiguration{ClientLoad: 60, NodeCount: 8, ShardCount: 8, Repetition: 1})
				So(runner.runs[8], ShouldResemble, RunConfiguration{ClientLoad: 40, NodeCount: 16, ShardCount: 16, Repetition: 1})
			})

			Convey("Metadata is recorded per run and the checkpoint is cleared", func() {
				So(recorder.records, ShouldHaveLength, 16)
				checkpoint, err := checkpoints.Load()
				So(err, ShouldBeNil)
				So(checkpoint, ShouldBeNil)
			})
		})

		Convey("A checkpoint resumes the sweep after the recorded repetition", func() {
			orchestrator, checkpoints := newTestOrchestrator(
				t, plan, configurer, gate, resetter, runner, sampler, recorder)
			So(checkpoints.Save(RunConfiguration{ClientLoad: 60, NodeCount: 16, ShardCount: 16, Repetition: 3}), ShouldBeNil)

			results, err := orchestrator.Run(context.Background())

			So(err, ShouldBeNil)
			So(results, ShouldHaveLength, 1)
			So(runner.runs, ShouldResemble, []RunConfiguration{
				{ClientLoad: 60, NodeCount: 16, ShardCount: 16, Repetition: 4},
			})

			Convey("Fully completed tiers are not reconfigured", func() {
				So(configurer.requests, ShouldHaveLength, 1)
				So(configurer.requests[0].NodeCount, ShouldEqual, 16)
			})
		})

		Convey("A checkpoint from a different sweep restarts from the beginning", func() {
			orchestrator, checkpoints := newTestOrchestrator(
				t, plan, configurer, gate, resetter, runner, sampler, recorder)
			So(checkpoints.Save(RunConfiguration{ClientLoad: 100, NodeCount: 32, ShardCount: 32, Repetition: 1}), ShouldBeNil)

			results, err := orchestrator.Run(context.Background())

			So(err, ShouldBeNil)
			So(results, ShouldHaveLength, 16)
		})

		Convey("A failing reconfiguration skips the tier without advancing the checkpoint", func() {
			configurer.err = errors.New("installer exploded")
			orchestrator, checkpoints := newTestOrchestrator(
				t, plan, configurer, gate, resetter, runner, sampler, recorder)

			results, err := orchestrator.Run(context.Background())

			So(err, ShouldBeNil)
			So(results, ShouldBeEmpty)
			So(runner.runs, ShouldBeEmpty)
			So(configurer.requests, ShouldHaveLength, 2)

			checkpoint, err := checkpoints.Load()
			So(err, ShouldBeNil)
			So(checkpoint, ShouldBeNil)
		})

		Convey("Invalid tiers are excluded before any cluster call", func() {
			lopsided := Plan{
				ClientLoads: []int{40},
				Tiers:       []Tier{{8, 16}, {16, 16}},
				Repetitions: 2,
			}
			orchestrator, _ := newTestOrchestrator(
				t, lopsided, configurer, gate, resetter, runner, sampler, recorder)

			results, err := orchestrator.Run(context.Background())

			So(err, ShouldBeNil)
			So(results, ShouldHaveLength, 2)
			So(configurer.requests, ShouldHaveLength, 1)
			So(configurer.requests[0].NodeCount, ShouldEqual, 16)
		})

		Convey("A failed repetition still advances the checkpoint", func() {
			runner.succeed = false
			ctx, cancel := context.WithCancel(context.Background())
			runner.afterRuns = 1
			runner.after = cancel
			orchestrator, checkpoints := newTestOrchestrator(
				t, plan, configurer, gate, resetter, runner, sampler, recorder)

			results, err := orchestrator.Run(ctx)

			So(err, ShouldNotBeNil)
			So(results, ShouldHaveLength, 1)
			So(results[0].Succeeded, ShouldBeFalse)

			checkpoint, err := checkpoints.Load()
			So(err, ShouldBeNil)
			So(checkpoint, ShouldNotBeNil)
			So(checkpoint.Configuration(), ShouldResemble,
				RunConfiguration{ClientLoad: 40, NodeCount: 8, ShardCount: 8, Repetition: 1})
		})

		Convey("A health timeout is tolerated and the tier still runs", func() {
			gate.verdict = cluster.TimedOut
			orchestrator, _ := newTestOrchestrator(
				t, plan, configurer, gate, resetter, runner, sampler, recorder)

			results, err := orchestrator.Run(context.Background())

			So(err, ShouldBeNil)
			So(results, ShouldHaveLength, 16)
		})

		Convey("A sampler-less orchestrator runs the sweep unchanged", func() {
			orchestrator, _ := newTestOrchestrator(
				t, plan, configurer, gate, resetter, runner, nil, nil)

			results, err := orchestrator.Run(context.Background())

			So(err, ShouldBeNil)
			So(results, ShouldHaveLength, 16)
		})
	})
}
