package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/mock"

	"github.com/geremyCohen/axion-opensearch/pkg/executor"
	"github.com/geremyCohen/axion-opensearch/pkg/executor/mocks"
	"github.com/geremyCohen/axion-opensearch/pkg/sweep"
)

const stubExecutionID = "f8a8e9c2-1b2d-4e5f-8a9b-0c1d2e3f4a5b"

// writeBenchmarkStub creates a shell script standing in for
// opensearch-benchmark. It records its arguments and replays the given
// output.
func writeBenchmarkStub(t *testing.T, dir, body string) (stubPath, argsPath string) {
	t.Helper()

	argsPath = filepath.Join(dir, "benchmark.args")
	stubPath = filepath.Join(dir, "benchmark.sh")

	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" > %q\n%s\n", argsPath, body)
	if err := os.WriteFile(stubPath, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return stubPath, argsPath
}

func writeResultArtifact(t *testing.T, executionsDir string) {
	t.Helper()

	dir := filepath.Join(executionsDir, stubExecutionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	artifact := `{
		"results": {
			"op_metrics": [
				{
					"task": "index",
					"throughput": {"min": 900.0, "mean": 1200.5, "max": 1500.0},
					"latency": {"50_0": 120.0, "90_0": 250.0, "99_0": 410.0, "mean": 140.0},
					"error_rate": 0.01
				}
			]
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, "test_execution.json"), []byte(artifact), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRunner(t *testing.T) {
	configuration := sweep.RunConfiguration{ClientLoad: 40, NodeCount: 2, ShardCount: 2, Repetition: 1}

	Convey("While invoking the benchmark tool", t, func() {
		stubDir := t.TempDir()
		executionsDir := t.TempDir()

		results, err := sweep.NewResults(t.TempDir())
		So(err, ShouldBeNil)

		config := DefaultConfig()
		config.TestExecutionsDir = executionsDir
		config.RunTimeout = 30 * time.Second

		Convey("A successful invocation yields a summary and the raw artifact", func() {
			writeResultArtifact(t, executionsDir)
			stub, argsPath := writeBenchmarkStub(t, stubDir, fmt.Sprintf(
				"echo \"[INFO] [Test Execution ID]: %s\"\necho \"SUCCESS (took 42 seconds)\"", stubExecutionID))
			config.BenchmarkBinary = stub

			runner := NewRunner(executor.NewLocal(), config, results)
			result := runner.Run(context.Background(), configuration)

			So(result.Succeeded, ShouldBeTrue)
			So(result.ParseWarning, ShouldBeEmpty)

			Convey("The invocation targets every node of the tier", func() {
				args, err := os.ReadFile(argsPath)
				So(err, ShouldBeNil)
				So(string(args), ShouldContainSubstring, "execute-test")
				So(string(args), ShouldContainSubstring, "--pipeline=benchmark-only")
				So(string(args), ShouldContainSubstring, "--target-hosts=127.0.0.1:9200,127.0.0.1:9201")
				So(string(args), ShouldContainSubstring, "--workload-params=bulk_indexing_clients:40,bulk_size:4000")
				So(string(args), ShouldContainSubstring, "--kill-running-processes")
			})

			Convey("The raw artifact is copied next to the other run files", func() {
				So(result.ArtifactPath, ShouldEqual, results.ArtifactPath(configuration))
				_, err := os.Stat(result.ArtifactPath)
				So(err, ShouldBeNil)
			})

			Convey("The summary condenses the measured task", func() {
				So(result.Summary, ShouldNotBeNil)
				So(result.Summary.Throughput.Mean, ShouldEqual, 1200.5)
				So(result.Summary.Throughput.Min, ShouldEqual, 900.0)
				So(result.Summary.Latency["99_0"], ShouldEqual, 410.0)
				So(result.Summary.ErrorRate, ShouldEqual, 0.01)

				_, err := os.Stat(results.SummaryPath(configuration))
				So(err, ShouldBeNil)
			})

			Convey("The combined output lands in the run log", func() {
				content, err := os.ReadFile(result.LogPath)
				So(err, ShouldBeNil)
				So(string(content), ShouldContainSubstring, "SUCCESS (took")
			})
		})

		Convey("A failure banner beats a clean exit code", func() {
			stub, _ := writeBenchmarkStub(t, stubDir, fmt.Sprintf(
				"echo \"[INFO] [Test Execution ID]: %s\"\necho \"FAILURE (took 42 seconds)\"\nexit 0", stubExecutionID))
			config.BenchmarkBinary = stub

			runner := NewRunner(executor.NewLocal(), config, results)
			result := runner.Run(context.Background(), configuration)

			So(result.Succeeded, ShouldBeFalse)
		})

		Convey("Output without markers is flagged for a human", func() {
			stub, _ := writeBenchmarkStub(t, stubDir, "echo \"nothing to see here\"")
			config.BenchmarkBinary = stub

			runner := NewRunner(executor.NewLocal(), config, results)
			result := runner.Run(context.Background(), configuration)

			So(result.Succeeded, ShouldBeFalse)
			So(result.ParseWarning, ShouldContainSubstring, "no success or failure marker")
		})

		Convey("A missing result artifact is a parse warning, not a failed run", func() {
			stub, _ := writeBenchmarkStub(t, stubDir, fmt.Sprintf(
				"echo \"[INFO] [Test Execution ID]: %s\"\necho \"SUCCESS (took 42 seconds)\"", stubExecutionID))
			config.BenchmarkBinary = stub

			runner := NewRunner(executor.NewLocal(), config, results)
			result := runner.Run(context.Background(), configuration)

			So(result.Succeeded, ShouldBeTrue)
			So(result.ParseWarning, ShouldContainSubstring, "collecting result artifact failed")
			So(result.Summary, ShouldBeNil)
		})

		Convey("A launch failure is reported without panicking", func() {
			mockExecutor := new(mocks.Executor)
			mockExecutor.On("Execute", mock.AnythingOfType("string")).
				Return(nil, errors.New("binary not found"))

			runner := NewRunner(mockExecutor, config, results)
			result := runner.Run(context.Background(), configuration)

			So(result.Succeeded, ShouldBeFalse)
			So(result.ParseWarning, ShouldContainSubstring, "launching benchmark failed")
			mockExecutor.AssertExpectations(t)
		})

		Convey("A run exceeding the timeout is stopped", func() {
			stdout, err := os.Create(filepath.Join(stubDir, "stdout"))
			So(err, ShouldBeNil)
			stderr, err := os.Create(filepath.Join(stubDir, "stderr"))
			So(err, ShouldBeNil)

			handle := new(mocks.TaskHandle)
			handle.On("Wait", mock.Anything).Return(false)
			handle.On("Stop").Return(nil)
			handle.On("StdoutFile").Return(stdout, nil)
			handle.On("StderrFile").Return(stderr, nil)
			handle.On("Clean").Return(nil)
			handle.On("EraseOutput").Return(nil)

			mockExecutor := new(mocks.Executor)
			mockExecutor.On("Execute", mock.AnythingOfType("string")).Return(handle, nil)

			config.RunTimeout = 10 * time.Millisecond
			runner := NewRunner(mockExecutor, config, results)
			result := runner.Run(context.Background(), configuration)

			So(result.Succeeded, ShouldBeFalse)
			So(result.ParseWarning, ShouldContainSubstring, "interrupted")
			handle.AssertCalled(t, "Stop")
		})

		Convey("A cancelled context stops the invocation", func() {
			stub, _ := writeBenchmarkStub(t, stubDir, "sleep 60")
			config.BenchmarkBinary = stub

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			runner := NewRunner(executor.NewLocal(), config, results)
			result := runner.Run(ctx, configuration)

			So(result.Succeeded, ShouldBeFalse)
			So(result.ParseWarning, ShouldContainSubstring, "interrupted")
		})
	})
}
