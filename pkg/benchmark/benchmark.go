// Package benchmark drives opensearch-benchmark invocations and turns their
// output and result artifacts into run results.
package benchmark

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/geremyCohen/axion-opensearch/pkg/executor"
	"github.com/geremyCohen/axion-opensearch/pkg/sweep"
)

const waitPollInterval = time.Second

// Config carries the invocation settings shared by all runs of a sweep.
type Config struct {
	// BenchmarkBinary is the opensearch-benchmark executable.
	BenchmarkBinary string
	// Workload is the benchmark workload name, e.g. nyc_taxis.
	Workload string
	// IncludeTasks limits the workload to the named tasks.
	IncludeTasks string
	// BulkSize is the bulk indexing batch size passed as a workload param.
	BulkSize int
	// Host is the address all cluster nodes listen on.
	Host string
	// BasePort is the HTTP port of node 0; node i listens on BasePort+i.
	BasePort int
	// TestExecutionsDir is where the benchmark tool writes its result
	// artifacts, one directory per test execution id.
	TestExecutionsDir string
	// RunTimeout bounds a single invocation. Zero means no bound.
	RunTimeout time.Duration
}

// DefaultConfig returns the settings matching a local single-host cluster.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		BenchmarkBinary:   "opensearch-benchmark",
		Workload:          "nyc_taxis",
		IncludeTasks:      "index",
		BulkSize:          4000,
		Host:              "127.0.0.1",
		BasePort:          9200,
		TestExecutionsDir: filepath.Join(home, ".benchmark", "benchmarks", "test_executions"),
	}
}

// Runner invokes the benchmark tool once per run configuration.
type Runner struct {
	exec    executor.Executor
	config  Config
	results *sweep.Results
}

// NewRunner wires a benchmark runner on top of the given executor.
func NewRunner(exec executor.Executor, config Config, results *sweep.Results) *Runner {
	return &Runner{exec: exec, config: config, results: results}
}

// Run launches one benchmark invocation and waits for it to finish. It never
// returns an error: every failure mode ends up encoded in the RunResult so
// the sweep can keep going.
func (r *Runner) Run(ctx context.Context, configuration sweep.RunConfiguration) sweep.RunResult {
	result := sweep.RunResult{
		Configuration: configuration,
		LogPath:       r.results.LogPath(configuration),
	}

	command := r.command(configuration)
	log.Debugf("Launching benchmark: %s", command)

	handle, err := r.exec.Execute(command)
	if err != nil {
		result.ParseWarning = fmt.Sprintf("launching benchmark failed: %v", err)
		return result
	}
	defer handle.EraseOutput()
	defer handle.Clean()

	interrupted := r.await(ctx, handle)

	output, err := r.captureLog(handle, result.LogPath)
	if err != nil {
		log.Warnf("Capturing benchmark log for %s failed: %v", configuration.Name(), err)
	}

	if interrupted {
		result.ParseWarning = "benchmark invocation was interrupted"
		return result
	}

	exitCode, err := handle.ExitCode()
	if err != nil {
		result.ParseWarning = fmt.Sprintf("benchmark exit code unavailable: %v", err)
		return result
	}

	outcome := classifyOutcome(output, exitCode)
	result.Succeeded = outcome == Succeeded
	if outcome == Indeterminate {
		result.ParseWarning = fmt.Sprintf(
			"benchmark output carries no success or failure marker (exit code %d)", exitCode)
	}

	r.collectArtifact(output, &result)
	return result
}

// Name identifies the runner in logs.
func (r *Runner) Name() string {
	return "opensearch-benchmark"
}

func (r *Runner) command(configuration sweep.RunConfiguration) string {
	return fmt.Sprintf(
		"%s execute-test --pipeline=benchmark-only --workload=%s --target-hosts=%s "+
			"--include-tasks=%s --workload-params=bulk_indexing_clients:%d,bulk_size:%d "+
			"--kill-running-processes",
		r.config.BenchmarkBinary,
		r.config.Workload,
		r.targetHosts(configuration.NodeCount),
		r.config.IncludeTasks,
		configuration.ClientLoad,
		r.config.BulkSize,
	)
}

// targetHosts lists one host:port pair per node so the tool spreads its
// connections over the whole cluster.
func (r *Runner) targetHosts(nodeCount int) string {
	hosts := make([]string, nodeCount)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("%s:%d", r.config.Host, r.config.BasePort+i)
	}
	return strings.Join(hosts, ",")
}

// await blocks until the invocation terminates, the context is cancelled or
// the run timeout elapses. It reports whether the invocation was cut short.
func (r *Runner) await(ctx context.Context, handle executor.TaskHandle) bool {
	var deadline time.Time
	if r.config.RunTimeout > 0 {
		deadline = time.Now().Add(r.config.RunTimeout)
	}

	for {
		if handle.Wait(waitPollInterval) {
			return false
		}
		if ctx.Err() != nil {
			log.Warnf("Benchmark invocation cancelled, stopping it")
			r.stop(handle)
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Warnf("Benchmark invocation exceeded %s, stopping it", r.config.RunTimeout)
			r.stop(handle)
			return true
		}
	}
}

func (r *Runner) stop(handle executor.TaskHandle) {
	if err := handle.Stop(); err != nil {
		log.Errorf("Stopping benchmark invocation failed: %v", err)
	}
}

// captureLog writes the combined stdout and stderr of the invocation to the
// per-run log file and returns the stdout content for marker scanning.
func (r *Runner) captureLog(handle executor.TaskHandle, logPath string) (string, error) {
	logFile, err := os.Create(logPath)
	if err != nil {
		return "", errors.Wrapf(err, "creating run log %q failed", logPath)
	}
	defer logFile.Close()

	stdout, err := readTaskOutput(handle.StdoutFile)
	if err != nil {
		return "", err
	}
	stderr, err := readTaskOutput(handle.StderrFile)
	if err != nil {
		return stdout, err
	}

	if _, err := io.WriteString(logFile, stdout); err != nil {
		return stdout, errors.Wrap(err, "writing run log failed")
	}
	if stderr != "" {
		if _, err := fmt.Fprintf(logFile, "\n--- stderr ---\n%s", stderr); err != nil {
			return stdout, errors.Wrap(err, "writing run log failed")
		}
	}

	return stdout + "\n" + stderr, nil
}

func readTaskOutput(open func() (*os.File, error)) (string, error) {
	file, err := open()
	if err != nil {
		return "", err
	}
	content, err := io.ReadAll(file)
	if err != nil {
		return "", errors.Wrap(err, "reading task output failed")
	}
	return string(content), nil
}

// collectArtifact locates the benchmark tool's own result file via the test
// execution id printed in the output, copies it next to the other run
// artifacts and derives the summary. Failures set the parse warning but do
// not flip a successful run to failed.
func (r *Runner) collectArtifact(output string, result *sweep.RunResult) {
	id, ok := parseTestExecutionID(output)
	if !ok {
		if result.ParseWarning == "" {
			result.ParseWarning = "no test execution id found in benchmark output"
		}
		return
	}

	source := filepath.Join(r.config.TestExecutionsDir, id, "test_execution.json")
	destination := r.results.ArtifactPath(result.Configuration)
	if err := copyFile(source, destination); err != nil {
		result.ParseWarning = fmt.Sprintf("collecting result artifact failed: %v", err)
		return
	}
	result.ArtifactPath = destination

	summary, err := deriveSummary(destination, r.config.IncludeTasks)
	if err != nil {
		result.ParseWarning = fmt.Sprintf("deriving run summary failed: %v", err)
		return
	}
	result.Summary = summary

	if err := r.results.WriteSummary(result.Configuration, summary); err != nil {
		log.Warnf("Writing summary for %s failed: %v", result.Configuration.Name(), err)
	}
}

func copyFile(source, destination string) error {
	content, err := os.ReadFile(source)
	if err != nil {
		return errors.Wrapf(err, "reading %q failed", source)
	}
	if err := os.WriteFile(destination, content, 0644); err != nil {
		return errors.Wrapf(err, "writing %q failed", destination)
	}
	return nil
}
