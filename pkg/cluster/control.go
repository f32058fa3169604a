package cluster

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/geremyCohen/axion-opensearch/pkg/executor"
)

// BreakerLimits hold the circuit breaker settings applied with each topology
// update. Zero values mean "leave the installer default".
type BreakerLimits struct {
	TotalPercent     int
	RequestPercent   int
	FielddataPercent int
}

// TopologyRequest describes the desired cluster shape for one sweep tier.
type TopologyRequest struct {
	NodeCount   int
	ShardCount  int
	HeapPercent int
	Breakers    BreakerLimits
}

// Topology is the currently installed cluster shape as reported by the
// installer.
type Topology struct {
	NodeCount   int
	ShardCount  int
	HeapPercent int
}

// Controller drives the external installer script. Reconfiguration stops and
// restarts cluster processes, so the orchestrator invokes Configure at most
// once per node/shard tier, never per repetition.
type Controller struct {
	exec          executor.Executor
	installerPath string
	timeout       time.Duration
}

// NewController returns a Controller invoking the installer at installerPath
// through the given executor.
func NewController(exec executor.Executor, installerPath string, timeout time.Duration) *Controller {
	return &Controller{
		exec:          exec,
		installerPath: installerPath,
		timeout:       timeout,
	}
}

// Configure updates the live cluster to the requested topology. It blocks
// until the installer finishes. A failure is reported as an error; the
// caller decides whether to abort, retry or skip the tier.
func (c *Controller) Configure(request TopologyRequest) error {
	if err := validateTopologyRequest(request); err != nil {
		return err
	}

	command := fmt.Sprintf("%s update --nodes %d --shards %d --heap %d",
		c.installerPath, request.NodeCount, request.ShardCount, request.HeapPercent)
	if request.Breakers.TotalPercent > 0 {
		command += fmt.Sprintf(" --breaker-total %d", request.Breakers.TotalPercent)
	}
	if request.Breakers.RequestPercent > 0 {
		command += fmt.Sprintf(" --breaker-request %d", request.Breakers.RequestPercent)
	}
	if request.Breakers.FielddataPercent > 0 {
		command += fmt.Sprintf(" --breaker-fielddata %d", request.Breakers.FielddataPercent)
	}

	log.Infof("Reconfiguring cluster: %d nodes, %d shards, %d%% heap",
		request.NodeCount, request.ShardCount, request.HeapPercent)

	// A single retry covers transient installer hiccups (package mirror
	// timeouts, busy pid files). Persistent failures surface to the caller.
	return retry.Do(
		func() error {
			_, err := c.runInstaller(command)
			return err
		},
		retry.Attempts(2),
		retry.Delay(5*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("Installer attempt %d failed: %v; retrying", n+1, err)
		}),
	)
}

func validateTopologyRequest(request TopologyRequest) error {
	if request.NodeCount < 1 {
		return errors.Errorf("invalid node count %d, must be >= 1", request.NodeCount)
	}
	if request.ShardCount < 1 {
		return errors.Errorf("invalid shard count %d, must be >= 1", request.ShardCount)
	}
	if request.HeapPercent <= 0 || request.HeapPercent > 100 {
		return errors.Errorf("invalid heap percent %d, must be in (0, 100]", request.HeapPercent)
	}
	return nil
}

// Topology reads the currently installed cluster shape.
func (c *Controller) Topology() (Topology, error) {
	output, err := c.runInstaller(c.installerPath + " describe")
	if err != nil {
		return Topology{}, err
	}
	return parseTopology(output)
}

// parseTopology parses the installer describe output, `key=value` per line:
// nodes=16, shards=16, heap=50.
func parseTopology(output string) (Topology, error) {
	values := map[string]int{}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), "=", 2)
		if len(fields) != 2 {
			continue
		}
		value, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}
		values[strings.TrimSpace(fields[0])] = value
	}

	topology := Topology{
		NodeCount:   values["nodes"],
		ShardCount:  values["shards"],
		HeapPercent: values["heap"],
	}
	if topology.NodeCount == 0 {
		return Topology{}, errors.Errorf("installer describe output missing node count: %q", output)
	}
	return topology, nil
}

// StopAllNodes stops every cluster node process.
func (c *Controller) StopAllNodes() error {
	_, err := c.runInstaller(c.installerPath + " stop-all")
	return err
}

// WipeNodeState clears the on-disk cluster and index state of one node.
// Used during quorum recovery, where stale cluster state blocks re-election.
func (c *Controller) WipeNodeState(node int) error {
	_, err := c.runInstaller(fmt.Sprintf("%s wipe-state --node %d", c.installerPath, node))
	return err
}

// StartNode starts a single node process. Recovery starts nodes one at a
// time; simultaneous startup risks repeat election failure.
func (c *Controller) StartNode(node int) error {
	_, err := c.runInstaller(fmt.Sprintf("%s start-node --node %d", c.installerPath, node))
	return err
}

// runInstaller executes an installer command synchronously and returns its
// stdout. Non-zero exit or timeout is an error carrying the stderr tail.
func (c *Controller) runInstaller(command string) (string, error) {
	taskHandle, err := c.exec.Execute(command)
	if err != nil {
		return "", errors.Wrapf(err, "launching installer command %q failed", command)
	}
	// The interesting output is returned or embedded in the error, so the
	// capture files are not kept around.
	defer taskHandle.EraseOutput()
	defer taskHandle.Clean()

	if !taskHandle.Wait(c.timeout) {
		taskHandle.Stop()
		return "", errors.Errorf("installer command %q timed out after %s", command, c.timeout)
	}

	exitCode, err := taskHandle.ExitCode()
	if err != nil {
		return "", errors.Wrapf(err, "reading exit code of %q failed", command)
	}

	stdout := readTaskFile(taskHandle.StdoutFile)
	if exitCode != 0 {
		stderr := readTaskFile(taskHandle.StderrFile)
		return "", errors.Errorf("installer command %q exited with code %d: %s",
			command, exitCode, tail(stderr, 512))
	}

	return stdout, nil
}

func readTaskFile(open func() (*os.File, error)) string {
	file, err := open()
	if err != nil {
		return ""
	}
	content, err := io.ReadAll(file)
	if err != nil {
		return ""
	}
	return string(content)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
