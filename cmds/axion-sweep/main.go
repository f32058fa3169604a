package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/geremyCohen/axion-opensearch/pkg/benchmark"
	"github.com/geremyCohen/axion-opensearch/pkg/cluster"
	"github.com/geremyCohen/axion-opensearch/pkg/conf"
	"github.com/geremyCohen/axion-opensearch/pkg/executor"
	"github.com/geremyCohen/axion-opensearch/pkg/metadata"
	"github.com/geremyCohen/axion-opensearch/pkg/metrics"
	"github.com/geremyCohen/axion-opensearch/pkg/sweep"
	"github.com/geremyCohen/axion-opensearch/pkg/utils/errutil"
)

var (
	// Sweep plan flags.
	clientsFlag = conf.NewIntListFlag(
		"clients", "Bulk indexing client loads to sweep over (--clients=40,60,80).", 40, 60, 80)
	tiersFlag = conf.NewSliceFlag(
		"tier", "Node/shard tier as nodes:shards, a bare node count means one shard per node. Can be repeated.",
		"1:1")
	repetitionsFlag = conf.NewIntFlag(
		"repetitions", "Number of benchmark repetitions per configuration.", 3)

	// Benchmark invocation flags.
	benchmarkBinFlag = conf.NewStringFlag(
		"benchmark_bin", "Path to the opensearch-benchmark executable.", "opensearch-benchmark")
	workloadFlag = conf.NewStringFlag(
		"workload", "Benchmark workload to execute.", "nyc_taxis")
	includeTasksFlag = conf.NewStringFlag(
		"include_tasks", "Workload tasks to include.", "index")
	bulkSizeFlag = conf.NewIntFlag(
		"bulk_size", "Bulk indexing batch size.", 4000)
	runTimeoutFlag = conf.NewDurationFlag(
		"run_timeout", "Upper bound for a single benchmark invocation. Zero disables the bound.", 0)
	executionsDirFlag = conf.NewStringFlag(
		"test_executions_dir", "Directory the benchmark tool writes its result artifacts to. "+
			"Empty means the tool default under the user home.", "")

	// Cluster flags.
	hostFlag = conf.NewStringFlag(
		"host", "Address the cluster nodes listen on.", "127.0.0.1")
	basePortFlag = conf.NewIntFlag(
		"base_port", "HTTP port of node 0; node i listens on base_port+i.", 9200)
	usernameFlag = conf.NewStringFlag(
		"username", "Cluster username. Empty disables authentication.", "")
	passwordFlag = conf.NewStringFlag(
		"password", "Cluster password.", "")
	installerPathFlag = conf.NewStringFlag(
		"installer_path", "Path to the cluster installer script handling update/describe/stop-all/wipe-state/start-node.",
		"./opensearch_cluster.sh")
	installerTimeoutFlag = conf.NewDurationFlag(
		"installer_timeout", "Upper bound for a single installer invocation.", 10*time.Minute)
	heapFlag = conf.NewIntFlag(
		"heap", "Per node heap size as percent of its memory share.", 50)
	breakerTotalFlag = conf.NewIntFlag(
		"breaker_total", "Parent circuit breaker limit in percent. Zero keeps the cluster default.", 0)
	breakerRequestFlag = conf.NewIntFlag(
		"breaker_request", "Request circuit breaker limit in percent. Zero keeps the cluster default.", 0)
	breakerFielddataFlag = conf.NewIntFlag(
		"breaker_fielddata", "Fielddata circuit breaker limit in percent. Zero keeps the cluster default.", 0)
	healthTimeoutFlag = conf.NewDurationFlag(
		"health_timeout", "How long to wait for the cluster to converge after reconfiguration.", 10*time.Minute)
	healthPollFlag = conf.NewDurationFlag(
		"health_poll", "Cluster health poll interval.", 10*time.Second)
	indexPatternFlag = conf.NewStringFlag(
		"index_pattern", "Workload indices wiped between repetitions.", "nyc_taxis*")

	// Sweep output flags.
	workDirFlag = conf.NewStringFlag(
		"workdir", "Directory holding the checkpoint and the per-session result directories.", "results")
	sampleIntervalFlag = conf.NewDurationFlag(
		"sample_interval", "Cluster statistics sampling interval during a run. Zero disables sampling.", time.Minute)

	// Metadata database flags.
	cassandraAddressFlag = conf.NewStringFlag(
		"cassandra_address", "Cassandra address for sweep metadata. Empty disables metadata recording.", "")
	cassandraUsernameFlag = conf.NewStringFlag(
		"cassandra_username", "Cassandra username.", "")
	cassandraPasswordFlag = conf.NewStringFlag(
		"cassandra_password", "Cassandra password.", "")

	dumpConfigFlag = conf.NewBoolFlag(
		"config_dump", "Dump the whole configuration as environment variables and exit.", false)
)

func buildPlan() sweep.Plan {
	tiers, err := sweep.ParseTiers(tiersFlag.Value())
	errutil.Check(err)

	plan := sweep.Plan{
		ClientLoads: clientsFlag.Value(),
		Tiers:       tiers,
		Repetitions: repetitionsFlag.Value(),
	}
	errutil.Check(plan.Validate())
	return plan
}

func buildBenchmarkConfig() benchmark.Config {
	config := benchmark.DefaultConfig()
	config.BenchmarkBinary = benchmarkBinFlag.Value()
	config.Workload = workloadFlag.Value()
	config.IncludeTasks = includeTasksFlag.Value()
	config.BulkSize = bulkSizeFlag.Value()
	config.Host = hostFlag.Value()
	config.BasePort = basePortFlag.Value()
	config.RunTimeout = runTimeoutFlag.Value()
	if executionsDirFlag.Value() != "" {
		config.TestExecutionsDir = executionsDirFlag.Value()
	}
	return config
}

// prepareSession creates the per-sweep result directory and tees the log
// into its Master.log.
func prepareSession(workDir string) (sessionName string, results *sweep.Results, logFile *os.File) {
	sessionName = time.Now().Format("2006-01-02T15h04m05s_") + uuid.New().String()
	sessionDir := filepath.Join(workDir, sessionName)

	results, err := sweep.NewResults(sessionDir)
	errutil.Check(err)

	logFile, err = os.Create(filepath.Join(sessionDir, "Master.log"))
	errutil.Check(err)
	logrus.SetOutput(io.MultiWriter(os.Stderr, logFile))

	logrus.Infof("Starting sweep session %s", sessionName)
	return sessionName, results, logFile
}

func connectMetadata(sessionName string) sweep.MetadataRecorder {
	if cassandraAddressFlag.Value() == "" {
		return nil
	}

	config := metadata.DefaultConfig()
	config.CassandraAddress = cassandraAddressFlag.Value()
	config.CassandraUsername = cassandraUsernameFlag.Value()
	config.CassandraPassword = cassandraPasswordFlag.Value()

	m := metadata.NewMetadata(sessionName, config)
	errutil.Check(m.Connect())
	errutil.Check(m.RecordFlags())
	errutil.Check(m.RecordEnv("AXION"))
	return m
}

func main() {
	conf.SetAppName("axion-sweep")
	conf.SetHelp(`Benchmark sweep driver for OpenSearch clusters.
It walks the Cartesian product of client loads, node/shard tiers and repetitions,
reconfiguring the cluster once per tier, resetting the workload indices between
repetitions and recording a checkpoint after every run so an interrupted sweep
resumes where it stopped.`)

	errutil.Check(conf.ParseFlags())
	logrus.SetLevel(conf.LogLevel())

	if dumpConfigFlag.Value() {
		fmt.Println(conf.DumpConfig())
		return
	}

	plan := buildPlan()

	workDir, err := filepath.Abs(workDirFlag.Value())
	errutil.Check(err)
	errutil.Check(os.MkdirAll(workDir, 0755))

	sessionName, results, logFile := prepareSession(workDir)
	defer logFile.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	address := fmt.Sprintf("http://%s:%d", hostFlag.Value(), basePortFlag.Value())
	client, err := cluster.NewClient([]string{address}, usernameFlag.Value(), passwordFlag.Value())
	errutil.Check(err)

	pingCtx, pingCancel := context.WithTimeout(ctx, 30*time.Second)
	errutil.CheckWithContext(client.Ping(pingCtx), fmt.Sprintf("cluster at %s is not reachable", address))
	pingCancel()

	local := executor.NewLocal()
	controller := cluster.NewController(local, installerPathFlag.Value(), installerTimeoutFlag.Value())
	indexReset := cluster.NewIndexReset(client)
	healthGate := cluster.NewHealthGate(
		client, indexReset, cluster.NewQuorumRecovery(controller), indexPatternFlag.Value())
	runner := benchmark.NewRunner(local, buildBenchmarkConfig(), results)

	var sampler sweep.MetricsSampler
	if sampleIntervalFlag.Value() > 0 {
		sampler = metrics.NewSampler(client, sampleIntervalFlag.Value(), indexPatternFlag.Value())
	}

	orchestrator, err := sweep.NewOrchestrator(
		sweep.Config{
			Plan:        plan,
			HeapPercent: heapFlag.Value(),
			Breakers: cluster.BreakerLimits{
				TotalPercent:     breakerTotalFlag.Value(),
				RequestPercent:   breakerRequestFlag.Value(),
				FielddataPercent: breakerFielddataFlag.Value(),
			},
			IndexPattern:       indexPatternFlag.Value(),
			HealthTimeout:      healthTimeoutFlag.Value(),
			HealthPollInterval: healthPollFlag.Value(),
		},
		controller,
		healthGate,
		indexReset,
		runner,
		sampler,
		results,
		sweep.NewCheckpointStore(workDir),
		connectMetadata(sessionName),
	)
	errutil.Check(err)

	attempted, err := orchestrator.Run(ctx)
	sweep.RenderSummary(os.Stdout, attempted)
	logrus.Infof("Session artifacts in %s", results.Dir())

	if err != nil {
		logrus.Fatalf("Sweep aborted: %v", err)
	}
}
