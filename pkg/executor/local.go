package executor

import (
	"io"
	"os"
	"os/exec"
	"path"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// killTimeout is how long Stop waits after SIGTERM before escalating to
// SIGKILL on the whole process group.
const killTimeout = 10 * time.Second

// Local provisioning is responsible for providing the execution environment
// on the local machine via exec.Command.
// It runs the command as the current user.
type Local struct {
}

// NewLocal returns a Local instance.
func NewLocal() Local {
	return Local{}
}

// Name returns user-friendly name of executor.
func (l Local) Name() string {
	return "Local Executor"
}

// Execute runs the command given as input.
// The returned TaskHandle is able to stop & monitor the provisioned process.
func (l Local) Execute(command string) (TaskHandle, error) {
	log.Debug("Starting '", command, "' locally")

	cmd := exec.Command("sh", "-c", command)

	// It is important to set an additional process group id for the parent
	// process and its children to have the ability to kill all of them.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutFile, stderrFile, err := createExecutorOutputFiles(command, "local")
	if err != nil {
		return nil, errors.Wrapf(err, "createExecutorOutputFiles for command %q failed", command)
	}

	log.Debug("Created temporary files stdout path: ", stdoutFile.Name(),
		", stderr path: ", stderrFile.Name())

	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	err = cmd.Start()
	if err != nil {
		removeExecutorOutputFiles(stdoutFile, stderrFile)
		return nil, errors.Wrapf(err, "command %q start failed", command)
	}

	log.Debug("Started with pid ", cmd.Process.Pid)

	waitEndChannel := make(chan struct{})
	taskHandle := localTaskHandle{
		cmdHandler:     cmd,
		command:        command,
		stdoutFile:     stdoutFile,
		stderrFile:     stderrFile,
		waitEndChannel: waitEndChannel,
	}

	// Wait for the command in a goroutine and announce termination by
	// closing waitEndChannel.
	go func() {
		defer close(waitEndChannel)

		// Wait returns an error for non-zero exit codes. The exit code is
		// read from ProcessState below, in both cases.
		cmd.Wait()

		log.Debug("Ended '", command, "' with exit code ", getExitCode(cmd),
			"; stdout in ", stdoutFile.Name(), ", stderr in ", stderrFile.Name())

		stdoutFile.Sync()
		stderrFile.Sync()
	}()

	return &taskHandle, nil
}

func getExitCode(cmd *exec.Cmd) int {
	waitStatus := cmd.ProcessState.Sys().(syscall.WaitStatus)
	if waitStatus.Exited() {
		return waitStatus.ExitStatus()
	}
	// Process was terminated by a signal.
	return -int(waitStatus.Signal())
}

func removeExecutorOutputFiles(stdoutFile, stderrFile *os.File) {
	stdoutFile.Close()
	stderrFile.Close()
	os.Remove(stdoutFile.Name())
	os.Remove(stderrFile.Name())
}

// localTaskHandle implements the TaskHandle interface.
type localTaskHandle struct {
	cmdHandler *exec.Cmd
	command    string

	stdoutFile *os.File
	stderrFile *os.File

	// waitEndChannel is closed when the task terminates.
	waitEndChannel chan struct{}
}

// isTerminated checks if the command has terminated.
func (taskHandle *localTaskHandle) isTerminated() bool {
	select {
	case <-taskHandle.waitEndChannel:
		return true
	default:
		return false
	}
}

func (taskHandle *localTaskHandle) getPid() int {
	return taskHandle.cmdHandler.Process.Pid
}

// Stop terminates the local task. It signals the entire process group, first
// with SIGTERM, after killTimeout with SIGKILL.
func (taskHandle *localTaskHandle) Stop() error {
	if taskHandle.isTerminated() {
		return nil
	}

	// The kill syscall interprets a negated PID N as the process group N.
	log.Debug("Sending SIGTERM to process group ", -taskHandle.getPid())
	err := syscall.Kill(-taskHandle.getPid(), syscall.SIGTERM)
	if err != nil {
		return errors.Wrapf(err, "SIGTERM for task %q failed", taskHandle.command)
	}

	if taskHandle.Wait(killTimeout) {
		return nil
	}

	log.Debug("Sending SIGKILL to process group ", -taskHandle.getPid())
	err = syscall.Kill(-taskHandle.getPid(), syscall.SIGKILL)
	if err != nil {
		return errors.Wrapf(err, "SIGKILL for task %q failed", taskHandle.command)
	}

	taskHandle.Wait(0)
	return nil
}

// Status returns the state of the task.
func (taskHandle *localTaskHandle) Status() TaskState {
	if !taskHandle.isTerminated() {
		return RUNNING
	}

	return TERMINATED
}

// ExitCode returns the exit code. If the task is not terminated it returns an error.
func (taskHandle *localTaskHandle) ExitCode() (int, error) {
	if !taskHandle.isTerminated() {
		return 0, errors.New("task is not terminated")
	}

	return getExitCode(taskHandle.cmdHandler), nil
}

// StdoutFile returns a file handle to the task's stdout file.
func (taskHandle *localTaskHandle) StdoutFile() (*os.File, error) {
	if _, err := os.Stat(taskHandle.stdoutFile.Name()); err != nil {
		return nil, errors.Wrap(err, "stdout file is missing")
	}

	taskHandle.stdoutFile.Seek(0, io.SeekStart)
	return taskHandle.stdoutFile, nil
}

// StderrFile returns a file handle to the task's stderr file.
func (taskHandle *localTaskHandle) StderrFile() (*os.File, error) {
	if _, err := os.Stat(taskHandle.stderrFile.Name()); err != nil {
		return nil, errors.Wrap(err, "stderr file is missing")
	}

	taskHandle.stderrFile.Seek(0, io.SeekStart)
	return taskHandle.stderrFile, nil
}

// Wait blocks until the task terminates or the timeout elapses.
// A zero timeout means wait indefinitely.
// It returns true if the task is terminated.
func (taskHandle *localTaskHandle) Wait(timeout time.Duration) bool {
	if taskHandle.isTerminated() {
		return true
	}

	var timeoutChannel <-chan time.Time
	if timeout != 0 {
		// In case of wait with timeout set the timeout channel.
		timeoutChannel = time.After(timeout)
	}

	select {
	case <-taskHandle.waitEndChannel:
		// If waitEndChannel is closed then task is terminated.
		return true
	case <-timeoutChannel:
		// If timeout time exceeded return then task did not terminate yet.
		return false
	}
}

// Clean closes the task's stdout & stderr files.
func (taskHandle *localTaskHandle) Clean() error {
	err := taskHandle.stdoutFile.Close()
	if err != nil {
		return errors.Wrap(err, "close of stdout file failed")
	}
	err = taskHandle.stderrFile.Close()
	if err != nil {
		return errors.Wrap(err, "close of stderr file failed")
	}
	return nil
}

// EraseOutput removes the temporary directory with task's stdout & stderr files.
func (taskHandle *localTaskHandle) EraseOutput() error {
	// Stdout and stderr live in a shared per-task directory.
	outputDir := path.Dir(taskHandle.stdoutFile.Name())
	if err := os.RemoveAll(outputDir); err != nil {
		return errors.Wrapf(err, "removing output directory %q failed", outputDir)
	}
	return nil
}

// Address returns the address where the task was executed.
func (taskHandle *localTaskHandle) Address() string {
	return "127.0.0.1"
}
