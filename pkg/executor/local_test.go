package executor

import (
	"io"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// TestLocal tests the execution of a process on the local machine.
func TestLocal(t *testing.T) {
	Convey("While using Local Shell", t, func() {
		l := NewLocal()

		Convey("The executor should have a name", func() {
			So(l.Name(), ShouldEqual, "Local Executor")
		})

		Convey("When a blocking sleep command is executed", func() {
			taskHandle, err := l.Execute("sleep inf")
			So(err, ShouldBeNil)

			defer taskHandle.EraseOutput()
			defer taskHandle.Clean()
			defer taskHandle.Stop()

			Convey("Task should be still running", func() {
				So(taskHandle.Status(), ShouldEqual, RUNNING)

				_, err := taskHandle.ExitCode()
				So(err, ShouldNotBeNil)
			})

			Convey("When we wait for the task with a short timeout, the timeout should exceed", func() {
				isTerminated := taskHandle.Wait(10 * time.Millisecond)
				So(isTerminated, ShouldBeFalse)
				So(taskHandle.Status(), ShouldEqual, RUNNING)
			})

			Convey("When we stop the task, it should terminate with the SIGTERM exit code", func() {
				err := taskHandle.Stop()
				So(err, ShouldBeNil)

				So(taskHandle.Status(), ShouldEqual, TERMINATED)

				exitCode, err := taskHandle.ExitCode()
				So(err, ShouldBeNil)
				// sh propagates the termination signal as 143 or reports
				// -15 when the process group is torn down before the shell
				// traps the signal.
				So(exitCode, ShouldBeIn, []int{143, -15})
			})
		})

		Convey("When a command echoing output is executed", func() {
			taskHandle, err := l.Execute("echo output")
			So(err, ShouldBeNil)

			defer taskHandle.EraseOutput()
			defer taskHandle.Clean()

			Convey("After the task terminates", func() {
				isTerminated := taskHandle.Wait(5 * time.Second)
				So(isTerminated, ShouldBeTrue)

				Convey("The exit code should be zero", func() {
					exitCode, err := taskHandle.ExitCode()
					So(err, ShouldBeNil)
					So(exitCode, ShouldEqual, 0)
				})

				Convey("The output should be captured in the stdout file", func() {
					stdoutFile, err := taskHandle.StdoutFile()
					So(err, ShouldBeNil)

					content, err := io.ReadAll(stdoutFile)
					So(err, ShouldBeNil)
					So(string(content), ShouldEqual, "output\n")
				})
			})
		})

		Convey("When a command returning non-zero code is executed", func() {
			taskHandle, err := l.Execute("exit 3")
			So(err, ShouldBeNil)

			defer taskHandle.EraseOutput()
			defer taskHandle.Clean()

			taskHandle.Wait(5 * time.Second)

			exitCode, err := taskHandle.ExitCode()
			So(err, ShouldBeNil)
			So(exitCode, ShouldEqual, 3)
		})

		Convey("When a non-existing binary is requested, the shell reports 127", func() {
			taskHandle, err := l.Execute("/no/such/binary_anywhere")
			So(err, ShouldBeNil)

			defer taskHandle.EraseOutput()
			defer taskHandle.Clean()

			taskHandle.Wait(5 * time.Second)

			exitCode, err := taskHandle.ExitCode()
			So(err, ShouldBeNil)
			So(exitCode, ShouldEqual, 127)
		})
	})
}
