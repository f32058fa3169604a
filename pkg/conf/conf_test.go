package conf

import (
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/sirupsen/logrus"
)

const testAppName = "testAppName"

var customFlag = NewStringFlag("custom_arg", "help", "default")

func clearEnv() {
	// Clear all environment variables in context of that test.
	logLevelFlag.clear()
	customFlag.clear()
}

func TestConf(t *testing.T) {
	Convey("While using Conf pkg", t, func() {
		clearEnv()
		defer clearEnv()

		SetAppName(testAppName)
		SetHelp("test help")

		Convey("Name and help should match to specified one", func() {
			So(AppName(), ShouldEqual, testAppName)
			So(app.Help, ShouldEqual, "test help")
		})

		Convey("Log level can be fetched", func() {
			So(LogLevel(), ShouldEqual, logrus.ErrorLevel)
		})

		Convey("Log level can be fetched from env", func() {
			// Default one.
			So(LogLevel(), ShouldEqual, logrus.ErrorLevel)

			os.Setenv(logLevelFlag.envName(), "debug")

			err := ParseEnv()
			So(err, ShouldBeNil)

			// Should be from environment.
			So(LogLevel(), ShouldEqual, logrus.DebugLevel)
		})

		Convey("When some custom argument is defined", func() {
			Convey("Without parse it should be default", func() {
				So(customFlag.Value(), ShouldEqual, "default")
			})

			Convey("When we define custom environment variable we should have custom value after parse", func() {
				customValue := "customContent"
				os.Setenv(customFlag.envName(), customValue)

				err := ParseEnv()
				So(err, ShouldBeNil)
				So(customFlag.Value(), ShouldEqual, customValue)
			})
		})

		Convey("Flags should be included in the dumped configuration", func() {
			err := ParseEnv()
			So(err, ShouldBeNil)

			flags := GetFlags()
			value, ok := flags["custom_arg"]
			So(ok, ShouldBeTrue)
			So(value, ShouldEqual, "default")

			dump := DumpConfig()
			So(dump, ShouldContainSubstring, "AXION_CUSTOM_ARG=default")
			So(dump, ShouldContainSubstring, "set -o allexport")
		})

		Convey("Dumped configuration values can be overridden from a map", func() {
			err := ParseEnv()
			So(err, ShouldBeNil)

			dump := DumpConfigMap(map[string]string{"custom_arg": "overridden"})
			So(dump, ShouldContainSubstring, "AXION_CUSTOM_ARG=overridden")
		})
	})
}
