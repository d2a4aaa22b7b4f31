package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			err := Init()

			Convey("Then Get returns a usable logger", func() {
				So(err, ShouldBeNil)
				So(Get(), ShouldNotBeNil)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When initialized with an unknown format", func() {
			err := Init(WithFormat("xml"))

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "unknown log format")
			})
		})
	})
}

func TestLoggerJSONOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(Init(WithFormat(FormatJSON), WithWriter(&buf)), ShouldBeNil)
		defer func() { _ = Init() }()

		Convey("When a named logger writes a record", func() {
			Named("auth").Info(context.Background(), "login succeeded",
				String("username", "bob"),
				Bool("hidden", true),
				Duration("took", 25*time.Millisecond),
			)

			var rec map[string]any
			err := json.Unmarshal(buf.Bytes(), &rec)

			Convey("Then the fields and component are present", func() {
				So(err, ShouldBeNil)
				So(rec["msg"], ShouldEqual, "login succeeded")
				So(rec["component"], ShouldEqual, "auth")
				So(rec["username"], ShouldEqual, "bob")
				So(rec["hidden"], ShouldEqual, true)
				So(rec["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When the level is raised to warn", func() {
			So(SetLevelString("warn"), ShouldBeNil)
			defer func() { _ = SetLevelString("info") }()
			Get().Info(context.Background(), "dropped")

			Convey("Then info records are filtered", func() {
				So(buf.Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		So(SetLevelString("debug"), ShouldBeNil)
		So(SetLevelString("WARNING"), ShouldBeNil)
		So(SetLevelString(""), ShouldBeNil)
		So(SetLevelString("loud"), ShouldNotBeNil)
	})
}

func TestNop(t *testing.T) {
	Convey("Given the nop logger", t, func() {
		l := Nop()
		So(func() {
			l.Info(context.Background(), "ignored")
			l.Named("x").Error(context.Background(), "ignored", Error(nil))
		}, ShouldNotPanic)
	})
}
