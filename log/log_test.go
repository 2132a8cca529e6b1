package log

import (
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/docrdb/log/logger"
	"github.com/hatlonely/docrdb/log/writer"
)

func TestDefault(t *testing.T) {
	Convey("测试默认日志器", t, func() {
		old := Default()
		So(old, ShouldNotBeNil)

		l, err := logger.NewSLogWithOptions(&logger.SLogOptions{Level: "debug"})
		So(err, ShouldBeNil)
		SetDefault(l)
		So(Default(), ShouldEqual, l)

		SetDefault(nil)
		So(Default(), ShouldEqual, l)

		SetDefault(old)
	})
}

func TestLogManager(t *testing.T) {
	Convey("测试 LogManager", t, func() {
		dir := t.TempDir()
		manager, err := NewLogManagerWithOptions(Options{
			"default": {Level: "info"},
			"sql": {
				Level:  "debug",
				Format: "json",
				Output: writer.Options{Type: "file", File: writer.FileWriterOptions{Path: filepath.Join(dir, "sql.log")}},
			},
			"skipped": nil,
		})
		So(err, ShouldBeNil)
		defer manager.Close()

		So(manager.ListLoggers(), ShouldResemble, []string{"default", "sql"})
		So(manager.GetLogger("sql"), ShouldNotEqual, manager.GetDefault())
		So(manager.GetLogger("table"), ShouldEqual, manager.GetDefault())

		_, ok := manager.GetLoggerExists("table")
		So(ok, ShouldBeFalse)

		So(manager.SetDefaultByName("sql"), ShouldBeNil)
		So(manager.GetDefault(), ShouldEqual, manager.GetLogger("sql"))
		So(manager.SetDefaultByName("missing"), ShouldNotBeNil)

		Convey("配置错误时返回错误", func() {
			_, err := NewLogManagerWithOptions(Options{"bad": {Level: "verbose"}})
			So(err, ShouldNotBeNil)
		})

		Convey("没有 default 时使用进程默认日志器", func() {
			m, err := NewLogManagerWithOptions(nil)
			So(err, ShouldBeNil)
			So(m.GetDefault(), ShouldEqual, Default())
		})
	})
}
