package conn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/smartystreets/goconvey/convey"
)

// countingDriver 统计连接获取次数
type countingDriver struct {
	*SQLDriver
	acquired atomic.Int32
	released atomic.Int32
}

func (d *countingDriver) Acquire(ctx context.Context) (Conn, error) {
	d.acquired.Add(1)
	return d.SQLDriver.Acquire(ctx)
}

func (d *countingDriver) Release(c Conn) error {
	d.released.Add(1)
	return d.SQLDriver.Release(c)
}

func newMockManager(t *testing.T, options *ManagerOptions) (*Manager, sqlmock.Sqlmock, *countingDriver) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	driver := &countingDriver{SQLDriver: NewSQLDriver(db, "mysql")}
	return NewManager(driver, options), mock, driver
}

func expectExec(mock sqlmock.Sqlmock, stmts ...string) {
	for _, stmt := range stmts {
		mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func TestManager_RunWithActive(t *testing.T) {
	Convey("测试 RunWithActive", t, func() {
		m, mock, driver := newMockManager(t, nil)

		Convey("嵌套调用复用同一个连接", func() {
			mock.ExpectQuery("SELECT id FROM t").
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))
			mock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 2))

			err := m.RunWithActive(context.Background(), func(ctx context.Context) error {
				c, ok := Active(ctx)
				So(ok, ShouldBeTrue)

				res, err := m.Execute(ctx, "SELECT id FROM t")
				So(err, ShouldBeNil)
				So(res.Records, ShouldResemble, []map[string]any{{"id": "a"}, {"id": "b"}})
				So(res.Count, ShouldEqual, 2)

				return m.RunWithActive(ctx, func(ctx context.Context) error {
					inner, _ := Active(ctx)
					So(inner, ShouldEqual, c)
					res, err := m.Execute(ctx, "DELETE FROM t")
					So(err, ShouldBeNil)
					So(res.Count, ShouldEqual, 2)
					return nil
				})
			})
			So(err, ShouldBeNil)
			So(driver.acquired.Load(), ShouldEqual, 1)
			So(driver.released.Load(), ShouldEqual, 1)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("出错时也归还连接", func() {
			mock.ExpectExec("DELETE FROM t").WillReturnError(errors.New("boom"))

			_, err := m.Execute(context.Background(), "DELETE FROM t")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "boom")
			So(driver.released.Load(), ShouldEqual, 1)
		})
	})
}

func TestManager_RunWithTransaction(t *testing.T) {
	Convey("测试 RunWithTransaction", t, func() {
		begin := []string{"SET TRANSACTION ISOLATION LEVEL READ COMMITTED", "START TRANSACTION"}
		m, mock, _ := newMockManager(t, &ManagerOptions{Begin: begin, Savepoints: true})
		ctx := context.Background()

		Convey("顶层事务提交", func() {
			expectExec(mock, begin...)
			expectExec(mock, "INSERT INTO t VALUES (1)", "COMMIT")

			err := m.RunWithTransaction(ctx, Required, func(ctx context.Context) error {
				So(Depth(ctx), ShouldEqual, 1)
				_, err := m.Execute(ctx, "INSERT INTO t VALUES (1)")
				return err
			})
			So(err, ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("出错时回滚并返回原始错误", func() {
			expectExec(mock, begin...)
			expectExec(mock, "ROLLBACK")

			want := errors.New("failed")
			err := m.RunWithTransaction(ctx, Required, func(ctx context.Context) error {
				return want
			})
			So(err, ShouldEqual, want)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("回滚失败时仍返回原始错误", func() {
			expectExec(mock, begin...)
			mock.ExpectExec("ROLLBACK").WillReturnError(errors.New("connection lost"))

			want := errors.New("failed")
			err := m.RunWithTransaction(ctx, Required, func(ctx context.Context) error {
				return want
			})
			So(err, ShouldEqual, want)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("panic 时回滚", func() {
			expectExec(mock, begin...)
			expectExec(mock, "ROLLBACK")

			So(func() {
				_ = m.RunWithTransaction(ctx, Required, func(ctx context.Context) error {
					panic("oops")
				})
			}, ShouldPanicWith, "oops")
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("嵌套 Required 直接加入外层事务", func() {
			expectExec(mock, begin...)
			expectExec(mock, "INSERT INTO t VALUES (2)", "COMMIT")

			err := m.RunWithTransaction(ctx, Required, func(ctx context.Context) error {
				return m.RunWithTransaction(ctx, Required, func(ctx context.Context) error {
					So(Depth(ctx), ShouldEqual, 2)
					_, err := m.Execute(ctx, "INSERT INTO t VALUES (2)")
					return err
				})
			})
			So(err, ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("嵌套 Isolated 使用保存点", func() {
			expectExec(mock, begin...)
			expectExec(mock, "SAVEPOINT sp_1", "INSERT INTO t VALUES (3)", "RELEASE SAVEPOINT sp_1")
			expectExec(mock, "SAVEPOINT sp_2", "ROLLBACK TO SAVEPOINT sp_2", "COMMIT")

			err := m.RunWithTransaction(ctx, Required, func(ctx context.Context) error {
				err := m.RunWithTransaction(ctx, Isolated, func(ctx context.Context) error {
					_, err := m.Execute(ctx, "INSERT INTO t VALUES (3)")
					return err
				})
				So(err, ShouldBeNil)

				err = m.RunWithTransaction(ctx, Isolated, func(ctx context.Context) error {
					return errors.New("inner failed")
				})
				So(err, ShouldNotBeNil)
				return nil
			})
			So(err, ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})
	})
}

func TestManager_NoSavepoints(t *testing.T) {
	Convey("不支持保存点时 Isolated 直接加入外层事务", t, func() {
		m, mock, _ := newMockManager(t, &ManagerOptions{Begin: []string{"BEGIN"}})
		expectExec(mock, "BEGIN", "ROLLBACK")

		err := m.RunWithTransaction(context.Background(), Required, func(ctx context.Context) error {
			return m.RunWithTransaction(ctx, Isolated, func(ctx context.Context) error {
				So(Depth(ctx), ShouldEqual, 2)
				return errors.New("inner failed")
			})
		})
		So(err, ShouldNotBeNil)
		So(mock.ExpectationsWereMet(), ShouldBeNil)
	})
}

func TestIsQuery(t *testing.T) {
	Convey("测试 isQuery", t, func() {
		So(isQuery("SELECT 1"), ShouldBeTrue)
		So(isQuery("  select 1"), ShouldBeTrue)
		So(isQuery("(SELECT 1) UNION (SELECT 2)"), ShouldBeTrue)
		So(isQuery("PRAGMA table_info('t')"), ShouldBeTrue)
		So(isQuery("WITH x AS (SELECT 1) SELECT * FROM x"), ShouldBeTrue)
		So(isQuery("INSERT INTO t VALUES (1)"), ShouldBeFalse)
		So(isQuery("CREATE TABLE t (id INT)"), ShouldBeFalse)
		So(isQuery("SEL"), ShouldBeFalse)
	})
}
