package conn

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/hatlonely/docrdb/log"
	"github.com/hatlonely/docrdb/log/logger"
)

// Propagation 嵌套事务的传播方式
type Propagation int

const (
	// Required 已在事务中时直接加入外层事务
	Required Propagation = iota
	// Isolated 已在事务中时使用 SAVEPOINT，失败只回滚到保存点
	Isolated
)

type activeKey struct{}

type txKey struct{}

// txState 每个事务作用域一份，不可修改
type txState struct {
	depth int
}

type ManagerOptions struct {
	// Begin 开启顶层事务的语句序列，由方言根据隔离级别生成
	Begin []string
	// Savepoints 引擎不支持保存点时 Isolated 退化为 Required
	Savepoints bool
	Logger     logger.Logger
}

// Manager 把活动连接和事务状态绑定在 context 上
type Manager struct {
	driver     Driver
	begin      []string
	savepoints bool
	logger     logger.Logger

	savepointSeq atomic.Int64
}

func NewManager(driver Driver, options *ManagerOptions) *Manager {
	if options == nil {
		options = &ManagerOptions{}
	}
	m := &Manager{
		driver:     driver,
		begin:      options.Begin,
		savepoints: options.Savepoints,
		logger:     options.Logger,
	}
	if len(m.begin) == 0 {
		m.begin = []string{"BEGIN"}
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	return m
}

func (m *Manager) Driver() Driver {
	return m.driver
}

// Active 返回 context 上绑定的连接
func Active(ctx context.Context) (Conn, bool) {
	c, ok := ctx.Value(activeKey{}).(Conn)
	return c, ok
}

// Depth 当前事务嵌套深度，不在事务中时为 0
func Depth(ctx context.Context) int {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		return state.depth
	}
	return 0
}

// RunWithActive 复用 context 上的连接，没有时从连接池获取，fn 返回后归还
func (m *Manager) RunWithActive(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := Active(ctx); ok {
		return fn(ctx)
	}

	c, err := m.driver.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.driver.Release(c); err != nil {
			m.logger.WarnContext(ctx, "release connection failed", "error", err)
		}
	}()

	return fn(context.WithValue(ctx, activeKey{}, c))
}

// Execute 在活动连接上执行语句
func (m *Manager) Execute(ctx context.Context, sql string) (*Result, error) {
	var res *Result
	err := m.RunWithActive(ctx, func(ctx context.Context) error {
		c, _ := Active(ctx)
		var err error
		res, err = c.Execute(ctx, sql)
		if err != nil {
			return errors.WithMessage(err, sql)
		}
		return nil
	})
	return res, err
}

// RunWithTransaction 在事务中执行 fn，fn 返回错误或 panic 时回滚
func (m *Manager) RunWithTransaction(ctx context.Context, propagation Propagation, fn func(ctx context.Context) error) error {
	return m.RunWithActive(ctx, func(ctx context.Context) error {
		state, ok := ctx.Value(txKey{}).(*txState)
		if !ok {
			return m.runTop(ctx, fn)
		}

		inner := context.WithValue(ctx, txKey{}, &txState{depth: state.depth + 1})
		if propagation == Required || !m.savepoints {
			return fn(inner)
		}
		return m.runSavepoint(inner, fn)
	})
}

func (m *Manager) runTop(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	c, _ := Active(ctx)
	for _, stmt := range m.begin {
		if _, err := c.Execute(ctx, stmt); err != nil {
			return errors.Wrapf(err, "begin transaction: %s", stmt)
		}
	}
	m.logger.DebugContext(ctx, "transaction begin")

	defer func() {
		if r := recover(); r != nil {
			m.rollback(ctx, c, "ROLLBACK")
			panic(r)
		}
	}()

	ctx = context.WithValue(ctx, txKey{}, &txState{depth: 1})
	if err := fn(ctx); err != nil {
		m.rollback(ctx, c, "ROLLBACK")
		return err
	}

	if _, err := c.Execute(ctx, "COMMIT"); err != nil {
		m.rollback(ctx, c, "ROLLBACK")
		return errors.Wrap(err, "commit transaction")
	}
	m.logger.DebugContext(ctx, "transaction commit")
	return nil
}

func (m *Manager) runSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	c, _ := Active(ctx)
	name := "sp_" + strconv.FormatInt(m.savepointSeq.Add(1), 10)
	if _, err := c.Execute(ctx, "SAVEPOINT "+name); err != nil {
		return errors.Wrapf(err, "savepoint %s", name)
	}
	m.logger.DebugContext(ctx, "savepoint begin", "savepoint", name, "depth", Depth(ctx))

	defer func() {
		if r := recover(); r != nil {
			m.rollback(ctx, c, "ROLLBACK TO SAVEPOINT "+name)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		m.rollback(ctx, c, "ROLLBACK TO SAVEPOINT "+name)
		return err
	}

	if _, err := c.Execute(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return errors.Wrapf(err, "release savepoint %s", name)
	}
	return nil
}

// rollback 回滚失败只记录日志，调用方返回原始错误
func (m *Manager) rollback(ctx context.Context, c Conn, stmt string) {
	if _, err := c.Execute(context.WithoutCancel(ctx), stmt); err != nil {
		m.logger.WarnContext(ctx, "rollback failed", "statement", stmt, "error", err)
		return
	}
	m.logger.DebugContext(ctx, "transaction rollback", "statement", stmt)
}
