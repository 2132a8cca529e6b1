package conn

import (
	"context"
)

// Result 语句执行结果，查询语句填充 Records，其余语句的 Count 为影响行数
type Result struct {
	Records []map[string]any
	Count   int64
}

// Conn 单个数据库连接，同一个 Conn 上的语句在同一个会话中执行
type Conn interface {
	Execute(ctx context.Context, sql string) (*Result, error)
}

// Driver 连接池
type Driver interface {
	// Name 驱动名称，mysql、postgres 或 sqlite3
	Name() string
	Acquire(ctx context.Context) (Conn, error)
	Release(c Conn) error
	// Init 建立连接后的一次性初始化，例如创建扩展
	Init(ctx context.Context) error
	Close() error
}
