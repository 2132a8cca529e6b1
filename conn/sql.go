package conn

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
)

type SQLOptions struct {
	Driver          string        `cfg:"driver" def:"mysql" validate:"oneof=mysql postgres sqlite3"`
	DSN             string        `cfg:"dsn"`
	Host            string        `cfg:"host" def:"localhost"`
	Port            string        `cfg:"port" def:"3306"`
	Database        string        `cfg:"database"`
	Username        string        `cfg:"username"`
	Password        string        `cfg:"password"`
	Charset         string        `cfg:"charset" def:"utf8mb4"`
	MaxConns        int           `cfg:"maxConns" def:"10"`
	MaxIdle         int           `cfg:"maxIdle" def:"5"`
	ConnMaxLifetime time.Duration `cfg:"connMaxLifetime"`
	// Isolation 顶层事务的隔离级别，例如 READ COMMITTED，为空时使用数据库默认值
	Isolation string `cfg:"isolation"`
}

// SQLDriver 基于 database/sql 连接池的驱动
type SQLDriver struct {
	db   *sql.DB
	name string
}

func NewSQLDriverWithOptions(options *SQLOptions) (*SQLDriver, error) {
	driverName, dsn, err := dataSource(options)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", options.Driver)
	}

	db.SetMaxOpenConns(options.MaxConns)
	db.SetMaxIdleConns(options.MaxIdle)
	if options.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(options.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s", options.Driver)
	}

	return NewSQLDriver(db, options.Driver), nil
}

// NewSQLDriver 使用已打开的连接池，name 决定 Init 的行为
func NewSQLDriver(db *sql.DB, name string) *SQLDriver {
	return &SQLDriver{db: db, name: name}
}

func dataSource(options *SQLOptions) (string, string, error) {
	switch options.Driver {
	case "mysql":
		dsn := options.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=UTC",
				options.Username, options.Password, options.Host, options.Port, options.Database, options.Charset)
		}
		return "mysql", dsn, nil
	case "postgres":
		dsn := options.DSN
		if dsn == "" {
			u := url.URL{
				Scheme:   "postgres",
				User:     url.UserPassword(options.Username, options.Password),
				Host:     options.Host + ":" + options.Port,
				Path:     "/" + options.Database,
				RawQuery: "sslmode=disable",
			}
			dsn = u.String()
		}
		return "pgx", dsn, nil
	case "sqlite3":
		dsn := options.DSN
		if dsn == "" {
			dsn = "file:" + options.Database + "?_foreign_keys=1"
		}
		return SQLiteDriverName, dsn, nil
	}
	return "", "", errors.Errorf("unsupported driver: %s", options.Driver)
}

func (d *SQLDriver) Name() string {
	return d.name
}

func (d *SQLDriver) DB() *sql.DB {
	return d.db
}

func (d *SQLDriver) Acquire(ctx context.Context) (Conn, error) {
	c, err := d.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire connection")
	}
	return &SQLConn{conn: c}, nil
}

func (d *SQLDriver) Release(c Conn) error {
	sc, ok := c.(*SQLConn)
	if !ok {
		return errors.Errorf("connection %T is not acquired from SQLDriver", c)
	}
	return sc.conn.Close()
}

// Init 路径哈希在 postgres 上依赖 pgcrypto 的 digest
// sqlite 的级联删除依赖外键约束，外键由 SQLiteDriverName 的连接钩子或 DSN 中的 _foreign_keys=1 打开，未打开时返回错误
func (d *SQLDriver) Init(ctx context.Context) error {
	switch d.name {
	case "postgres":
		if _, err := d.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS pgcrypto"); err != nil {
			return errors.Wrap(err, "create extension pgcrypto")
		}
	case "sqlite3":
		var enabled bool
		if err := d.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
			return errors.Wrap(err, "read foreign_keys")
		}
		if !enabled {
			return errors.Errorf("sqlite foreign keys are disabled, open the database with driver %s or _foreign_keys=1", SQLiteDriverName)
		}
	}
	return nil
}

func (d *SQLDriver) Close() error {
	return d.db.Close()
}

// SQLConn database/sql 的单个连接
type SQLConn struct {
	conn *sql.Conn
}

func (c *SQLConn) Execute(ctx context.Context, sql string) (*Result, error) {
	if !isQuery(sql) {
		res, err := c.conn.ExecContext(ctx, sql)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			// 部分驱动对 DDL 不返回影响行数
			n = 0
		}
		return &Result{Count: n}, nil
	}

	rows, err := c.conn.QueryContext(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return &Result{Records: records, Count: int64(len(records))}, nil
}

var queryKeywords = []string{"SELECT", "WITH", "PRAGMA", "SHOW", "EXPLAIN", "DESCRIBE", "VALUES"}

func isQuery(sql string) bool {
	s := strings.TrimLeft(sql, " \t\r\n(")
	for _, kw := range queryKeywords {
		if len(s) >= len(kw) && strings.EqualFold(s[:len(kw)], kw) {
			return true
		}
	}
	return false
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = values[i]
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
