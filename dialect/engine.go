package dialect

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/hatlonely/docrdb/conn"
	"github.com/hatlonely/docrdb/schema"
)

// Executor 执行 SQL 的最小接口，conn.Manager 实现了该接口
type Executor interface {
	Execute(ctx context.Context, sql string) (*conn.Result, error)
}

// Capabilities 引擎能力
type Capabilities struct {
	Savepoints     bool // 支持 SAVEPOINT 嵌套事务
	Isolation      bool // 支持设置事务隔离级别
	AlterColumn    bool // 支持修改列定义
	IndexIfExists  bool // CREATE/DROP INDEX 支持 IF [NOT] EXISTS
	DistinctOnSort bool // SELECT DISTINCT 的排序列必须出现在选择列中
}

// ColumnInfo 数据库中已存在的列
type ColumnInfo struct {
	Name    string
	Type    string
	NotNull bool
}

// IndexColumn 索引列
type IndexColumn struct {
	Column string
	Desc   bool
}

// IndexInfo 索引结构，名称不参与比较
type IndexInfo struct {
	Name    string
	Unique  bool
	Columns []IndexColumn
}

// Equal 结构相等：列、方向、唯一性
func (i IndexInfo) Equal(o IndexInfo) bool {
	if i.Unique != o.Unique || len(i.Columns) != len(o.Columns) {
		return false
	}
	for k := range i.Columns {
		if !strings.EqualFold(i.Columns[k].Column, o.Columns[k].Column) || i.Columns[k].Desc != o.Columns[k].Desc {
			return false
		}
	}
	return true
}

// TableInfo 表结构，Exists 为 false 时其余字段为空
type TableInfo struct {
	Name    string
	Exists  bool
	Columns map[string]ColumnInfo
	Indexes []IndexInfo
}

// Engine 各数据库引擎的差异部分
type Engine interface {
	Name() string
	Capabilities() Capabilities

	// QuoteIdent 引用标识符
	QuoteIdent(name string) string
	// QuoteString 渲染字符串字面量
	QuoteString(s string) string
	// TableName 标识符大小写规则
	TableName(name string) string
	// Hash 对字符串字面量求路径哈希的表达式，结果为 40 位小写十六进制
	Hash(literal string) string

	// ColumnType 字段对应的列类型
	ColumnType(f *schema.FieldConfig) (string, error)
	// NormalizeType 将 DDL 中的类型和数据库中读取的类型统一为可比较的形式
	NormalizeType(typ string) string
	IDType() string
	PathType() string
	IdxType() string
	TableSuffix() string
	// ZeroLiteral 非空列新增时使用的默认值
	ZeroLiteral(typ string) string

	ModifyColumnSQL(table string, col Column) (string, error)
	DropIndexSQL(table, index string) string
	TruncateSQL(table string) string

	// Regex 正则匹配表达式，pattern 为已渲染的字面量
	Regex(column, pattern string, insensitive bool) string
	// Boundary 单词边界，start 与 end 不同的引擎交替替换
	Boundary() (start, end string)
	// ILike 大小写不敏感的 LIKE
	ILike(column, pattern string) string
	LimitSQL(limit, offset int) string

	// BeginSQL 开启顶层事务的语句序列，isolation 为空时不设置隔离级别
	BeginSQL(isolation string) []string

	// Describe 读取表结构，只返回由本库管理的索引
	Describe(ctx context.Context, exec Executor, table string) (*TableInfo, error)
}

// NewEngine 按名称创建引擎
func NewEngine(name string, legacy bool) (Engine, error) {
	switch strings.ToLower(name) {
	case "mysql":
		return &MySQL{Legacy: legacy}, nil
	case "postgres", "postgresql", "pgx":
		return &Postgres{}, nil
	case "sqlite", "sqlite3":
		return &SQLite{}, nil
	default:
		return nil, errors.Errorf("unsupported engine: %s", name)
	}
}

// 以下为读取 information_schema 等结果时的类型转换，驱动可能以 []byte 返回文本

func textValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return strings.TrimSpace(string(x))
	case string:
		return strings.TrimSpace(x)
	}
	return v
}

func asString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return cast.ToString(v)
}

func asInt(v any) int64 {
	return cast.ToInt64(textValue(v))
}

func asBool(v any) bool {
	return cast.ToBool(textValue(v))
}

func quoteWith(name string, q byte) string {
	s := string(q)
	return s + strings.ReplaceAll(name, s, s+s) + s
}
