package table

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/docrdb/conn"
	"github.com/hatlonely/docrdb/dialect"
	"github.com/hatlonely/docrdb/log"
	"github.com/hatlonely/docrdb/log/logger"
)

type Options struct {
	// DropColumns 删除数据库中存在但未声明的列，默认只记录日志
	DropColumns bool `cfg:"dropColumns"`
}

// Migration 表结构变更，按 DropIndex、Table、CreateIndex 的顺序执行
type Migration struct {
	DropIndex   []string
	Table       []string
	CreateIndex []string
}

// Statements 按执行顺序返回全部语句
func (m *Migration) Statements() []string {
	stmts := make([]string, 0, len(m.DropIndex)+len(m.Table)+len(m.CreateIndex))
	stmts = append(stmts, m.DropIndex...)
	stmts = append(stmts, m.Table...)
	return append(stmts, m.CreateIndex...)
}

func (m *Migration) Empty() bool {
	return len(m.DropIndex) == 0 && len(m.Table) == 0 && len(m.CreateIndex) == 0
}

// Manager 表结构管理：导出、比对、迁移、删除、清空
type Manager struct {
	d       *dialect.Dialect
	conns   *conn.Manager
	options *Options
	logger  logger.Logger
}

func NewManager(d *dialect.Dialect, conns *conn.Manager, options *Options) *Manager {
	if options == nil {
		options = &Options{}
	}
	return &Manager{
		d:       d,
		conns:   conns,
		options: options,
		logger:  log.Default().WithGroup("table"),
	}
}

func (m *Manager) SetLogger(l logger.Logger) {
	if l != nil {
		m.logger = l
	}
}

// ExportTables 冷启动建表语句：所有表的 CREATE TABLE 以及索引
func (m *Manager) ExportTables(class string) ([]string, error) {
	tables, err := m.d.Tables(class)
	if err != nil {
		return nil, err
	}
	indexes, err := m.d.Indexes(class)
	if err != nil {
		return nil, err
	}

	stmts := make([]string, 0, len(tables)+len(indexes))
	for _, t := range tables {
		sql, err := m.d.CreateTableSQL(t)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, sql)
	}
	for _, idx := range indexes {
		stmts = append(stmts, m.d.CreateIndexSQL(idx.Table, idx.Index))
	}
	return stmts, nil
}

// UpsertTablesSQL 读取已有表结构并与声明比对，生成迁移语句
func (m *Manager) UpsertTablesSQL(ctx context.Context, class string) (*Migration, error) {
	tables, err := m.d.Tables(class)
	if err != nil {
		return nil, err
	}
	indexes, err := m.d.Indexes(class)
	if err != nil {
		return nil, err
	}
	declared := map[*dialect.Table][]dialect.IndexInfo{}
	for _, idx := range indexes {
		declared[idx.Table] = append(declared[idx.Table], idx.Index)
	}

	migration := &Migration{}
	err = m.conns.RunWithActive(ctx, func(ctx context.Context) error {
		for _, t := range tables {
			info, err := m.d.Engine().Describe(ctx, m.conns, t.Name)
			if err != nil {
				return errors.WithMessagef(err, "describe table %s", t.Name)
			}
			if err := m.diffTable(ctx, migration, t, info, declared[t]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return migration, nil
}

func (m *Manager) diffTable(ctx context.Context, migration *Migration, t *dialect.Table, info *dialect.TableInfo, indexes []dialect.IndexInfo) error {
	if !info.Exists {
		sql, err := m.d.CreateTableSQL(t)
		if err != nil {
			return err
		}
		migration.Table = append(migration.Table, sql)
		for _, idx := range indexes {
			migration.CreateIndex = append(migration.CreateIndex, m.d.CreateIndexSQL(t, idx))
		}
		return nil
	}

	cols, err := m.d.Columns(t)
	if err != nil {
		return err
	}
	engine := m.d.Engine()
	seen := make(map[string]bool, len(cols))
	for _, col := range cols {
		seen[strings.ToLower(col.Name)] = true
		if col.Field == nil {
			continue
		}

		existing, ok := lookupColumn(info, col.Name)
		if !ok {
			sql, err := m.d.AddColumnSQL(t, col.Field)
			if err != nil {
				return err
			}
			migration.Table = append(migration.Table, sql)
			continue
		}
		if engine.NormalizeType(col.Type) == existing.Type && col.NotNull == existing.NotNull {
			continue
		}
		if !engine.Capabilities().AlterColumn {
			m.logger.WarnContext(ctx, "column definition changed but engine cannot alter columns",
				"table", t.Name, "column", col.Name, "declared", col.Type, "actual", existing.Type)
			continue
		}
		sql, err := m.d.ModifyColumnSQL(t, col.Field)
		if err != nil {
			return err
		}
		migration.Table = append(migration.Table, sql)
	}

	for name := range info.Columns {
		if seen[strings.ToLower(name)] {
			continue
		}
		if !m.options.DropColumns {
			m.logger.InfoContext(ctx, "column is not declared, keep it", "table", t.Name, "column", name)
			continue
		}
		migration.Table = append(migration.Table, m.d.DropColumnSQL(t, name))
	}

	for _, existing := range info.Indexes {
		if !containsIndex(indexes, existing) {
			migration.DropIndex = append(migration.DropIndex, m.d.DropIndexSQL(t, existing.Name))
		}
	}
	for _, idx := range indexes {
		if !containsIndex(info.Indexes, idx) {
			migration.CreateIndex = append(migration.CreateIndex, m.d.CreateIndexSQL(t, idx))
		}
	}
	return nil
}

func lookupColumn(info *dialect.TableInfo, name string) (dialect.ColumnInfo, bool) {
	if c, ok := info.Columns[name]; ok {
		return c, true
	}
	for k, c := range info.Columns {
		if strings.EqualFold(k, name) {
			return c, true
		}
	}
	return dialect.ColumnInfo{}, false
}

func containsIndex(indexes []dialect.IndexInfo, idx dialect.IndexInfo) bool {
	for _, i := range indexes {
		if i.Equal(idx) {
			return true
		}
	}
	return false
}

// Apply 比对并在同一个事务中执行迁移
func (m *Manager) Apply(ctx context.Context, class string) (*Migration, error) {
	var migration *Migration
	err := m.conns.RunWithTransaction(ctx, conn.Required, func(ctx context.Context) error {
		var err error
		migration, err = m.UpsertTablesSQL(ctx, class)
		if err != nil {
			return err
		}
		for _, stmt := range migration.Statements() {
			m.logger.InfoContext(ctx, "migrate", "class", class, "statement", stmt)
			if _, err := m.conns.Execute(ctx, stmt); err != nil {
				return errors.WithMessagef(err, "migrate class %s", class)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return migration, nil
}

// DropTables 删除类的所有表，子表先于父表
func (m *Manager) DropTables(ctx context.Context, class string) error {
	return m.reverseEach(ctx, class, m.d.DropTableSQL)
}

// TruncateTables 清空类的所有表，子表先于父表
func (m *Manager) TruncateTables(ctx context.Context, class string) error {
	return m.reverseEach(ctx, class, m.d.TruncateTableSQL)
}

func (m *Manager) reverseEach(ctx context.Context, class string, build func(t *dialect.Table) string) error {
	tables, err := m.d.Tables(class)
	if err != nil {
		return err
	}
	return m.conns.RunWithTransaction(ctx, conn.Required, func(ctx context.Context) error {
		for i := len(tables) - 1; i >= 0; i-- {
			stmt := build(tables[i])
			m.logger.InfoContext(ctx, "execute", "class", class, "statement", stmt)
			if _, err := m.conns.Execute(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
