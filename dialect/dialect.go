package dialect

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/hatlonely/docrdb/schema"
	"github.com/hatlonely/docrdb/visit"
)

const (
	idColumn         = "id"
	pathColumn       = "__path"
	parentPathColumn = "__parent_path"
	idxColumn        = "__idx"
)

// Options 方言配置，构造后不可修改
type Options struct {
	Engine string `cfg:"engine" def:"mysql" validate:"oneof=mysql postgres sqlite"`
	Prefix string `cfg:"prefix"`
	Legacy bool   `cfg:"legacy"`
}

// Dialect 通用 SQL 生成逻辑，引擎差异由 Engine 提供
type Dialect struct {
	reg    *schema.Registry
	engine Engine
	prefix string

	tables sync.Map // class -> []*Table
}

func NewWithOptions(reg *schema.Registry, options *Options) (*Dialect, error) {
	engine, err := NewEngine(options.Engine, options.Legacy)
	if err != nil {
		return nil, err
	}
	return New(reg, engine, options.Prefix), nil
}

func New(reg *schema.Registry, engine Engine, prefix string) *Dialect {
	return &Dialect{reg: reg, engine: engine, prefix: prefix}
}

func (d *Dialect) Engine() Engine {
	return d.engine
}

func (d *Dialect) Registry() *schema.Registry {
	return d.reg
}

// Table 由访问栈导出的物理表
type Table struct {
	Name     string // 物理表名，包含前缀
	Key      string // 结构化路径，根表为空
	Alias    string
	Stack    visit.Stack
	Field    *schema.FieldConfig // 产生该表的字段，根表为 nil
	Fields   *visit.Location     // 基础类型数组表为 nil
	Parent   *Table
	Children []*Table
}

func (t *Table) IsRoot() bool {
	return t.Parent == nil
}

func (t *Table) IsArray() bool {
	return t.Field != nil && t.Field.Array
}

// IsPrimitive 基础类型数组表，值保存在与字段同名的列中
func (t *Table) IsPrimitive() bool {
	return t.Fields == nil
}

func (t *Table) Depth() int {
	return t.Stack.Depth()
}

// Column 列定义
type Column struct {
	Name    string
	Type    string
	NotNull bool
	Field   *schema.FieldConfig // 合成列为 nil
}

// TableName 访问栈对应的物理表名
func (d *Dialect) TableName(stack visit.Stack) string {
	return d.engine.TableName(d.prefix + stack.Table())
}

// Tables 类涉及的所有表，按路径长度排序，别名按顺序分配为 t0, t1, ...
func (d *Dialect) Tables(class string) ([]*Table, error) {
	if v, ok := d.tables.Load(class); ok {
		return v.([]*Table), nil
	}

	var tables []*Table
	byKey := map[string]*Table{}
	add := func(e *visit.Event, fields *visit.Location) {
		t := &Table{
			Name:   d.TableName(e.Stack),
			Key:    e.Stack.Key(),
			Stack:  e.Stack,
			Field:  e.Field,
			Fields: fields,
		}
		if parent := e.Stack.Parent(); parent != nil {
			t.Parent = byKey[parent.Key()]
			t.Parent.Children = append(t.Parent.Children, t)
		}
		byKey[t.Key] = t
		tables = append(tables, t)
	}

	err := visit.Walk(d.reg, class, visit.Funcs{
		Root: func(e *visit.Event) (visit.Decision, error) {
			add(e, e.Fields)
			return visit.Descend, nil
		},
		Sub: func(e *visit.Event) (visit.Decision, error) {
			add(e, e.Fields)
			return visit.Descend, nil
		},
		Simple: func(e *visit.Event) (visit.Decision, error) {
			if !e.Field.IsLocal() {
				add(e, nil)
			}
			return visit.Descend, nil
		},
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(tables, func(i, j int) bool {
		return tables[i].Depth() < tables[j].Depth()
	})
	for i, t := range tables {
		t.Alias = "t" + strconv.Itoa(i)
	}

	d.tables.Store(class, tables)
	return tables, nil
}

// RootTable 类的根表
func (d *Dialect) RootTable(class string) (*Table, error) {
	tables, err := d.Tables(class)
	if err != nil {
		return nil, err
	}
	return tables[0], nil
}

// localFields 保存为列的字段，根表的 id 字段由合成列承载
func localFields(t *Table) []*schema.FieldConfig {
	if t.IsPrimitive() {
		return []*schema.FieldConfig{t.Field}
	}
	fields := make([]*schema.FieldConfig, 0, len(t.Fields.Local))
	for _, f := range t.Fields.Local {
		if t.IsRoot() && f.Name == idColumn {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// Columns 表的全部列，合成列在前
func (d *Dialect) Columns(t *Table) ([]Column, error) {
	var cols []Column
	if t.IsRoot() {
		cols = append(cols,
			Column{Name: idColumn, Type: d.engine.IDType(), NotNull: true},
			Column{Name: pathColumn, Type: d.engine.PathType(), NotNull: true},
		)
	} else {
		cols = append(cols,
			Column{Name: pathColumn, Type: d.engine.PathType(), NotNull: true},
			Column{Name: parentPathColumn, Type: d.engine.PathType(), NotNull: true},
		)
		if t.IsArray() {
			cols = append(cols, Column{Name: idxColumn, Type: d.engine.IdxType(), NotNull: true})
		}
	}

	for _, f := range localFields(t) {
		col, err := d.column(f)
		if err != nil {
			return nil, err
		}
		if t.IsPrimitive() {
			col.NotNull = false
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func (d *Dialect) column(f *schema.FieldConfig) (Column, error) {
	typ, err := d.engine.ColumnType(f)
	if err != nil {
		return Column{}, err
	}
	return Column{Name: f.Name, Type: typ, NotNull: f.Required, Field: f}, nil
}

func (d *Dialect) columnDefinition(col Column) string {
	def := d.engine.QuoteIdent(col.Name) + " " + col.Type
	if col.NotNull {
		def += " NOT NULL"
	}
	return def
}

// CreateTableSQL 建表语句，根表以 id 为主键，子表以 __path 为主键并通过 __parent_path 级联删除
func (d *Dialect) CreateTableSQL(t *Table) (string, error) {
	cols, err := d.Columns(t)
	if err != nil {
		return "", err
	}

	q := d.engine.QuoteIdent
	defs := make([]string, 0, len(cols)+2)
	for _, col := range cols {
		def := d.columnDefinition(col)
		if t.IsRoot() && col.Name == pathColumn {
			def += " UNIQUE"
		}
		defs = append(defs, def)
	}

	if t.IsRoot() {
		defs = append(defs, "PRIMARY KEY ("+q(idColumn)+")")
	} else {
		defs = append(defs,
			"PRIMARY KEY ("+q(pathColumn)+")",
			"CONSTRAINT "+q("fk_"+t.Name)+" FOREIGN KEY ("+q(parentPathColumn)+") REFERENCES "+
				q(t.Parent.Name)+" ("+q(pathColumn)+") ON DELETE CASCADE",
		)
	}

	return "CREATE TABLE IF NOT EXISTS " + q(t.Name) + " (\n  " +
		strings.Join(defs, ",\n  ") + "\n)" + d.engine.TableSuffix(), nil
}

// AddColumnSQL 新增列，非空列在需要时带上零值默认值以兼容已有数据
func (d *Dialect) AddColumnSQL(t *Table, f *schema.FieldConfig) (string, error) {
	col, err := d.column(f)
	if err != nil {
		return "", err
	}
	def := d.columnDefinition(col)
	if col.NotNull {
		if zero := d.engine.ZeroLiteral(col.Type); zero != "" {
			def += " DEFAULT " + zero
		}
	}
	return "ALTER TABLE " + d.engine.QuoteIdent(t.Name) + " ADD COLUMN " + def, nil
}

func (d *Dialect) ModifyColumnSQL(t *Table, f *schema.FieldConfig) (string, error) {
	col, err := d.column(f)
	if err != nil {
		return "", err
	}
	return d.engine.ModifyColumnSQL(t.Name, col)
}

func (d *Dialect) DropColumnSQL(t *Table, column string) string {
	return "ALTER TABLE " + d.engine.QuoteIdent(t.Name) + " DROP COLUMN " + d.engine.QuoteIdent(column)
}

func (d *Dialect) DropTableSQL(t *Table) string {
	return "DROP TABLE IF EXISTS " + d.engine.QuoteIdent(t.Name)
}

func (d *Dialect) TruncateTableSQL(t *Table) string {
	return d.engine.TruncateSQL(t.Name)
}

// TableIndex 落到某张表上的索引
type TableIndex struct {
	Table *Table
	Index IndexInfo
}

// Indexes 将类声明的索引解析到物理表，同一个索引的字段必须位于同一张表
func (d *Dialect) Indexes(class string) ([]TableIndex, error) {
	indices, err := d.reg.Indices(class)
	if err != nil {
		return nil, err
	}
	tables, err := d.Tables(class)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*Table, len(tables))
	for _, t := range tables {
		byKey[t.Key] = t
	}

	var result []TableIndex
	for _, idx := range indices {
		if len(idx.Fields) == 0 {
			return nil, errors.Errorf("class %s: index %s has no fields", class, idx.Name)
		}

		var table *Table
		info := IndexInfo{Unique: idx.Unique}
		for _, f := range idx.Fields {
			t, column, err := resolveColumn(byKey, f.Name)
			if err != nil {
				return nil, errors.WithMessagef(err, "class %s: index %s", class, idx.Name)
			}
			if table != nil && table != t {
				return nil, errors.Errorf("class %s: index %s spans tables %s and %s", class, idx.Name, table.Name, t.Name)
			}
			table = t
			info.Columns = append(info.Columns, IndexColumn{Column: column, Desc: f.Desc})
		}

		name := idx.Name
		if name == "" {
			prefix := "idx"
			if idx.Unique {
				prefix = "uk"
			}
			parts := []string{prefix}
			for _, c := range info.Columns {
				parts = append(parts, c.Column)
			}
			name = strings.Join(parts, "_")
		}
		info.Name = d.engine.TableName(table.Name + "_" + name)
		result = append(result, TableIndex{Table: table, Index: info})
	}
	return result, nil
}

// resolveColumn 点分字段名解析为表和列
func resolveColumn(byKey map[string]*Table, name string) (*Table, string, error) {
	parts := strings.Split(name, ".")
	key := ""
	table := byKey[key]
	for i, part := range parts {
		next := part
		if key != "" {
			next = key + "." + part
		}
		if t, ok := byKey[next]; ok {
			if t.IsPrimitive() && i == len(parts)-1 {
				return t, part, nil
			}
			key, table = next, t
			continue
		}
		if i != len(parts)-1 || table.IsPrimitive() {
			return nil, "", errors.Errorf("unknown field %s", name)
		}
		if _, ok := table.Fields.Field(part); !ok {
			return nil, "", errors.Errorf("unknown field %s", name)
		}
		return table, part, nil
	}
	return nil, "", errors.Errorf("field %s is not a column", name)
}

func (d *Dialect) CreateIndexSQL(t *Table, idx IndexInfo) string {
	q := d.engine.QuoteIdent
	cols := make([]string, 0, len(idx.Columns))
	for _, c := range idx.Columns {
		col := q(c.Column)
		if c.Desc {
			col += " DESC"
		}
		cols = append(cols, col)
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if d.engine.Capabilities().IndexIfExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(q(idx.Name))
	b.WriteString(" ON ")
	b.WriteString(q(t.Name))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(")")
	return b.String()
}

func (d *Dialect) DropIndexSQL(t *Table, name string) string {
	return d.engine.DropIndexSQL(t.Name, name)
}

// zeroLiteral 按列类型给出零值字面量
func zeroLiteral(typ string) string {
	t := strings.ToLower(typ)
	switch {
	case strings.Contains(t, "json"):
		return "'null'"
	case strings.Contains(t, "char"), strings.Contains(t, "text"):
		return "''"
	case strings.Contains(t, "bool"):
		return "FALSE"
	case strings.Contains(t, "time"), strings.Contains(t, "date"):
		return "'1970-01-01 00:00:00'"
	default:
		return "0"
	}
}
