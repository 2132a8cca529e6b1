package dialect

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/docrdb/schema"
	"github.com/hatlonely/docrdb/visit"
)

// Record 一条待插入的行，Value 为嵌套对象的文档或基础类型数组的元素
type Record struct {
	Stack visit.Stack
	Value any
}

// InsertWrapper 同一张表的待插入行
type InsertWrapper struct {
	Table   *Table
	Records []Record
}

// DeleteWrapper 按 id 删除根记录，子表通过外键级联删除
type DeleteWrapper struct {
	Table *Table
	IDs   []string
}

// InsertWrappers 遍历文档实例，按目标表分组，结果按表的深度排序
func (d *Dialect) InsertWrappers(class string, docs []schema.Document) ([]*InsertWrapper, error) {
	tables, err := d.Tables(class)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*InsertWrapper, len(tables))
	for _, t := range tables {
		byKey[t.Key] = &InsertWrapper{Table: t}
	}

	add := func(e *visit.Event) error {
		w, ok := byKey[e.Stack.Key()]
		if !ok {
			return errors.Errorf("class %s: no table for %s", class, e.Stack.Key())
		}
		w.Records = append(w.Records, Record{Stack: e.Stack, Value: e.Value})
		return nil
	}

	v := visit.Funcs{
		Root: func(e *visit.Event) (visit.Decision, error) {
			return visit.Descend, add(e)
		},
		Sub: func(e *visit.Event) (visit.Decision, error) {
			return visit.Descend, add(e)
		},
		Simple: func(e *visit.Event) (visit.Decision, error) {
			if e.Field.IsLocal() {
				return visit.Descend, nil
			}
			return visit.Descend, add(e)
		},
	}
	for _, doc := range docs {
		if err := visit.WalkInstance(d.reg, class, doc, v); err != nil {
			return nil, err
		}
	}

	wrappers := make([]*InsertWrapper, 0, len(tables))
	for _, t := range tables {
		if w := byKey[t.Key]; len(w.Records) > 0 {
			wrappers = append(wrappers, w)
		}
	}
	return wrappers, nil
}

// PathHash 路径哈希表达式
func (d *Dialect) PathHash(path string) string {
	return d.engine.Hash(d.engine.QuoteString(path))
}

// InsertSQL 多行插入，没有记录时返回 false
func (d *Dialect) InsertSQL(w *InsertWrapper) (string, bool, error) {
	if w == nil || len(w.Records) == 0 {
		return "", false, nil
	}
	t := w.Table
	cols, err := d.Columns(t)
	if err != nil {
		return "", false, err
	}

	q := d.engine.QuoteIdent
	names := make([]string, 0, len(cols))
	for _, col := range cols {
		names = append(names, q(col.Name))
	}

	rows := make([]string, 0, len(w.Records))
	for _, r := range w.Records {
		values := make([]string, 0, len(cols))
		for _, col := range cols {
			value, err := d.recordValue(t, r, col)
			if err != nil {
				return "", false, err
			}
			values = append(values, value)
		}
		rows = append(rows, "("+strings.Join(values, ", ")+")")
	}

	return "INSERT INTO " + q(t.Name) + " (" + strings.Join(names, ", ") + ") VALUES " +
		strings.Join(rows, ", "), true, nil
}

func (d *Dialect) recordValue(t *Table, r Record, col Column) (string, error) {
	switch col.Name {
	case idColumn:
		if t.IsRoot() {
			return d.engine.QuoteString(r.Stack.Root().Name), nil
		}
	case pathColumn:
		return d.PathHash(r.Stack.Path()), nil
	case parentPathColumn:
		return d.PathHash(r.Stack.ParentPath()), nil
	case idxColumn:
		return strconv.Itoa(r.Stack.Top().Index), nil
	}

	if t.IsPrimitive() {
		return d.ResolveValue(col.Field, r.Value)
	}
	doc, ok := visit.AsDocument(r.Value)
	if !ok {
		return "", errors.Errorf("table %s: record is not a document", t.Name)
	}
	return d.ResolveValue(col.Field, doc[col.Name])
}

func (d *Dialect) idList(ids []string) string {
	lits := make([]string, 0, len(ids))
	for _, id := range ids {
		lits = append(lits, d.engine.QuoteString(id))
	}
	return strings.Join(lits, ", ")
}

// DeleteSQL 删除根记录
func (d *Dialect) DeleteSQL(w *DeleteWrapper) (string, bool) {
	if w == nil || len(w.IDs) == 0 {
		return "", false
	}
	q := d.engine.QuoteIdent
	return "DELETE FROM " + q(w.Table.Name) + " WHERE " + q(idColumn) + " IN (" + d.idList(w.IDs) + ")", true
}

// SelectIDsSQL 查询已存在的 id
func (d *Dialect) SelectIDsSQL(class string, ids []string) (string, error) {
	root, err := d.RootTable(class)
	if err != nil {
		return "", err
	}
	q := d.engine.QuoteIdent
	return "SELECT " + q(idColumn) + " FROM " + q(root.Name) + " WHERE " + q(idColumn) + " IN (" + d.idList(ids) + ")", nil
}

// DependentsSQL 按父路径查询子表的行，数组按 __idx 排序
func (d *Dialect) DependentsSQL(t *Table, proj Projection, parentPaths []string) string {
	q := d.engine.QuoteIdent
	cols := []string{q(pathColumn), q(parentPathColumn)}
	if t.IsArray() {
		cols = append(cols, q(idxColumn))
	}
	for _, f := range localFields(t) {
		if t.IsPrimitive() {
			cols = append(cols, q(f.Name))
			continue
		}
		if _, ok := proj.Includes(f.Name); ok {
			cols = append(cols, q(f.Name))
		}
	}

	sql := "SELECT " + strings.Join(cols, ", ") + " FROM " + q(t.Name) +
		" WHERE " + q(parentPathColumn) + " IN (" + d.idList(parentPaths) + ")"
	if t.IsArray() {
		sql += " ORDER BY " + q(parentPathColumn) + ", " + q(idxColumn)
	}
	return sql
}

// DecodeRow 将行中的本地列还原为文档，NULL 列不出现在结果中
func (d *Dialect) DecodeRow(t *Table, proj Projection, row map[string]any) (schema.Document, error) {
	doc := schema.Document{}
	for _, f := range localFields(t) {
		if !t.IsPrimitive() {
			if _, ok := proj.Includes(f.Name); !ok {
				continue
			}
		}
		raw, ok := row[f.Name]
		if !ok || raw == nil {
			continue
		}
		value, err := d.DecodeValue(f, raw)
		if err != nil {
			return nil, err
		}
		doc[f.Name] = value
	}
	return doc, nil
}
