package dialect

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sort 排序字段，Field 可以是点分路径，但不能经过数组
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Query 查询条件
type Query struct {
	Filter any
	Select []string
	Sort   []Sort
	Offset int
	Limit  int
}

// Projection 投影树，值为 nil 表示选择整棵子树
type Projection map[string]Projection

// NewProjection 由点分字段列表构造投影，fields 为空时选择全部
func NewProjection(fields []string) Projection {
	if len(fields) == 0 {
		return nil
	}
	p := Projection{}
	for _, field := range fields {
		cur := p
		names := strings.Split(field, ".")
		for i, name := range names {
			sub, ok := cur[name]
			if i == len(names)-1 {
				cur[name] = nil
				break
			}
			if ok && sub == nil {
				break
			}
			if !ok {
				sub = Projection{}
				cur[name] = sub
			}
			cur = sub
		}
	}
	return p
}

// Includes 是否选择了字段，返回字段的子投影
func (p Projection) Includes(name string) (Projection, bool) {
	if p == nil {
		return nil, true
	}
	sub, ok := p[name]
	return sub, ok
}

// SortColumn 第 i 个排序列在结果中的别名
func SortColumn(i int) string {
	return "__sort" + strconv.Itoa(i)
}

// SelectSQL 选择根表的列，总是包含 id 和 __path
func (d *Dialect) SelectSQL(root *Table, proj Projection) string {
	q := d.engine.QuoteIdent
	cols := []string{
		root.Alias + "." + q(idColumn),
		root.Alias + "." + q(pathColumn),
	}
	for _, f := range localFields(root) {
		if _, ok := proj.Includes(f.Name); ok {
			cols = append(cols, root.Alias+"."+q(f.Name))
		}
	}
	return "SELECT DISTINCT " + strings.Join(cols, ", ")
}

// FromSQL 根表加上所有可达子表的 LEFT OUTER JOIN，路径短的在前
func (d *Dialect) FromSQL(class string) (string, error) {
	tables, err := d.Tables(class)
	if err != nil {
		return "", err
	}
	return d.fromSQL(tables, nil), nil
}

// fromSQL used 为 nil 时连接全部表
func (d *Dialect) fromSQL(tables []*Table, used map[*Table]bool) string {
	q := d.engine.QuoteIdent
	var b strings.Builder
	b.WriteString("FROM ")
	b.WriteString(q(tables[0].Name))
	b.WriteString(" ")
	b.WriteString(tables[0].Alias)
	for _, t := range tables[1:] {
		if used != nil && !used[t] {
			continue
		}
		b.WriteString(" LEFT OUTER JOIN ")
		b.WriteString(q(t.Name))
		b.WriteString(" ")
		b.WriteString(t.Alias)
		b.WriteString(" ON ")
		b.WriteString(t.Alias + "." + q(parentPathColumn))
		b.WriteString(" = ")
		b.WriteString(t.Parent.Alias + "." + q(pathColumn))
	}
	return b.String()
}

// OrderBySQL 按排序列别名排序
func (d *Dialect) OrderBySQL(sorts []Sort) string {
	if len(sorts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sorts))
	for i, s := range sorts {
		part := SortColumn(i)
		if s.Desc {
			part += " DESC"
		}
		parts = append(parts, part)
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

func (d *Dialect) LimitSQL(limit, offset int) string {
	return d.engine.LimitSQL(limit, offset)
}

func (d *Dialect) GroupBySQL(columns ...string) string {
	if len(columns) == 0 {
		return ""
	}
	return "GROUP BY " + strings.Join(columns, ", ")
}

// sortColumn 解析排序字段，数组中的字段会让根记录重复，不允许用于排序
func (c *whereCompiler) sortColumn(name string) (string, error) {
	t, column, err := resolveColumn(c.byKey, name)
	if err != nil {
		return "", err
	}
	for p := t; p != nil; p = p.Parent {
		if p.IsArray() {
			return "", errors.Errorf("cannot sort by %s: field is inside an array", name)
		}
	}
	c.use(t)
	return c.column(t, column), nil
}

func (c *whereCompiler) resolveGroupColumn(name string) (string, error) {
	if name == idColumn {
		return c.column(c.byKey[""], idColumn), nil
	}
	t, column, err := resolveColumn(c.byKey, name)
	if err != nil {
		return "", err
	}
	c.use(t)
	return c.column(t, column), nil
}

func (d *Dialect) assemble(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// QuerySQL 查询根记录，只连接过滤和排序引用到的表
func (d *Dialect) QuerySQL(class string, query *Query) (string, error) {
	tables, err := d.Tables(class)
	if err != nil {
		return "", err
	}
	if query == nil {
		query = &Query{}
	}

	c := d.newWhereCompiler(tables)
	where, err := c.compile(tables[0], query.Filter)
	if err != nil {
		return "", err
	}

	sel := d.SelectSQL(tables[0], NewProjection(query.Select))
	for i, s := range query.Sort {
		column, err := c.sortColumn(s.Field)
		if err != nil {
			return "", err
		}
		sel += ", " + column + " AS " + SortColumn(i)
	}

	if where != "" {
		where = "WHERE " + where
	}
	return d.assemble(
		sel,
		d.fromSQL(tables, c.used),
		where,
		d.OrderBySQL(query.Sort),
		d.LimitSQL(query.Limit, query.Offset),
	), nil
}

// CountSQL 满足条件的根记录数
func (d *Dialect) CountSQL(class string, filter any) (string, error) {
	tables, err := d.Tables(class)
	if err != nil {
		return "", err
	}
	c := d.newWhereCompiler(tables)
	where, err := c.compile(tables[0], filter)
	if err != nil {
		return "", err
	}
	if where != "" {
		where = "WHERE " + where
	}

	q := d.engine.QuoteIdent
	return d.assemble(
		"SELECT COUNT(DISTINCT "+tables[0].Alias+"."+q(idColumn)+") AS "+q("count"),
		d.fromSQL(tables, c.used),
		where,
	), nil
}

// CountBySQL 按字段分组计数，数组字段按元素分组，结果列为 value 和 count，按数量降序
func (d *Dialect) CountBySQL(class string, filter any, field string, limit int) (string, error) {
	tables, err := d.Tables(class)
	if err != nil {
		return "", err
	}
	c := d.newWhereCompiler(tables)
	where, err := c.compile(tables[0], filter)
	if err != nil {
		return "", err
	}
	column, err := c.resolveGroupColumn(field)
	if err != nil {
		return "", err
	}
	if where != "" {
		where = "WHERE " + where
	}

	q := d.engine.QuoteIdent
	return d.assemble(
		"SELECT "+column+" AS "+q("value")+", COUNT(DISTINCT "+tables[0].Alias+"."+q(idColumn)+") AS "+q("count"),
		d.fromSQL(tables, c.used),
		where,
		d.GroupBySQL(column),
		"ORDER BY "+q("count")+" DESC, "+q("value"),
		d.LimitSQL(limit, 0),
	), nil
}
