package dialect

import (
	"bytes"
	"encoding/json"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hatlonely/docrdb/schema"
	"github.com/hatlonely/docrdb/visit"
)

// ParseFilter 解析 JSON 过滤条件，支持 extended JSON（$date、$numberLong 等），保留键的顺序
func ParseFilter(data []byte) (any, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err == nil {
		return doc, nil
	}

	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "parse filter")
	}
	return m, nil
}

type entry struct {
	Key   string
	Value any
}

// entries 过滤条件的键值对，map 按键排序，bson.D 保持原顺序
func entries(v any) ([]entry, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case bson.D:
		es := make([]entry, 0, len(x))
		for _, e := range x {
			es = append(es, entry{Key: e.Key, Value: e.Value})
		}
		return es, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	es := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		es = append(es, entry{Key: iter.Key().String(), Value: iter.Value().Interface()})
	}
	sort.Slice(es, func(i, j int) bool { return es[i].Key < es[j].Key })
	return es, true
}

// isOperatorDoc 所有键都是操作符的文档
func isOperatorDoc(v any) ([]entry, bool) {
	es, ok := entries(v)
	if !ok || len(es) == 0 || v == nil {
		return nil, false
	}
	for _, e := range es {
		if !strings.HasPrefix(e.Key, "$") {
			return nil, false
		}
	}
	return es, true
}

var idField = &schema.FieldConfig{Name: idColumn, Kind: schema.KindString}

// whereCompiler 编译过程的状态，记录被引用的表用于裁剪 JOIN
type whereCompiler struct {
	d      *Dialect
	byKey  map[string]*Table
	used   map[*Table]bool
	nextID int
}

func (d *Dialect) newWhereCompiler(tables []*Table) *whereCompiler {
	byKey := make(map[string]*Table, len(tables))
	for _, t := range tables {
		byKey[t.Key] = t
	}
	return &whereCompiler{d: d, byKey: byKey, used: map[*Table]bool{tables[0]: true}}
}

func (c *whereCompiler) use(t *Table) {
	for ; t != nil; t = t.Parent {
		c.used[t] = true
	}
}

func (c *whereCompiler) child(t *Table, name string) *Table {
	if t.Key == "" {
		return c.byKey[name]
	}
	return c.byKey[t.Key+"."+name]
}

func (c *whereCompiler) column(t *Table, name string) string {
	return t.Alias + "." + c.d.engine.QuoteIdent(name)
}

// WhereSQL 编译过程化过滤条件，条件为空时返回空字符串
func (d *Dialect) WhereSQL(class string, filter any) (string, error) {
	tables, err := d.Tables(class)
	if err != nil {
		return "", err
	}
	return d.newWhereCompiler(tables).compile(tables[0], filter)
}

func (c *whereCompiler) compile(t *Table, filter any) (string, error) {
	es, ok := entries(filter)
	if !ok {
		return "", errors.Errorf("filter must be a document, got %T", filter)
	}

	var parts []string
	for _, e := range es {
		var part string
		var err error
		switch e.Key {
		case "$and", "$or", "$nor":
			part, err = c.compileGroup(t, e.Key, e.Value)
		case "$not":
			part, err = c.compile(t, e.Value)
			if part != "" {
				part = "NOT (" + part + ")"
			}
		default:
			if strings.HasPrefix(e.Key, "$") {
				return "", errors.Errorf("unsupported operator %s", e.Key)
			}
			part, err = c.compileField(t, e.Key, e.Value)
		}
		if err != nil {
			return "", err
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	return joinAnd(parts), nil
}

func joinAnd(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func (c *whereCompiler) compileGroup(t *Table, op string, value any) (string, error) {
	items, ok := visit.AsArray(value)
	if !ok {
		return "", errors.Errorf("%s expects an array, got %T", op, value)
	}

	var parts []string
	for _, item := range items {
		part, err := c.compile(t, item)
		if err != nil {
			return "", err
		}
		if part == "" {
			part = "1 = 1"
		}
		parts = append(parts, part)
	}

	switch {
	case len(parts) == 0 && op == "$and":
		return "1 = 1", nil
	case len(parts) == 0:
		return "1 = 0", nil
	case op == "$and":
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case op == "$or":
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}
	return "NOT (" + strings.Join(parts, " OR ") + ")", nil
}

// compileField 解析字段路径，支持点分写法和嵌套文档写法
func (c *whereCompiler) compileField(t *Table, key string, value any) (string, error) {
	if t.IsRoot() && key == idColumn {
		c.use(t)
		return c.compileLeaf(c.column(t, idColumn), idField, value)
	}

	names := strings.Split(key, ".")
	cur := t
	for i, name := range names {
		last := i == len(names)-1
		if cur.IsPrimitive() {
			return "", errors.Errorf("field %s is not an object", key)
		}
		f, ok := cur.Fields.Field(name)
		if !ok {
			return "", errors.Errorf("unknown field %s", key)
		}

		if f.IsLocal() {
			if !last {
				return "", errors.Errorf("field %s is not an object", key)
			}
			c.use(cur)
			return c.compileLeaf(c.column(cur, name), f, value)
		}

		child := c.child(cur, name)
		if child == nil {
			return "", errors.Errorf("unknown field %s", key)
		}

		if !f.IsClass() {
			if !last {
				return "", errors.Errorf("field %s is not an object", key)
			}
			return c.compileArray(cur, child, f, value)
		}

		if last {
			if ops, ok := isOperatorDoc(value); ok {
				return c.compileSubOps(cur, child, key, ops)
			}
			c.use(child)
			return c.compile(child, value)
		}
		cur = child
	}
	return "", errors.Errorf("unknown field %s", key)
}

// compileSubOps 嵌套对象字段上只支持存在性判断
func (c *whereCompiler) compileSubOps(parent, child *Table, key string, ops []entry) (string, error) {
	var parts []string
	for _, op := range ops {
		switch {
		case op.Key == "$exists":
			parts = append(parts, c.exists(parent, child, truthy(op.Value), nil))
		case op.Key == "$eq" && op.Value == nil:
			parts = append(parts, c.exists(parent, child, false, nil))
		case op.Key == "$ne" && op.Value == nil:
			parts = append(parts, c.exists(parent, child, true, nil))
		default:
			return "", errors.Errorf("unsupported operator %s on object field %s", op.Key, key)
		}
	}
	return joinAnd(parts), nil
}

// exists 子表中是否存在属于父行的记录，cond 根据子查询别名生成附加条件
func (c *whereCompiler) exists(parent, child *Table, positive bool, cond func(alias string) string) string {
	c.use(parent)
	alias := "e" + strconv.Itoa(c.nextID)
	c.nextID++

	q := c.d.engine.QuoteIdent
	sql := "EXISTS (SELECT 1 FROM " + q(child.Name) + " " + alias + " WHERE " +
		alias + "." + q(parentPathColumn) + " = " + c.column(parent, pathColumn)
	if cond != nil {
		sql += " AND " + cond(alias)
	}
	sql += ")"
	if !positive {
		return "NOT " + sql
	}
	return sql
}

// compileArray 基础类型数组，条件作用在子表的值列上，任一元素满足即匹配
func (c *whereCompiler) compileArray(parent, child *Table, f *schema.FieldConfig, value any) (string, error) {
	ops, ok := isOperatorDoc(value)
	if !ok {
		c.use(child)
		return c.compileLeaf(c.column(child, f.Name), f, value)
	}

	var parts []string
	var rest bson.D
	for _, op := range ops {
		switch op.Key {
		case "$all":
			items, ok := visit.AsArray(op.Value)
			if !ok {
				return "", errors.Errorf("$all expects an array, got %T", op.Value)
			}
			for _, item := range items {
				lit, err := c.d.ResolveValue(f, item)
				if err != nil {
					return "", err
				}
				parts = append(parts, c.exists(parent, child, true, func(alias string) string {
					return alias + "." + c.d.engine.QuoteIdent(f.Name) + " = " + lit
				}))
			}
		case "$exists":
			parts = append(parts, c.exists(parent, child, truthy(op.Value), nil))
		default:
			rest = append(rest, bson.E{Key: op.Key, Value: op.Value})
		}
	}
	if len(rest) > 0 {
		c.use(child)
		part, err := c.compileLeaf(c.column(child, f.Name), f, rest)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return joinAnd(parts), nil
}

// compileLeaf 编译列上的比较，value 可以是字面值、正则或操作符文档
func (c *whereCompiler) compileLeaf(column string, f *schema.FieldConfig, value any) (string, error) {
	if isRegex(value) {
		return c.compileRegex(column, value, "")
	}
	ops, ok := isOperatorDoc(value)
	if !ok {
		if value == nil {
			return column + " IS NULL", nil
		}
		lit, err := c.d.ResolveValue(f, value)
		if err != nil {
			return "", err
		}
		return column + " = " + lit, nil
	}

	options := ""
	for _, op := range ops {
		if op.Key == "$options" {
			options, _ = op.Value.(string)
		}
	}

	var parts []string
	for _, op := range ops {
		part, err := c.compileOp(column, f, op, options)
		if err != nil {
			return "", err
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	return joinAnd(parts), nil
}

var comparisons = map[string]string{
	"$gt":  ">",
	"$gte": ">=",
	"$lt":  "<",
	"$lte": "<=",
}

func (c *whereCompiler) compileOp(column string, f *schema.FieldConfig, op entry, options string) (string, error) {
	switch op.Key {
	case "$eq":
		if op.Value == nil {
			return column + " IS NULL", nil
		}
		lit, err := c.d.ResolveValue(f, op.Value)
		if err != nil {
			return "", err
		}
		return column + " = " + lit, nil
	case "$ne":
		if op.Value == nil {
			return column + " IS NOT NULL", nil
		}
		lit, err := c.d.ResolveValue(f, op.Value)
		if err != nil {
			return "", err
		}
		return "(" + column + " <> " + lit + " OR " + column + " IS NULL)", nil
	case "$gt", "$gte", "$lt", "$lte":
		lit, err := c.d.ResolveValue(f, op.Value)
		if err != nil {
			return "", err
		}
		return column + " " + comparisons[op.Key] + " " + lit, nil
	case "$in", "$nin":
		return c.compileIn(column, f, op)
	case "$all":
		items, ok := visit.AsArray(op.Value)
		if !ok {
			return "", errors.Errorf("$all expects an array, got %T", op.Value)
		}
		var parts []string
		for _, item := range items {
			lit, err := c.d.ResolveValue(f, item)
			if err != nil {
				return "", err
			}
			parts = append(parts, column+" = "+lit)
		}
		return joinAnd(parts), nil
	case "$like", "$ilike":
		pattern, ok := op.Value.(string)
		if !ok {
			return "", errors.Errorf("%s expects a string, got %T", op.Key, op.Value)
		}
		lit := c.d.engine.QuoteString(pattern)
		if op.Key == "$ilike" {
			return c.d.engine.ILike(column, lit), nil
		}
		return column + " LIKE " + lit, nil
	case "$regex":
		return c.compileRegex(column, op.Value, options)
	case "$iregex":
		return c.compileRegex(column, op.Value, options+"i")
	case "$options":
		return "", nil
	case "$exists":
		if truthy(op.Value) {
			return column + " IS NOT NULL", nil
		}
		return column + " IS NULL", nil
	case "$not":
		part, err := c.compileLeaf(column, f, op.Value)
		if err != nil {
			return "", err
		}
		return "NOT (" + part + ")", nil
	}
	return "", errors.Errorf("unsupported operator %s", op.Key)
}

func (c *whereCompiler) compileIn(column string, f *schema.FieldConfig, op entry) (string, error) {
	items, ok := visit.AsArray(op.Value)
	if !ok {
		return "", errors.Errorf("%s expects an array, got %T", op.Key, op.Value)
	}

	var lits []string
	hasNull := false
	for _, item := range items {
		if item == nil {
			hasNull = true
			continue
		}
		lit, err := c.d.ResolveValue(f, item)
		if err != nil {
			return "", err
		}
		lits = append(lits, lit)
	}

	if op.Key == "$in" {
		var parts []string
		if len(lits) > 0 {
			parts = append(parts, column+" IN ("+strings.Join(lits, ", ")+")")
		}
		if hasNull {
			parts = append(parts, column+" IS NULL")
		}
		switch len(parts) {
		case 0:
			return "1 = 0", nil
		case 1:
			return parts[0], nil
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}

	if len(lits) == 0 {
		if hasNull {
			return column + " IS NOT NULL", nil
		}
		return "1 = 1", nil
	}
	notIn := column + " NOT IN (" + strings.Join(lits, ", ") + ")"
	if hasNull {
		return notIn, nil
	}
	return "(" + notIn + " OR " + column + " IS NULL)", nil
}

func isRegex(v any) bool {
	switch v.(type) {
	case primitive.Regex, *regexp.Regexp:
		return true
	}
	return false
}

// likePrefix 匹配 ^prefix、^prefix.* 和 ^prefix.*$，前缀中不能有正则元字符和 LIKE 通配符
var likePrefix = regexp.MustCompile(`^\^([^\\.*+?()\[\]{}|^$%_]+)(\.\*)?(\$)?$`)

func (c *whereCompiler) compileRegex(column string, value any, options string) (string, error) {
	source, insensitive, ok := regexSource(value)
	if !ok {
		return "", errors.Errorf("$regex expects a regular expression, got %T", value)
	}
	if strings.Contains(options, "i") {
		insensitive = true
	}

	if m := likePrefix.FindStringSubmatch(source); m != nil && !(m[2] == "" && m[3] == "$") {
		lit := c.d.engine.QuoteString(m[1] + "%")
		if insensitive {
			return c.d.engine.ILike(column, lit), nil
		}
		return column + " LIKE " + lit, nil
	}

	pattern := c.d.engine.QuoteString(c.d.ReplaceBoundary(source))
	return c.d.engine.Regex(column, pattern, insensitive), nil
}

// ReplaceBoundary 将正则中的 \b 替换为引擎的单词边界写法
func (d *Dialect) ReplaceBoundary(source string) string {
	start, end := d.engine.Boundary()

	var b strings.Builder
	open := false
	for i := 0; i < len(source); i++ {
		ch := source[i]
		if ch == '\\' && i+1 < len(source) {
			if source[i+1] == 'b' {
				if open {
					b.WriteString(end)
				} else {
					b.WriteString(start)
				}
				open = !open
			} else {
				b.WriteByte(ch)
				b.WriteByte(source[i+1])
			}
			i++
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case nil:
		return false
	}
	if n, ok := toFloat(v); ok {
		return n != 0
	}
	return true
}
