package visit

import (
	"strconv"
	"strings"

	"github.com/hatlonely/docrdb/schema"
)

// Node 访问栈节点
type Node struct {
	Type     string // 类名或基础类型名
	Name     string // 根节点为类名（schema 遍历）或记录 id（实例遍历），其余为字段名
	Field    *schema.FieldConfig
	Array    bool
	Index    int
	HasIndex bool

	table string
}

// Stack 从根类到当前字段的节点序列，Push 总是返回新的栈
type Stack []*Node

// NewRoot 创建根节点栈
func NewRoot(class, name, store string) Stack {
	return Stack{{Type: class, Name: name, table: store}}
}

// Push 压入字段节点，表名在此时一次性计算
// 本地字段沿用父节点的表，嵌套对象和数组字段产生新表
func (s Stack) Push(field *schema.FieldConfig, index int, hasIndex bool) Stack {
	top := s.Top()
	table := top.table
	if !field.IsLocal() {
		table = top.table + "_" + field.Name
	}

	typ := field.Type
	if typ == "" {
		typ = field.Kind.String()
	}

	n := &Node{
		Type:     typ,
		Name:     field.Name,
		Field:    field,
		Array:    field.Array,
		Index:    index,
		HasIndex: hasIndex,
		table:    table,
	}

	next := make(Stack, len(s)+1)
	copy(next, s)
	next[len(s)] = n
	return next
}

func (s Stack) Top() *Node {
	return s[len(s)-1]
}

func (s Stack) Root() *Node {
	return s[0]
}

// Depth 栈深度，根为 1
func (s Stack) Depth() int {
	return len(s)
}

// Parent 返回去掉栈顶后的栈
func (s Stack) Parent() Stack {
	if len(s) <= 1 {
		return nil
	}
	return s[:len(s)-1]
}

// IsRoot 是否为根表栈
func (s Stack) IsRoot() bool {
	return len(s) == 1
}

// Table 栈顶节点所在的表名（不含前缀）
func (s Stack) Table() string {
	return s.Top().table
}

// Path 点分路径，数组节点追加下标，例如 u1.items.2.tags.0
func (s Stack) Path() string {
	var b strings.Builder
	for i, n := range s {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(n.Name)
		if n.HasIndex {
			b.WriteByte('.')
			b.WriteString(strconv.Itoa(n.Index))
		}
	}
	return b.String()
}

// ParentPath 上一级的点分路径
func (s Stack) ParentPath() string {
	return s.Parent().Path()
}

// Names 去掉根节点后的字段名序列
func (s Stack) Names() []string {
	names := make([]string, 0, len(s)-1)
	for _, n := range s[1:] {
		names = append(names, n.Name)
	}
	return names
}

// Key 不含下标和根记录名的结构化路径，用于别名缓存
func (s Stack) Key() string {
	return strings.Join(s.Names(), ".")
}

// contains 栈中是否已存在某个类，用于检测递归定义
func (s Stack) contains(class string) bool {
	for _, n := range s {
		if n.Type == class && (n.Field == nil || n.Field.IsClass()) {
			return true
		}
	}
	return false
}
