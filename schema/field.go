package schema

import (
	"fmt"
	"strings"
)

// FieldKind 字段类型，封闭集合，新增类型时 dialect 中所有 switch 需同步补充
type FieldKind int

const (
	KindInvalid FieldKind = iota
	KindString
	KindNumber
	KindInteger
	KindBoolean
	KindDate
	KindObject
	KindRegExp
	KindClass
)

var kindNames = map[FieldKind]string{
	KindString:  "string",
	KindNumber:  "number",
	KindInteger: "integer",
	KindBoolean: "boolean",
	KindDate:    "date",
	KindObject:  "object",
	KindRegExp:  "regexp",
	KindClass:   "class",
}

func (k FieldKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

// ParseKind 解析类型名，无法识别的名称视为嵌套类
func ParseKind(name string) FieldKind {
	switch strings.ToLower(name) {
	case "string", "str", "text":
		return KindString
	case "number", "float", "double":
		return KindNumber
	case "integer", "int", "long":
		return KindInteger
	case "boolean", "bool":
		return KindBoolean
	case "date", "time", "datetime", "timestamp":
		return KindDate
	case "object", "json", "any":
		return KindObject
	case "regexp", "regex":
		return KindRegExp
	case "":
		return KindInvalid
	default:
		return KindClass
	}
}

// Precision 数值精度
type Precision struct {
	Digits   int `yaml:"digits" json:"digits"`
	Decimals int `yaml:"decimals" json:"decimals"`
}

// FieldConfig 字段定义，注册后不可修改
type FieldConfig struct {
	Name      string
	Kind      FieldKind
	Type      string // Kind 为 KindClass 时是嵌套类名
	Array     bool
	Required  bool
	Precision *Precision
	MaxLength int
	MinLength int
	Specifier string
	Owner     string
}

// IsClass 是否为嵌套类字段
func (f *FieldConfig) IsClass() bool {
	return f.Kind == KindClass
}

// IsLocal 是否作为列保存在所属表中
func (f *FieldConfig) IsLocal() bool {
	return !f.Array && f.Kind != KindClass
}

// Optional 返回一个非必填的副本
func (f *FieldConfig) Optional() *FieldConfig {
	c := *f
	c.Required = false
	return &c
}

// IndexField 索引字段
type IndexField struct {
	Name string `yaml:"name" json:"name"`
	Desc bool   `yaml:"desc" json:"desc"`
}

// IndexConfig 索引定义
type IndexConfig struct {
	Name   string       `yaml:"name" json:"name"`
	Fields []IndexField `yaml:"fields" json:"fields"`
	Unique bool         `yaml:"unique" json:"unique"`
}

// ClassConfig 类定义
// Root 表示类拥有自己的根表：显式声明了 Store 或作为顶层结构体注册，子类和只被嵌套引用的类不是根类
type ClassConfig struct {
	Name    string
	Store   string
	Base    string
	Root    bool
	Fields  []*FieldConfig
	Indices []IndexConfig
}

// Field 按名称查找字段
func (c *ClassConfig) Field(name string) (*FieldConfig, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}
