package schema

import (
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	timeType   = reflect.TypeOf(time.Time{})
	regexpType = reflect.TypeOf(regexp.Regexp{})
)

// StructOption 结构体注册选项
type StructOption func(*structOptions)

type structOptions struct {
	store string
	base  string
	root  bool
}

// WithStore 指定根集合名
func WithStore(store string) StructOption {
	return func(o *structOptions) { o.store = store }
}

// WithBase 指定多态基类
func WithBase(base string) StructOption {
	return func(o *structOptions) { o.base = base }
}

// RegisterStruct 从结构体注册类定义，嵌套结构体类型会被递归注册
// 支持的 tag 格式：
//   - `rdb:"name,required,maxlength=255,minlength=1,precision=10:2,type=text,index,unique=uk_name,desc"`
//   - `table:"store_name"` 用于指定根集合名（任意字段上）
func (r *Registry) RegisterStruct(v any, opts ...StructOption) (string, error) {
	options := &structOptions{root: true}
	for _, opt := range opts {
		opt(options)
	}

	rt := reflect.TypeOf(v)
	for rt != nil && rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return "", errors.Errorf("expected struct, got %T", v)
	}

	if err := r.registerType(rt, options, map[reflect.Type]bool{}); err != nil {
		return "", err
	}
	return rt.Name(), nil
}

func (r *Registry) registerType(rt reflect.Type, options *structOptions, visiting map[reflect.Type]bool) error {
	if visiting[rt] {
		return nil
	}
	visiting[rt] = true

	class := &ClassConfig{Name: rt.Name(), Store: options.store, Base: options.base, Root: options.root}
	indexMap := map[string]*IndexConfig{}

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if tableTag := field.Tag.Get("table"); tableTag != "" && class.Store == "" {
			class.Store = tableTag
		}

		tag := field.Tag.Get("rdb")
		if tag == "-" {
			continue
		}

		fc, indexes, err := parseFieldTag(field, tag)
		if err != nil {
			return errors.WithMessagef(err, "class %s: field %s", class.Name, field.Name)
		}
		class.Fields = append(class.Fields, fc)

		for _, idx := range indexes {
			if existing, ok := indexMap[idx.Name]; ok {
				existing.Fields = append(existing.Fields, idx.Fields...)
				continue
			}
			idx := idx
			indexMap[idx.Name] = &idx
		}

		if fc.Kind == KindClass {
			if err := r.registerType(elemType(field.Type), &structOptions{}, visiting); err != nil {
				return err
			}
		}
	}

	names := make([]string, 0, len(indexMap))
	for name := range indexMap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		class.Indices = append(class.Indices, *indexMap[name])
	}

	return r.Register(class)
}

// parseFieldTag 解析字段的 rdb tag
func parseFieldTag(field reflect.StructField, tag string) (*FieldConfig, []IndexConfig, error) {
	fc := &FieldConfig{Name: field.Name}
	t := field.Type
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8 {
		fc.Array = true
	}
	fc.Kind, fc.Type = inferKind(elemType(field.Type))
	if fc.Kind == KindInvalid {
		return nil, nil, errors.Errorf("cannot infer type from %v", field.Type)
	}

	var indexes []IndexConfig
	var desc bool
	if tag == "" {
		return fc, nil, nil
	}

	parts := strings.Split(tag, ",")
	if !strings.Contains(parts[0], "=") {
		if parts[0] != "" {
			fc.Name = parts[0]
		}
		parts = parts[1:]
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, hasValue := strings.Cut(part, "=")
		switch key {
		case "required", "not_null":
			fc.Required = true
		case "desc":
			desc = true
		case "text":
			fc.Specifier = "text"
		case "type":
			if kind := ParseKind(value); kind != KindClass && kind != KindInvalid {
				fc.Kind = kind
				fc.Type = ""
			} else {
				fc.Specifier = value
			}
		case "maxlength", "size":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "invalid %s", key)
			}
			fc.MaxLength = n
		case "minlength":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "invalid %s", key)
			}
			fc.MinLength = n
		case "precision":
			p, err := parsePrecision(value)
			if err != nil {
				return nil, nil, err
			}
			fc.Precision = p
		case "index", "unique":
			name := value
			if !hasValue || name == "" {
				prefix := "idx_"
				if key == "unique" {
					prefix = "uk_"
				}
				name = prefix + fc.Name
			}
			indexes = append(indexes, IndexConfig{
				Name:   name,
				Unique: key == "unique",
				Fields: []IndexField{{Name: fc.Name}},
			})
		default:
			return nil, nil, errors.Errorf("unknown tag option %q", key)
		}
	}

	if desc {
		for i := range indexes {
			indexes[i].Fields[0].Desc = true
		}
	}
	return fc, indexes, nil
}

func parsePrecision(value string) (*Precision, error) {
	digits, decimals, _ := strings.Cut(value, ":")
	d, err := strconv.Atoi(digits)
	if err != nil {
		return nil, errors.Wrap(err, "invalid precision")
	}
	p := &Precision{Digits: d}
	if decimals != "" {
		if p.Decimals, err = strconv.Atoi(decimals); err != nil {
			return nil, errors.Wrap(err, "invalid precision")
		}
	}
	return p, nil
}

// elemType 去掉指针和切片，返回元素类型
func elemType(t reflect.Type) reflect.Type {
	for {
		switch {
		case t.Kind() == reflect.Ptr:
			t = t.Elem()
		case t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8:
			t = t.Elem()
		default:
			return t
		}
	}
}

// inferKind 从 Go 类型推断字段类型
func inferKind(t reflect.Type) (FieldKind, string) {
	switch t {
	case timeType:
		return KindDate, ""
	case regexpType:
		return KindRegExp, ""
	}

	switch t.Kind() {
	case reflect.String:
		return KindString, ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInteger, ""
	case reflect.Float32, reflect.Float64:
		return KindNumber, ""
	case reflect.Bool:
		return KindBoolean, ""
	case reflect.Struct:
		return KindClass, t.Name()
	case reflect.Map, reflect.Interface, reflect.Slice:
		return KindObject, ""
	default:
		return KindInvalid, ""
	}
}
