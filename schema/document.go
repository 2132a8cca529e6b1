package schema

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// fieldName 返回结构体字段对应的文档字段名
func fieldName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("rdb")
	if tag == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" || strings.Contains(name, "=") {
		name = field.Name
	}
	return name, true
}

// ToDocument 结构体转换为文档，nil 指针和 nil 切片不会出现在结果中
func ToDocument(v any) (Document, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, errors.New("nil value")
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Map {
		if doc, ok := rv.Interface().(Document); ok {
			return doc, nil
		}
	}
	if rv.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected struct, got %T", v)
	}
	return structToDocument(rv), nil
}

func structToDocument(rv reflect.Value) Document {
	doc := Document{}
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name, ok := fieldName(field)
		if !ok {
			continue
		}
		if value, ok := toDocumentValue(rv.Field(i)); ok {
			doc[name] = value
		}
	}
	return doc
}

func toDocumentValue(rv reflect.Value) (any, bool) {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, false
		}
		if re, ok := rv.Interface().(*regexp.Regexp); ok {
			return re, true
		}
		return toDocumentValue(rv.Elem())
	case reflect.Map:
		if rv.IsNil() {
			return nil, false
		}
		return rv.Interface(), true
	case reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface(), true
		}
		values := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			value, _ := toDocumentValue(rv.Index(i))
			values = append(values, value)
		}
		return values, true
	case reflect.Struct:
		if rv.Type() == timeType {
			return rv.Interface(), true
		}
		if rv.Type() == regexpType {
			re := rv.Interface().(regexp.Regexp)
			return &re, true
		}
		return structToDocument(rv), true
	default:
		return rv.Interface(), true
	}
}

// FromDocument 文档转换为结构体，dest 必须是结构体指针
func FromDocument(doc Document, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.New("dest must be a pointer to struct")
	}
	return documentToStruct(doc, rv.Elem())
}

func documentToStruct(doc Document, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name, ok := fieldName(field)
		if !ok {
			continue
		}
		value, exists := doc[name]
		if !exists || value == nil {
			continue
		}
		if err := setFieldValue(rv.Field(i), value); err != nil {
			return errors.Wrapf(err, "failed to set field %s", name)
		}
	}
	return nil
}

// setFieldValue 设置字段值，处理数据库读出的类型与结构体字段类型的差异
func setFieldValue(fieldValue reflect.Value, value any) error {
	if value == nil {
		return nil
	}
	fieldType := fieldValue.Type()

	switch fieldType.Kind() {
	case reflect.Ptr:
		if fieldType == reflect.TypeOf(&regexp.Regexp{}) {
			re, err := toRegexp(value)
			if err != nil {
				return err
			}
			fieldValue.Set(reflect.ValueOf(re))
			return nil
		}
		elem := reflect.New(fieldType.Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		fieldValue.Set(elem)
		return nil
	case reflect.Struct:
		if fieldType == timeType {
			t, ok := value.(time.Time)
			if !ok {
				return errors.Errorf("cannot convert %T to time.Time", value)
			}
			fieldValue.Set(reflect.ValueOf(t))
			return nil
		}
		if fieldType == regexpType {
			re, err := toRegexp(value)
			if err != nil {
				return err
			}
			fieldValue.Set(reflect.ValueOf(*re))
			return nil
		}
		doc, ok := value.(Document)
		if !ok {
			return errors.Errorf("cannot convert %T to %v", value, fieldType)
		}
		return documentToStruct(doc, fieldValue)
	case reflect.Slice:
		values, ok := value.([]any)
		if !ok {
			break
		}
		slice := reflect.MakeSlice(fieldType, len(values), len(values))
		for i, v := range values {
			if err := setFieldValue(slice.Index(i), v); err != nil {
				return err
			}
		}
		fieldValue.Set(slice)
		return nil
	case reflect.Bool:
		switch v := value.(type) {
		case int64:
			fieldValue.SetBool(v != 0)
			return nil
		case bool:
			fieldValue.SetBool(v)
			return nil
		}
	}

	valueType := reflect.TypeOf(value)
	if valueType.AssignableTo(fieldType) {
		fieldValue.Set(reflect.ValueOf(value))
		return nil
	}
	if valueType.ConvertibleTo(fieldType) && isNumeric(valueType.Kind()) == isNumeric(fieldType.Kind()) {
		fieldValue.Set(reflect.ValueOf(value).Convert(fieldType))
		return nil
	}
	return errors.Errorf("cannot convert %v to %v", valueType, fieldType)
}

func toRegexp(value any) (*regexp.Regexp, error) {
	switch v := value.(type) {
	case *regexp.Regexp:
		return v, nil
	case string:
		return regexp.Compile(v)
	default:
		return nil, errors.Errorf("cannot convert %T to regexp", value)
	}
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
