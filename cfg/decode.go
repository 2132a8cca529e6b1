package cfg

import (
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// Decode 将通用的 map 解码到结构体，键名取 cfg tag，没有 tag 时按字段名忽略大小写匹配
func Decode(src any, object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return decodeValue(src, rv.Elem(), "")
}

func decodeValue(src any, dst reflect.Value, path string) error {
	if src == nil {
		return nil
	}
	wrap := func(err error) error {
		if path == "" {
			return err
		}
		return errors.WithMessagef(err, "key %s", path)
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
			// 新分配的结构体先填充默认值
			if err := setDefaults(dst.Elem()); err != nil {
				return wrap(err)
			}
		}
		return decodeValue(src, dst.Elem(), path)
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) && dst.Kind() != reflect.Map && dst.Kind() != reflect.Slice {
		dst.Set(sv)
		return nil
	}

	switch dst.Type() {
	case durationType:
		d, err := cast.ToDurationE(src)
		if err != nil {
			return wrap(err)
		}
		dst.SetInt(int64(d))
		return nil
	case timeType:
		t, err := cast.ToTimeE(src)
		if err != nil {
			return wrap(err)
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		s, err := cast.ToStringE(src)
		if err != nil {
			return wrap(err)
		}
		dst.SetString(s)
	case reflect.Bool:
		b, err := cast.ToBoolE(src)
		if err != nil {
			return wrap(err)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(src)
		if err != nil {
			return wrap(err)
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(src)
		if err != nil {
			return wrap(err)
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(src)
		if err != nil {
			return wrap(err)
		}
		dst.SetFloat(f)
	case reflect.Interface:
		if dst.NumMethod() != 0 {
			return wrap(errors.Errorf("cannot decode into %v", dst.Type()))
		}
		dst.Set(sv)
	case reflect.Slice:
		if sv.Kind() != reflect.Slice && sv.Kind() != reflect.Array {
			return wrap(errors.Errorf("expected a list, got %T", src))
		}
		slice := reflect.MakeSlice(dst.Type(), sv.Len(), sv.Len())
		for i := 0; i < sv.Len(); i++ {
			if err := decodeValue(sv.Index(i).Interface(), slice.Index(i), path+"["+cast.ToString(i)+"]"); err != nil {
				return err
			}
		}
		dst.Set(slice)
	case reflect.Map:
		if sv.Kind() != reflect.Map {
			return wrap(errors.Errorf("expected a map, got %T", src))
		}
		if dst.Type().Key().Kind() != reflect.String {
			return wrap(errors.Errorf("unsupported map key %v", dst.Type().Key()))
		}
		if dst.IsNil() {
			dst.Set(reflect.MakeMap(dst.Type()))
		}
		iter := sv.MapRange()
		for iter.Next() {
			key := cast.ToString(iter.Key().Interface())
			value := reflect.New(dst.Type().Elem()).Elem()
			if existing := dst.MapIndex(reflect.ValueOf(key).Convert(dst.Type().Key())); existing.IsValid() {
				value.Set(existing)
			} else if err := setDefaults(value); err != nil {
				return wrap(err)
			}
			if err := decodeValue(iter.Value().Interface(), value, join(path, key)); err != nil {
				return err
			}
			dst.SetMapIndex(reflect.ValueOf(key).Convert(dst.Type().Key()), value)
		}
	case reflect.Struct:
		return decodeStruct(sv, dst, path)
	default:
		return wrap(errors.Errorf("unsupported type %v", dst.Type()))
	}
	return nil
}

func decodeStruct(sv reflect.Value, dst reflect.Value, path string) error {
	if sv.Kind() != reflect.Map {
		return errors.Errorf("key %s: expected a map, got %v", path, sv.Type())
	}
	keys := make(map[string]reflect.Value, sv.Len())
	iter := sv.MapRange()
	for iter.Next() {
		keys[cast.ToString(iter.Key().Interface())] = iter.Value()
	}

	rt := dst.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("cfg")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}

		value, ok := keys[name]
		if !ok {
			for k, v := range keys {
				if strings.EqualFold(k, name) {
					value, ok = v, true
					break
				}
			}
		}
		if !ok {
			continue
		}
		if err := decodeValue(value.Interface(), dst.Field(i), join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
