package dialect

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hatlonely/docrdb/dberr"
	"github.com/hatlonely/docrdb/schema"
)

const dateLayout = "2006-01-02 15:04:05.000000"

var dateLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ResolveValue 按字段类型渲染 SQL 字面量
func (d *Dialect) ResolveValue(f *schema.FieldConfig, value any) (string, error) {
	if value == nil {
		return "NULL", nil
	}
	unsupported := func() (string, error) {
		return "", dberr.UnsupportedType(f.Name, fmt.Sprintf("%s(%T)", f.Kind, value))
	}

	switch f.Kind {
	case schema.KindString:
		switch v := value.(type) {
		case string:
			return d.engine.QuoteString(v), nil
		case []byte:
			return d.engine.QuoteString(string(v)), nil
		case fmt.Stringer:
			return d.engine.QuoteString(v.String()), nil
		}
		if isNumber(value) || reflect.TypeOf(value).Kind() == reflect.Bool {
			return d.engine.QuoteString(fmt.Sprint(value)), nil
		}
		return unsupported()
	case schema.KindNumber:
		n, ok := toFloat(value)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return unsupported()
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case schema.KindInteger:
		n, ok := toInt(value)
		if !ok {
			return unsupported()
		}
		return strconv.FormatInt(n, 10), nil
	case schema.KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return unsupported()
		}
		if b {
			return "TRUE", nil
		}
		return "FALSE", nil
	case schema.KindDate:
		t, ok := toTime(value)
		if !ok {
			return unsupported()
		}
		return d.engine.QuoteString(t.UTC().Format(dateLayout)), nil
	case schema.KindObject:
		buf, err := json.Marshal(value)
		if err != nil {
			return "", errors.Wrapf(err, "field %s", f.Name)
		}
		return d.engine.QuoteString(string(buf)), nil
	case schema.KindRegExp:
		source, _, ok := regexSource(value)
		if !ok {
			return unsupported()
		}
		return d.engine.QuoteString(source), nil
	case schema.KindClass, schema.KindInvalid:
		return unsupported()
	}
	return unsupported()
}

// DecodeValue 将驱动读出的值还原为字段类型对应的 Go 值
func (d *Dialect) DecodeValue(f *schema.FieldConfig, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	fail := func() (any, error) {
		return nil, errors.Errorf("field %s: cannot decode %T as %s", f.Name, raw, f.Kind)
	}

	switch f.Kind {
	case schema.KindString, schema.KindRegExp:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
		return fmt.Sprint(raw), nil
	case schema.KindNumber:
		if n, ok := toFloat(raw); ok {
			return n, nil
		}
		return fail()
	case schema.KindInteger:
		if n, ok := toInt(raw); ok {
			return n, nil
		}
		return fail()
	case schema.KindBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string, []byte:
			return asBool(v), nil
		}
		if n, ok := toInt(raw); ok {
			return n != 0, nil
		}
		return fail()
	case schema.KindDate:
		if t, ok := toTime(raw); ok {
			return t.UTC(), nil
		}
		return fail()
	case schema.KindObject:
		var data []byte
		switch v := raw.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			return raw, nil
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, errors.Wrapf(err, "field %s", f.Name)
		}
		return value, nil
	}
	return fail()
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		n, err := x.Float64()
		return n, err == nil
	case primitive.Decimal128:
		n, err := strconv.ParseFloat(x.String(), 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(x, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseFloat(string(x), 64)
		return n, err == nil
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float32, float64, json.Number:
		f, _ := toFloat(x)
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case primitive.DateTime:
		return x.Time(), true
	case []byte:
		return parseTime(string(x))
	case string:
		return parseTime(x)
	}
	return time.Time{}, false
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// regexSource 提取正则的源码和是否忽略大小写
func regexSource(v any) (string, bool, bool) {
	switch x := v.(type) {
	case *regexp.Regexp:
		if x == nil {
			return "", false, false
		}
		source := x.String()
		if rest, ok := strings.CutPrefix(source, "(?i)"); ok {
			return rest, true, true
		}
		return source, false, true
	case regexp.Regexp:
		return regexSource(&x)
	case primitive.Regex:
		return x.Pattern, strings.Contains(x.Options, "i"), true
	case string:
		return x, false, true
	}
	return "", false, false
}
