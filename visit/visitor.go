package visit

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/hatlonely/docrdb/schema"
)

// Decision 回调返回的遍历决策
type Decision int

const (
	Descend Decision = iota // 继续访问子节点
	Skip                    // 跳过当前节点的子树
	Stop                    // 结束整个遍历
)

// Event 回调参数
type Event struct {
	Stack Stack
	// Fields 当前类节点的字段划分，OnSimple 时为 nil
	Fields *Location
	// Field 当前字段，OnRoot 时为 nil
	Field *schema.FieldConfig
	// Value 实例遍历时的节点值，schema 遍历时为 nil
	Value any
}

// Visitor 遍历回调
type Visitor interface {
	OnRoot(e *Event) (Decision, error)
	OnSub(e *Event) (Decision, error)
	OnSimple(e *Event) (Decision, error)
}

// Funcs 用函数实现 Visitor，未设置的回调返回 Descend
type Funcs struct {
	Root   func(e *Event) (Decision, error)
	Sub    func(e *Event) (Decision, error)
	Simple func(e *Event) (Decision, error)
}

func (f Funcs) OnRoot(e *Event) (Decision, error) {
	if f.Root == nil {
		return Descend, nil
	}
	return f.Root(e)
}

func (f Funcs) OnSub(e *Event) (Decision, error) {
	if f.Sub == nil {
		return Descend, nil
	}
	return f.Sub(e)
}

func (f Funcs) OnSimple(e *Event) (Decision, error) {
	if f.Simple == nil {
		return Descend, nil
	}
	return f.Simple(e)
}

type walker struct {
	reg *schema.Registry
	v   Visitor
}

// Walk 深度优先遍历类的 schema，嵌套类字段先于同级的下一个字段被展开
func Walk(reg *schema.Registry, class string, v Visitor) error {
	store, err := reg.StoreName(class)
	if err != nil {
		return err
	}
	loc, err := FieldsByLocation(reg, class)
	if err != nil {
		return err
	}

	w := &walker{reg: reg, v: v}
	stack := NewRoot(class, class, store)
	d, err := v.OnRoot(&Event{Stack: stack, Fields: loc})
	if err != nil || d != Descend {
		return err
	}
	_, err = w.walkFields(stack, loc)
	return err
}

func (w *walker) walkFields(stack Stack, loc *Location) (bool, error) {
	for _, f := range loc.Local {
		d, err := w.v.OnSimple(&Event{Stack: stack.Push(f, 0, false), Field: f})
		if err != nil {
			return false, err
		}
		if d == Stop {
			return false, nil
		}
	}

	for _, f := range loc.Foreign {
		child := stack.Push(f, 0, false)
		if !f.IsClass() {
			d, err := w.v.OnSimple(&Event{Stack: child, Field: f})
			if err != nil {
				return false, err
			}
			if d == Stop {
				return false, nil
			}
			continue
		}

		if stack.contains(f.Type) {
			return false, errors.Errorf("class %s: field %s recursively references %s", f.Owner, f.Name, f.Type)
		}
		sub, err := FieldsByLocation(w.reg, f.Type)
		if err != nil {
			return false, err
		}
		d, err := w.v.OnSub(&Event{Stack: child, Fields: sub, Field: f})
		if err != nil {
			return false, err
		}
		switch d {
		case Stop:
			return false, nil
		case Skip:
			continue
		}
		if ok, err := w.walkFields(child, sub); err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// WalkInstance 遍历文档实例，根节点名替换为记录 id，数组元素带下标，实例中缺失的字段不会被访问
func WalkInstance(reg *schema.Registry, class string, doc schema.Document, v Visitor) error {
	store, err := reg.StoreName(class)
	if err != nil {
		return err
	}
	loc, err := FieldsByLocation(reg, class)
	if err != nil {
		return err
	}
	id, ok := doc["id"].(string)
	if !ok || id == "" {
		return errors.Errorf("class %s: document has no id", class)
	}

	w := &walker{reg: reg, v: v}
	stack := NewRoot(class, id, store)
	d, err := v.OnRoot(&Event{Stack: stack, Fields: loc, Value: doc})
	if err != nil || d != Descend {
		return err
	}
	_, err = w.walkValues(stack, loc, doc)
	return err
}

func (w *walker) walkValues(stack Stack, loc *Location, doc schema.Document) (bool, error) {
	for _, f := range loc.Local {
		value, ok := doc[f.Name]
		if !ok {
			continue
		}
		d, err := w.v.OnSimple(&Event{Stack: stack.Push(f, 0, false), Field: f, Value: value})
		if err != nil {
			return false, err
		}
		if d == Stop {
			return false, nil
		}
	}

	for _, f := range loc.Foreign {
		value, ok := doc[f.Name]
		if !ok || value == nil {
			continue
		}

		if !f.Array {
			ok, err := w.visitSub(stack.Push(f, 0, false), f, value)
			if err != nil || !ok {
				return false, err
			}
			continue
		}

		items, ok := AsArray(value)
		if !ok {
			return false, errors.Errorf("class %s: field %s expects an array, got %T", f.Owner, f.Name, value)
		}
		for i, item := range items {
			child := stack.Push(f, i, true)
			if !f.IsClass() {
				d, err := w.v.OnSimple(&Event{Stack: child, Field: f, Value: item})
				if err != nil {
					return false, err
				}
				if d == Stop {
					return false, nil
				}
				continue
			}
			ok, err := w.visitSub(child, f, item)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func (w *walker) visitSub(child Stack, f *schema.FieldConfig, value any) (bool, error) {
	sub, ok := AsDocument(value)
	if !ok {
		return false, errors.Errorf("class %s: field %s expects an object, got %T", f.Owner, f.Name, value)
	}
	loc, err := FieldsByLocation(w.reg, f.Type)
	if err != nil {
		return false, err
	}
	d, err := w.v.OnSub(&Event{Stack: child, Fields: loc, Field: f, Value: sub})
	if err != nil {
		return false, err
	}
	switch d {
	case Stop:
		return false, nil
	case Skip:
		return true, nil
	}
	return w.walkValues(child, loc, sub)
}

// AsDocument 将 map 类型（包括 bson.M 等具名类型）或结构体转换为 Document
func AsDocument(value any) (schema.Document, bool) {
	if doc, ok := value.(schema.Document); ok {
		return doc, true
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		doc := make(schema.Document, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			doc[iter.Key().String()] = iter.Value().Interface()
		}
		return doc, true
	case reflect.Struct:
		doc, err := schema.ToDocument(rv.Interface())
		return doc, err == nil
	}
	return nil, false
}

// AsArray 将任意切片转换为 []any
func AsArray(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
