package visit

import (
	"github.com/hatlonely/docrdb/schema"
)

// Location 字段按存储位置划分的结果
// Local 为基础类型非数组字段，保存为所属表的列
// Foreign 为嵌套对象或任意数组字段，保存到子表
type Location struct {
	Class   string
	Local   []*schema.FieldConfig
	Foreign []*schema.FieldConfig
}

// Field 按名称查找字段
func (l *Location) Field(name string) (*schema.FieldConfig, bool) {
	for _, f := range l.Local {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range l.Foreign {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

type locationKey struct {
	class string
}

// FieldsByLocation 返回类的字段划分，多态基类会合并所有子类独有的字段（作为可选字段）
// 结果缓存在注册表上
func FieldsByLocation(reg *schema.Registry, class string) (*Location, error) {
	v, err := reg.Memo(locationKey{class: class}, func() (any, error) {
		fields, err := mergedFields(reg, class, map[string]bool{})
		if err != nil {
			return nil, err
		}

		loc := &Location{Class: class}
		for _, f := range fields {
			if f.IsLocal() {
				loc.Local = append(loc.Local, f)
			} else {
				loc.Foreign = append(loc.Foreign, f)
			}
		}
		return loc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Location), nil
}

func mergedFields(reg *schema.Registry, class string, seen map[string]bool) ([]*schema.FieldConfig, error) {
	if seen[class] {
		return nil, nil
	}
	seen[class] = true

	c, err := reg.Config(class)
	if err != nil {
		return nil, err
	}

	fields := append([]*schema.FieldConfig(nil), c.Fields...)
	names := make(map[string]bool, len(fields))
	for _, f := range fields {
		names[f.Name] = true
	}

	for _, sub := range reg.DiscriminatedClasses(class) {
		subFields, err := mergedFields(reg, sub, seen)
		if err != nil {
			return nil, err
		}
		for _, f := range subFields {
			if names[f.Name] {
				continue
			}
			names[f.Name] = true
			fields = append(fields, f.Optional())
		}
	}
	return fields, nil
}
