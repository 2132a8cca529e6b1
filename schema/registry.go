package schema

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Document 文档实例
type Document = map[string]any

// Registry 类注册表，同时充当 schema 和 model 两类元数据来源
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*ClassConfig

	// memo 由类定义派生的元数据，注册新类时清空
	memo sync.Map
}

func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*ClassConfig)}
}

// Register 注册类定义，字段的 Owner 统一设置为该类
func (r *Registry) Register(c *ClassConfig) error {
	if c == nil || c.Name == "" {
		return errors.New("class name is required")
	}

	fields := make([]*FieldConfig, 0, len(c.Fields))
	seen := make(map[string]struct{}, len(c.Fields))
	for _, f := range c.Fields {
		if f.Name == "" {
			return errors.Errorf("class %s: field name is required", c.Name)
		}
		if _, ok := seen[f.Name]; ok {
			return errors.Errorf("class %s: duplicate field %s", c.Name, f.Name)
		}
		if f.Kind == KindInvalid {
			return errors.Errorf("class %s: field %s has no type", c.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
		fc := *f
		fc.Owner = c.Name
		fields = append(fields, &fc)
	}

	cc := &ClassConfig{
		Name:    c.Name,
		Store:   c.Store,
		Base:    c.Base,
		Root:    c.Base == "" && (c.Root || c.Store != ""),
		Fields:  fields,
		Indices: append([]IndexConfig(nil), c.Indices...),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// 已作为根类注册的类型再次作为嵌套类型注册时保留根类信息
	if existing, ok := r.classes[c.Name]; ok && existing.Root && cc.Base == "" && !cc.Root {
		cc.Root = true
		if cc.Store == "" {
			cc.Store = existing.Store
		}
	}
	if cc.Store == "" {
		cc.Store = strings.ToLower(c.Name)
	}
	r.classes[c.Name] = cc
	r.memo.Clear()
	return nil
}

// Memo 返回 key 对应的派生元数据，不存在时调用 build 计算并缓存
// 并发调用可能重复计算，只保留先写入的结果
func (r *Registry) Memo(key any, build func() (any, error)) (any, error) {
	if v, ok := r.memo.Load(key); ok {
		return v, nil
	}
	v, err := build()
	if err != nil {
		return nil, err
	}
	actual, _ := r.memo.LoadOrStore(key, v)
	return actual, nil
}

// Validate 检查所有嵌套类型都已注册
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.classes {
		if c.Base != "" {
			if _, ok := r.classes[c.Base]; !ok {
				return errors.Errorf("class %s: unknown base class %s", c.Name, c.Base)
			}
		}
		for _, f := range c.Fields {
			if f.Kind != KindClass {
				continue
			}
			if _, ok := r.classes[f.Type]; !ok {
				return errors.Errorf("class %s: field %s references unknown class %s", c.Name, f.Name, f.Type)
			}
		}
	}
	return nil
}

// Config 返回类定义
func (r *Registry) Config(class string) (*ClassConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.classes[class]
	if !ok {
		return nil, errors.Errorf("class %s is not registered", class)
	}
	return c, nil
}

// Has 类型本身是否为已注册的嵌套类
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.classes[typ]
	return ok
}

// DiscriminatedClasses 返回以 base 为基类的所有子类，按名称排序
func (r *Registry) DiscriminatedClasses(base string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []string
	for name, c := range r.classes {
		if c.Base == base {
			subs = append(subs, name)
		}
	}
	sort.Strings(subs)
	return subs
}

// StoreName 返回根集合名
func (r *Registry) StoreName(class string) (string, error) {
	c, err := r.Config(class)
	if err != nil {
		return "", err
	}
	return c.Store, nil
}

// Indices 返回类声明的索引
func (r *Registry) Indices(class string) ([]IndexConfig, error) {
	c, err := r.Config(class)
	if err != nil {
		return nil, err
	}
	return c.Indices, nil
}

// IsRoot 类是否拥有自己的根表
func (r *Registry) IsRoot(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.classes[class]
	return ok && c.Root
}

// Roots 返回所有根类，按名称排序
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, c := range r.classes {
		if c.Root {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Classes 返回所有已注册的类名
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
