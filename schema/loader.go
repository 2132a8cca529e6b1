package schema

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileOptions schema 文件格式
//
//	classes:
//	  - name: User
//	    store: users
//	    indices:
//	      - fields: [{name: email}]
//	        unique: true
//	    fields:
//	      - {name: email, type: string, required: true, maxlength: 128}
//	      - {name: address, type: Address}
//	      - {name: tags, type: string, array: true}
type FileOptions struct {
	Classes []ClassOptions `yaml:"classes" json:"classes"`
}

type ClassOptions struct {
	Name    string         `yaml:"name" json:"name"`
	Store   string         `yaml:"store" json:"store"`
	Base    string         `yaml:"base" json:"base"`
	Fields  []FieldOptions `yaml:"fields" json:"fields"`
	Indices []IndexConfig  `yaml:"indices" json:"indices"`
}

type FieldOptions struct {
	Name      string     `yaml:"name" json:"name"`
	Type      string     `yaml:"type" json:"type"`
	Array     bool       `yaml:"array" json:"array"`
	Required  bool       `yaml:"required" json:"required"`
	Precision *Precision `yaml:"precision" json:"precision"`
	MaxLength int        `yaml:"maxlength" json:"maxlength"`
	MinLength int        `yaml:"minlength" json:"minlength"`
	Specifier string     `yaml:"specifier" json:"specifier"`
}

// LoadFile 从 yaml 文件加载类定义
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read schema file %s", path)
	}
	return Load(data)
}

// Load 从 yaml 内容加载类定义
func Load(data []byte) (*Registry, error) {
	var options FileOptions
	if err := yaml.Unmarshal(data, &options); err != nil {
		return nil, errors.Wrap(err, "decode schema")
	}

	reg := NewRegistry()
	for _, c := range options.Classes {
		class := &ClassConfig{
			Name:    c.Name,
			Store:   c.Store,
			Base:    c.Base,
			Indices: c.Indices,
		}
		for _, f := range c.Fields {
			fc := &FieldConfig{
				Name:      f.Name,
				Kind:      ParseKind(f.Type),
				Array:     f.Array,
				Required:  f.Required,
				Precision: f.Precision,
				MaxLength: f.MaxLength,
				MinLength: f.MinLength,
				Specifier: f.Specifier,
			}
			if fc.Kind == KindClass {
				fc.Type = f.Type
			}
			class.Fields = append(class.Fields, fc)
		}
		if err := reg.Register(class); err != nil {
			return nil, err
		}
	}

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}
