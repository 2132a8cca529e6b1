package cfg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load 读取配置文件到 object，格式由扩展名决定（yaml/yml、toml、json）
// 依次设置 def 默认值、解码文件内容、按 validate 规则校验
func Load(path string, object any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	if err := LoadData(data, Format(path), object); err != nil {
		return errors.WithMessagef(err, "load config %s", path)
	}
	return nil
}

// Format 按扩展名推断配置格式
func Format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	}
	return ""
}

func LoadData(data []byte, format string, object any) error {
	if err := SetDefaults(object); err != nil {
		return err
	}
	m, err := Parse(data, format)
	if err != nil {
		return err
	}
	if err := Decode(m, object); err != nil {
		return err
	}
	return Validate(object)
}

// Parse 解析为通用的 map
func Parse(data []byte, format string) (map[string]any, error) {
	m := map[string]any{}
	var err error
	switch format {
	case "yaml":
		err = yaml.Unmarshal(data, &m)
	case "toml":
		err = toml.Unmarshal(data, &m)
	case "json":
		err = json.Unmarshal(data, &m)
	default:
		return nil, errors.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", format)
	}
	return m, nil
}
