package uid

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Generator 生成根记录 id
type Generator interface {
	Generate() string
}

type UUIDOptions struct {
	// Version uuid 版本
	Version string `cfg:"version" def:"v7" validate:"oneof=v1 v4 v6 v7"`
	// WithHyphens 是否包含中划线，根表 id 列为 36 位
	WithHyphens bool `cfg:"withHyphens" def:"true"`
}

type UUIDGenerator struct {
	version     string
	withHyphens bool
}

func NewUUIDGeneratorWithOptions(options *UUIDOptions) (*UUIDGenerator, error) {
	if options == nil {
		options = &UUIDOptions{Version: "v7", WithHyphens: true}
	}
	version := options.Version
	if version == "" {
		version = "v7"
	}
	switch version {
	case "v1", "v4", "v6", "v7":
	default:
		return nil, errors.Errorf("unsupported uuid version %q", version)
	}

	return &UUIDGenerator{
		version:     version,
		withHyphens: options.WithHyphens,
	}, nil
}

// NewUUIDGenerator 默认生成器，v7 带中划线
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{version: "v7", withHyphens: true}
}

func (g *UUIDGenerator) Generate() string {
	var u uuid.UUID
	switch g.version {
	case "v1":
		u = uuid.Must(uuid.NewUUID())
	case "v4":
		u = uuid.New()
	case "v6":
		u = uuid.Must(uuid.NewV6())
	default:
		u = uuid.Must(uuid.NewV7())
	}

	if g.withHyphens {
		return u.String()
	}
	return hex.EncodeToString(u[:])
}
