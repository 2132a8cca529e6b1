package writer

import (
	"io"

	"github.com/pkg/errors"
)

// Writer 日志输出器接口
type Writer interface {
	io.Writer
	io.Closer
}

// Options 输出器配置，Type 决定使用哪一组配置
type Options struct {
	Type string `cfg:"type" def:"console" validate:"omitempty,oneof=console file multi"`

	Console ConsoleWriterOptions `cfg:"console"`
	File    FileWriterOptions    `cfg:"file"`
	Writers []Options            `cfg:"writers"`
}

// New 按配置创建输出器，Type 为空时输出到控制台
func New(options *Options) (Writer, error) {
	if options == nil {
		return NewConsoleWriterWithOptions(nil)
	}
	switch options.Type {
	case "", "console":
		return NewConsoleWriterWithOptions(&options.Console)
	case "file":
		return NewFileWriterWithOptions(&options.File)
	case "multi":
		return NewMultiWriterWithOptions(&MultiWriterOptions{Writers: options.Writers})
	}
	return nil, errors.Errorf("unsupported writer type %q", options.Type)
}
