package writer

import (
	"bytes"
	"io"
	"os"

	"github.com/fatih/color"
)

// ConsoleWriterOptions 控制台输出配置
type ConsoleWriterOptions struct {
	// 是否按日志级别着色，输出不是终端时不生效
	Color bool `cfg:"color" def:"true"`
	// 输出目标：stdout, stderr
	Target string `cfg:"target" def:"stdout" validate:"omitempty,oneof=stdout stderr"`
}

// ConsoleWriter 控制台输出器
type ConsoleWriter struct {
	writer io.Writer
	color  bool
}

var levelColors = []struct {
	marks [][]byte
	color *color.Color
}{
	{marks: [][]byte{[]byte("level=ERROR"), []byte(`"level":"ERROR"`)}, color: color.New(color.FgRed)},
	{marks: [][]byte{[]byte("level=WARN"), []byte(`"level":"WARN"`)}, color: color.New(color.FgYellow)},
	{marks: [][]byte{[]byte("level=DEBUG"), []byte(`"level":"DEBUG"`)}, color: color.New(color.Faint)},
}

// NewConsoleWriterWithOptions 创建控制台输出器
func NewConsoleWriterWithOptions(options *ConsoleWriterOptions) (*ConsoleWriter, error) {
	if options == nil {
		options = &ConsoleWriterOptions{Color: true, Target: "stdout"}
	}

	var w io.Writer = os.Stdout
	if options.Target == "stderr" {
		w = os.Stderr
	}

	return &ConsoleWriter{
		writer: w,
		color:  options.Color && !color.NoColor,
	}, nil
}

// Write 实现 io.Writer 接口
func (c *ConsoleWriter) Write(p []byte) (n int, err error) {
	if !c.color {
		return c.writer.Write(p)
	}
	for _, lc := range levelColors {
		for _, mark := range lc.marks {
			if bytes.Contains(p, mark) {
				line := bytes.TrimRight(p, "\n")
				if _, err := c.writer.Write([]byte(lc.color.Sprint(string(line)) + "\n")); err != nil {
					return 0, err
				}
				return len(p), nil
			}
		}
	}
	return c.writer.Write(p)
}

// Close 控制台不需要关闭
func (c *ConsoleWriter) Close() error {
	return nil
}
