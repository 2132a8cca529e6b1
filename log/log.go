package log

import (
	"sync/atomic"

	"github.com/hatlonely/docrdb/log/logger"
)

var defaultLogger atomic.Value

func init() {
	// 默认向终端输出 text 格式日志
	slog, err := logger.NewSLogWithOptions(&logger.SLogOptions{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger.Store(holder{slog})
}

type holder struct {
	logger.Logger
}

func Default() logger.Logger {
	return defaultLogger.Load().(holder).Logger
}

// SetDefault 替换进程默认日志器，只影响之后通过 Default 获取的日志器
func SetDefault(l logger.Logger) {
	if l != nil {
		defaultLogger.Store(holder{l})
	}
}
