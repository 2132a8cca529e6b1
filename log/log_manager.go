package log

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/hatlonely/docrdb/log/logger"
)

// Options 具名日志器配置，名称为 default 的日志器作为默认日志器
type Options map[string]*logger.SLogOptions

type LogManager struct {
	loggers       map[string]logger.Logger
	defaultLogger logger.Logger
}

func NewLogManagerWithOptions(options Options) (*LogManager, error) {
	manager := &LogManager{
		loggers: make(map[string]logger.Logger),
	}

	for name, opts := range options {
		if opts == nil {
			continue
		}
		l, err := logger.NewSLogWithOptions(opts)
		if err != nil {
			_ = manager.Close()
			return nil, errors.WithMessagef(err, "failed to create logger '%s'", name)
		}
		manager.loggers[name] = l
		if name == "default" {
			manager.defaultLogger = l
		}
	}

	if manager.defaultLogger == nil {
		manager.defaultLogger = Default()
	}
	return manager, nil
}

// GetLogger 获取指定名称的日志器，找不到时返回默认日志器
func (m *LogManager) GetLogger(name string) logger.Logger {
	if l, ok := m.loggers[name]; ok {
		return l
	}
	return m.defaultLogger
}

func (m *LogManager) GetLoggerExists(name string) (logger.Logger, bool) {
	l, exists := m.loggers[name]
	return l, exists
}

// ListLoggers 返回所有已注册的日志器名称，按名称排序
func (m *LogManager) ListLoggers() []string {
	names := make([]string, 0, len(m.loggers))
	for name := range m.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *LogManager) GetDefault() logger.Logger {
	return m.defaultLogger
}

func (m *LogManager) SetDefault(l logger.Logger) {
	if l != nil {
		m.defaultLogger = l
	}
}

func (m *LogManager) SetDefaultByName(name string) error {
	if l, ok := m.loggers[name]; ok {
		m.defaultLogger = l
		return nil
	}
	return errors.Errorf("logger '%s' not found", name)
}

// Close 关闭所有日志器的输出器
func (m *LogManager) Close() error {
	var lastErr error
	for _, l := range m.loggers {
		if c, ok := l.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}
