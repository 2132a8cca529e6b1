package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hatlonely/docrdb/cfg"
	"github.com/hatlonely/docrdb/conn"
	"github.com/hatlonely/docrdb/dialect"
	"github.com/hatlonely/docrdb/log"
	"github.com/hatlonely/docrdb/observe"
	"github.com/hatlonely/docrdb/schema"
	"github.com/hatlonely/docrdb/table"
)

// Options 命令行配置文件
type Options struct {
	SQL     conn.SQLOptions `cfg:"sql"`
	Dialect dialect.Options `cfg:"dialect"`
	Table   table.Options   `cfg:"table"`
	Observe observe.Options `cfg:"observe"`
	// Log 具名日志器，sql 和 table 分别用于语句日志和迁移日志
	Log log.Options `cfg:"log"`
}

// App 一次命令执行所需的全部组件
type App struct {
	options *Options
	reg     *schema.Registry
	d       *dialect.Dialect
	logs    *log.LogManager

	driver conn.Driver
	conns  *conn.Manager
	tables *table.Manager
}

func loadOptions(path string) (*Options, error) {
	options := &Options{}
	if path == "" {
		if err := cfg.SetDefaults(options); err != nil {
			return nil, err
		}
		return options, nil
	}
	if err := cfg.Load(path, options); err != nil {
		return nil, errors.WithMessagef(err, "load config %s", path)
	}
	return options, nil
}

// newApp 只构建方言，不连接数据库
func newApp(options *Options, reg *schema.Registry) (*App, error) {
	logs, err := log.NewLogManagerWithOptions(options.Log)
	if err != nil {
		return nil, err
	}
	d, err := dialect.NewWithOptions(reg, &options.Dialect)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	return &App{options: options, reg: reg, d: d, logs: logs}, nil
}

// connect 打开连接池：SQLDriver -> observe.Driver -> conn.Manager -> table.Manager
func (a *App) connect(ctx context.Context) error {
	sqlDriver, err := conn.NewSQLDriverWithOptions(&a.options.SQL)
	if err != nil {
		return err
	}
	return a.connectDriver(ctx, sqlDriver)
}

func (a *App) connectDriver(ctx context.Context, driver conn.Driver) error {
	observeOptions := a.options.Observe
	observeOptions.Logger = a.logs.GetLogger("sql")
	observed, err := observe.NewDriverWithOptions(driver, &observeOptions)
	if err != nil {
		_ = driver.Close()
		return err
	}
	if err := observed.Init(ctx); err != nil {
		_ = observed.Close()
		return err
	}

	engine := a.d.Engine()
	begin := engine.BeginSQL("")
	if engine.Capabilities().Isolation {
		begin = engine.BeginSQL(a.options.SQL.Isolation)
	}
	a.driver = observed
	a.conns = conn.NewManager(observed, &conn.ManagerOptions{
		Begin:      begin,
		Savepoints: engine.Capabilities().Savepoints,
		Logger:     a.logs.GetDefault(),
	})
	a.tables = table.NewManager(a.d, a.conns, &a.options.Table)
	a.tables.SetLogger(a.logs.GetLogger("table"))
	return nil
}

// roots 返回需要处理的根类，classes 为空时取所有根类
func (a *App) roots(classes []string) ([]string, error) {
	if len(classes) > 0 {
		for _, class := range classes {
			if _, err := a.reg.Config(class); err != nil {
				return nil, err
			}
			if !a.reg.IsRoot(class) {
				return nil, errors.Errorf("class %s has no store of its own", class)
			}
		}
		return classes, nil
	}

	roots := a.reg.Roots()
	if len(roots) == 0 {
		return nil, errors.New("no class with a store is declared")
	}
	return roots, nil
}

func (a *App) Close() error {
	var err error
	if a.driver != nil {
		err = a.driver.Close()
	}
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}
