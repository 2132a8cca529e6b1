package main

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hatlonely/docrdb/dialect"
	"github.com/hatlonely/docrdb/schema"
	"github.com/hatlonely/docrdb/table"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Migrate again whenever the schema file changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		defer app.Close()
		if err := app.connect(cmd.Context()); err != nil {
			return err
		}
		if err := app.migrate(cmd.Context(), cmd.OutOrStdout(), classes, false); err != nil {
			return err
		}
		return app.watch(cmd.Context(), cmd.OutOrStdout(), schemaFile, watchDebounce)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond, "wait this long after the last change before migrating")
}

// watch 监听类定义文件所在目录，文件变化后重新加载并迁移，直到 ctx 结束
func (a *App) watch(ctx context.Context, w io.Writer, path string, debounce time.Duration) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "invalid schema path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	// 编辑器保存时可能先删除再创建文件，所以监听目录
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return errors.Wrap(err, "failed to add directory to watcher")
	}

	logger := a.logs.GetDefault()
	logger.InfoContext(ctx, "watching schema", "path", absPath)

	var timer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer = time.After(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "watcher error", "error", err)
		case <-timer:
			timer = nil
			a.onSchemaChanged(ctx, w, absPath)
		}
	}
}

// onSchemaChanged 失败只记录日志，继续监听
func (a *App) onSchemaChanged(ctx context.Context, w io.Writer, path string) {
	logger := a.logs.GetDefault()
	reg, err := schema.LoadFile(path)
	if err != nil {
		logger.ErrorContext(ctx, "reload schema failed", "path", path, "error", err)
		return
	}
	if err := a.reload(reg); err != nil {
		logger.ErrorContext(ctx, "reload schema failed", "path", path, "error", err)
		return
	}
	if err := a.migrate(ctx, w, classes, false); err != nil {
		logger.ErrorContext(ctx, "migrate failed", "path", path, "error", err)
		return
	}
	logger.InfoContext(ctx, "schema migrated", "path", path)
}

// reload 切换到新的类定义，连接保持不变
func (a *App) reload(reg *schema.Registry) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	d, err := dialect.NewWithOptions(reg, &a.options.Dialect)
	if err != nil {
		return err
	}
	a.reg = reg
	a.d = d
	if a.conns != nil {
		a.tables = table.NewManager(d, a.conns, &a.options.Table)
		a.tables.SetLogger(a.logs.GetLogger("table"))
	}
	return nil
}
