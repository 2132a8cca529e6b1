package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hatlonely/docrdb/table"
)

var dryRunMigrate bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the CREATE statements for the declared classes",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		defer app.Close()
		return app.export(cmd.OutOrStdout(), classes)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or alter tables to match the declared classes",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		defer app.Close()
		if err := app.connect(cmd.Context()); err != nil {
			return err
		}
		return app.migrate(cmd.Context(), cmd.OutOrStdout(), classes, dryRunMigrate)
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop every table of the declared classes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEach(cmd, "🗑️  dropped", func(app *App, ctx context.Context, class string) error {
			return app.tables.DropTables(ctx, class)
		})
	},
}

var truncateCmd = &cobra.Command{
	Use:   "truncate",
	Short: "Remove all rows from the tables of the declared classes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEach(cmd, "🧹 truncated", func(app *App, ctx context.Context, class string) error {
			return app.tables.TruncateTables(ctx, class)
		})
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&dryRunMigrate, "dry-run", false, "print the statements without executing them")
}

func runEach(cmd *cobra.Command, verb string, fn func(app *App, ctx context.Context, class string) error) error {
	app, err := setup()
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.connect(cmd.Context()); err != nil {
		return err
	}
	roots, err := app.roots(classes)
	if err != nil {
		return err
	}
	for _, class := range roots {
		if err := fn(app, cmd.Context(), class); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, color.CyanString(class))
	}
	return nil
}

func (a *App) export(w io.Writer, classes []string) error {
	roots, err := a.roots(classes)
	if err != nil {
		return err
	}
	for _, class := range roots {
		stmts, err := a.exportTables(class)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "-- %s\n", class)
		for _, stmt := range stmts {
			fmt.Fprintf(w, "%s;\n", stmt)
		}
	}
	return nil
}

// exportTables 导出只用到方言，未连接时不需要连接管理器
func (a *App) exportTables(class string) ([]string, error) {
	if a.tables != nil {
		return a.tables.ExportTables(class)
	}
	return table.NewManager(a.d, nil, &a.options.Table).ExportTables(class)
}

// migrate 打印并执行每个类的迁移语句，dryRun 时只打印
func (a *App) migrate(ctx context.Context, w io.Writer, classes []string, dryRun bool) error {
	roots, err := a.roots(classes)
	if err != nil {
		return err
	}
	for _, class := range roots {
		if dryRun {
			migration, err := a.tables.UpsertTablesSQL(ctx, class)
			if err != nil {
				return err
			}
			printMigration(w, class, migration.Statements())
			continue
		}

		migration, err := a.tables.Apply(ctx, class)
		if err != nil {
			return err
		}
		printMigration(w, class, migration.Statements())
	}
	return nil
}

func printMigration(w io.Writer, class string, stmts []string) {
	if len(stmts) == 0 {
		fmt.Fprintf(w, "✅ %s is up to date\n", color.CyanString(class))
		return
	}
	fmt.Fprintf(w, "📦 %s\n", color.CyanString(class))
	for _, stmt := range stmts {
		fmt.Fprintf(w, "  %s\n", color.GreenString(stmt))
	}
}
