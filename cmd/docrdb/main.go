package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hatlonely/docrdb/schema"
)

var (
	configFile string
	schemaFile string
	classes    []string
)

var rootCmd = &cobra.Command{
	Use:   "docrdb",
	Short: "Map document classes onto relational tables",
	Long: `docrdb manages the relational tables behind document classes.

Examples:

  docrdb export --schema schema.yaml
  docrdb migrate --config docrdb.yaml --schema schema.yaml
  docrdb watch --config docrdb.yaml --schema schema.yaml
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVarP(&schemaFile, "schema", "s", "schema.yaml", "class definitions")
	rootCmd.PersistentFlags().StringSliceVar(&classes, "class", nil, "classes to process, defaults to every class with a store")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(truncateCmd)
	rootCmd.AddCommand(watchCmd)
}

// setup 读取配置和类定义
func setup() (*App, error) {
	options, err := loadOptions(configFile)
	if err != nil {
		return nil, err
	}
	reg, err := schema.LoadFile(schemaFile)
	if err != nil {
		return nil, err
	}
	return newApp(options, reg)
}
