package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/BaSui01/duochat/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

const migrateUsage = `Database Migration Commands

Usage:
  duochat migrate <subcommand> [options]

Subcommands:
  up            Apply all pending migrations
  down          Roll back the last migration (--all rolls back everything)
  steps <n>     Apply n migrations, or roll back when n is negative
  status        Show migration status
  version       Show current migration version
  force <v>     Set the migration version without running it (fixes a dirty state)

Options:
  --config <path>   Path to configuration file (YAML)
  --driver <name>   Override database.driver (sqlite, postgres, mysql)

Examples:
  duochat migrate up --config /etc/duochat/config.yaml
  duochat migrate status
  duochat migrate force 1`

func runMigrate(args []string) error {
	if len(args) < 1 {
		fmt.Println(migrateUsage)
		return errors.New("missing migrate subcommand")
	}
	sub, rest := args[0], args[1:]
	if sub == "help" || sub == "-h" || sub == "--help" {
		fmt.Println(migrateUsage)
		return nil
	}

	// 位置参数可能是负数，先于 flag 解析取出
	var positional []string
	if len(rest) > 0 {
		if _, err := strconv.Atoi(rest[0]); err == nil {
			positional, rest = rest[:1], rest[1:]
		}
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	driver := fs.String("driver", "", "Database driver override")
	all := fs.Bool("all", false, "Roll back all migrations (down only)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	logger := initLogger(cfg.Log, true)
	defer func() { _ = logger.Sync() }()

	m, err := migration.Open(cfg.Database, migration.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	return dispatchMigrate(context.Background(), cli, sub, *all, append(positional, fs.Args()...), os.Stdout)
}

// dispatchMigrate 执行子命令，positional 为子命令的位置参数
func dispatchMigrate(ctx context.Context, cli *migration.CLI, sub string, all bool, positional []string, out io.Writer) error {
	cli.SetOutput(out)
	switch sub {
	case "up":
		return cli.RunUp(ctx)
	case "down":
		if all {
			return cli.RunDownAll(ctx)
		}
		return cli.RunDown(ctx)
	case "steps":
		n, err := intArg(positional, "steps")
		if err != nil {
			return err
		}
		return cli.RunSteps(ctx, n)
	case "status":
		return cli.RunStatus(ctx)
	case "version":
		return cli.RunVersion(ctx)
	case "force":
		v, err := intArg(positional, "force")
		if err != nil {
			return err
		}
		return cli.RunForce(ctx, v)
	default:
		return fmt.Errorf("unknown migrate subcommand: %s", sub)
	}
}

func intArg(args []string, sub string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("migrate %s requires exactly one numeric argument", sub)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("migrate %s: invalid number %q", sub, args[0])
	}
	return n, nil
}
