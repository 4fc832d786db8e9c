package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/BaSui01/structflow/internal/migration"
)

// runMigrate 处理审计表迁移子命令
func runMigrate(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: structflow migrate up|down|status|version|goto <v>|force <v>|reset")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "up", "down", "reset", "status", "version", "goto", "force":
	default:
		return fmt.Errorf("unknown migrate subcommand: %s", sub)
	}

	// goto / force 的第一个参数是版本号
	var version int64
	if sub == "goto" || sub == "force" {
		if len(rest) < 1 {
			return fmt.Errorf("usage: structflow migrate %s <version>", sub)
		}
		v, err := strconv.ParseInt(rest[0], 10, 32)
		if err != nil || (sub == "goto" && v < 0) {
			return fmt.Errorf("invalid version number: %s", rest[0])
		}
		version, rest = v, rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := registerCommonFlags(fs)
	driver := fs.String("driver", "", "Database driver override: postgres, mysql, sqlite")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	m, err := migration.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(stdout)
	return runMigrateCommand(context.Background(), cli, sub, version)
}

func runMigrateCommand(ctx context.Context, cli *migration.CLI, sub string, version int64) error {
	switch sub {
	case "up":
		return cli.RunUp(ctx)
	case "down":
		return cli.RunDown(ctx)
	case "reset":
		return cli.RunDownAll(ctx)
	case "status":
		return cli.RunStatus(ctx)
	case "version":
		return cli.RunVersion(ctx)
	case "goto":
		return cli.RunGoto(ctx, uint(version))
	case "force":
		return cli.RunForce(ctx, int(version))
	default:
		return fmt.Errorf("unknown migrate subcommand: %s", sub)
	}
}
