package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/tensorgate/relaypool/config"
	"github.com/tensorgate/relaypool/internal/migration"
)

// =============================================================================
// 🗃️ 数据库迁移子命令
// =============================================================================

// runMigrate 分发 migrate 的子命令
func runMigrate(args []string) {
	if len(args) == 0 {
		printMigrateUsage()
		os.Exit(1)
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "up":
		migrateCommand(sub, rest, nil, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunUp(ctx)
		})
	case "down":
		var all bool
		migrateCommand(sub, rest, func(fs *flag.FlagSet) {
			fs.BoolVar(&all, "all", false, "回滚全部迁移而非最近一条")
		}, func(ctx context.Context, cli *migration.CLI) error {
			if all {
				return cli.RunDownAll(ctx)
			}
			return cli.RunDown(ctx)
		})
	case "status":
		migrateCommand(sub, rest, nil, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunStatus(ctx)
		})
	case "version":
		migrateCommand(sub, rest, nil, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunVersion(ctx)
		})
	case "goto":
		version, rest, ok := takeVersionArg(rest)
		if !ok {
			fmt.Fprintln(os.Stderr, "usage: relaypool migrate goto <version>")
			os.Exit(1)
		}
		migrateCommand(sub, rest, nil, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunGoto(ctx, uint(version))
		})
	case "force":
		version, rest, ok := takeVersionArg(rest)
		if !ok {
			fmt.Fprintln(os.Stderr, "usage: relaypool migrate force <version>")
			os.Exit(1)
		}
		migrateCommand(sub, rest, nil, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunForce(ctx, int(version))
		})
	case "reset":
		migrateCommand(sub, rest, nil, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunDownAll(ctx)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand %q\n\n", sub)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Manage the relaypool database schema.

Usage:
  relaypool migrate <subcommand> [options]

Subcommands:
  up        Apply every pending migration
  down      Roll back the most recent migration (--all wipes the schema)
  status    List migrations with their applied state
  version   Print the current schema version
  goto      Step the schema to an exact version
  force     Overwrite the recorded version without running scripts
  reset     Roll back all migrations
  help      Show this message

Options (shared by all subcommands):
  --config <path>     YAML config file to read the database settings from
  --db-type <type>    postgres, mysql or sqlite (overrides config)
  --db-url <url>      Connection URL, used together with --db-type

Examples:
  relaypool migrate up
  relaypool migrate up --config /etc/relaypool/relaypool.yaml
  relaypool migrate down --all
  relaypool migrate goto 1
  relaypool migrate force 0`)
}

// takeVersionArg 消费首个位置参数作为版本号，余下的留给旗标解析
func takeVersionArg(args []string) (uint64, []string, bool) {
	if len(args) == 0 {
		return 0, nil, false
	}
	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, nil, false
	}
	return version, args[1:], true
}

// migrateFlags 所有子命令共用的三个连接旗标
type migrateFlags struct {
	configPath string
	dbType     string
	dbURL      string
}

func registerMigrateFlags(fs *flag.FlagSet) *migrateFlags {
	mf := &migrateFlags{}
	fs.StringVar(&mf.configPath, "config", "", "YAML 配置文件路径")
	fs.StringVar(&mf.dbType, "db-type", "", "数据库方言：postgres、mysql 或 sqlite")
	fs.StringVar(&mf.dbURL, "db-url", "", "数据库连接串，与 --db-type 搭配使用")
	return mf
}

// openMigrator 按旗标装配迁移器：
// 给了完整的 --db-type/--db-url 就直连，否则读配置文件
func (mf *migrateFlags) openMigrator() (*migration.DefaultMigrator, error) {
	if mf.dbType != "" && mf.dbURL != "" {
		return migration.NewMigratorFromURL(mf.dbType, mf.dbURL)
	}

	loader := config.NewLoader()
	if mf.configPath != "" {
		loader = loader.WithConfigPath(mf.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if mf.dbType != "" {
		cfg.Database.Driver = mf.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

// migrateCommand 执行一个子命令，失败时打印原因并以非零码退出
func migrateCommand(name string, args []string, extraFlags func(*flag.FlagSet), run func(context.Context, *migration.CLI) error) {
	if err := migrateExec(name, args, extraFlags, run); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", name, err)
		os.Exit(1)
	}
}

// migrateExec 解析旗标、打开迁移器并运行 run。
// 以返回值而非 os.Exit 报错，保证 Close 总能执行。
func migrateExec(name string, args []string, extraFlags func(*flag.FlagSet), run func(context.Context, *migration.CLI) error) error {
	fs := flag.NewFlagSet("migrate "+name, flag.ExitOnError)
	mf := registerMigrateFlags(fs)
	if extraFlags != nil {
		extraFlags(fs)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	migrator, err := mf.openMigrator()
	if err != nil {
		return err
	}
	defer migrator.Close()

	return run(context.Background(), migration.NewCLI(migrator))
}
