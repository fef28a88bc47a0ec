package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/db"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/migrate"
)

const usage = `usage: migrate [-dir path] <command> [arg]

commands:
  up | down | redo | status | version
                              goose against VY_DB_DSN (postgres)
  to <version>                migrate up or down to a 14-digit version, 0 for empty
  create <name>               write a new timestamped migration file
  validate                    check the migration directory without a database
  bootstrap                   sqlite only: build the schema and seed the id range
`

func main() {
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	_ = godotenv.Load()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	if err := run(context.Background(), logg, *dir, flag.Arg(0), flag.Arg(1)); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, dir, cmd, arg string) error {
	// file-only commands never touch config or the database
	switch cmd {
	case "create":
		if arg == "" {
			return errors.New("missing migration name")
		}
		path, err := migrate.CreateSQLMigration(dir, arg)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(dir); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": cmd, "dir": dir})

	if cfg.DB.IsSQLite() != (cmd == "bootstrap") {
		return fmt.Errorf("%s is not available on the %s driver", cmd, cfg.DB.Driver)
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer client.Close()

	if cmd == "bootstrap" {
		seeded, err := migrate.Bootstrap(ctx, client.DB(), cfg.Numbers.Min, cfg.Numbers.Max)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "seeded", seeded), "migrate.bootstrapped")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	if cmd == "to" {
		target, err := migrate.ParseVersion(arg)
		if err != nil {
			return err
		}
		return migrate.To(ctx, sqlDB, dir, target)
	}
	return migrate.Run(ctx, sqlDB, dir, cmd)
}
