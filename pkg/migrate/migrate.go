package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
)

const DefaultDir = "pkg/migrate/migrations"

var dialectOnce = sync.OnceValue(func() error {
	return goose.SetDialect("postgres")
})

// Commands accepted by Run. Anything else goes through To or the bootstrap path.
var gooseCommands = map[string]bool{
	"up":      true,
	"down":    true,
	"status":  true,
	"redo":    true,
	"version": true,
}

// Run executes a goose command against a postgres database.
func Run(ctx context.Context, db *sql.DB, dir, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if !gooseCommands[command] {
		return fmt.Errorf("unsupported goose command %q", command)
	}
	if err := dialectOnce(); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// ParseVersion reads a YYYYMMDDHHMMSS migration version. "0" means before
// the first migration.
func ParseVersion(raw string) (int64, error) {
	if raw == "0" {
		return 0, nil
	}
	if len(raw) != len(versionLayout) {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", raw)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", raw, err)
	}
	return v, nil
}

// To moves the schema up or down until the database sits at target. Target
// must name a migration present in dir.
func To(ctx context.Context, db *sql.DB, dir string, target int64) error {
	files, err := scanDir(dir)
	if err != nil {
		return err
	}
	known := target == 0
	for _, f := range files {
		if f.Version == target {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("no migration with version %d in %q", target, dir)
	}

	if err := dialectOnce(); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current < target:
		err = goose.UpToContext(ctx, db, dir, target)
	case current > target:
		err = goose.DownToContext(ctx, db, dir, target)
	}
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}
