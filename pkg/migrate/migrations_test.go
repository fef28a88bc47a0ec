package migrate_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.NotEmpty(t, matches, "no %s migration found", suffix)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestNumberSlotsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "create_number_slots")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS number_slots",
		"num CHAR(4) PRIMARY KEY",
		"CHECK (status IN ('available', 'reserved', 'sold'))",
		"CHECK ((reserved_by IS NULL) = (reserve_expires IS NULL))",
		"idx_number_slots_status_expires ON number_slots (status, reserve_expires)",
		"DROP TABLE IF EXISTS number_slots",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestSeedMigrationCoversWholeRange(t *testing.T) {
	content := readMigration(t, "seed_number_slots")
	assert.Contains(t, content, "generate_series(1, 9999)")
	assert.Contains(t, content, "ON CONFLICT (num) DO NOTHING")
}

func TestOutboxMigration(t *testing.T) {
	content := readMigration(t, "create_outbox")
	assert.True(t, strings.Contains(content, "CREATE TABLE IF NOT EXISTS outbox_events"))
	assert.True(t, strings.Contains(content, "CREATE TABLE IF NOT EXISTS outbox_dlq"))
}

func TestValidateDir(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))

	cases := map[string]string{
		"bad-name.sql":                  "-- +goose Up\n-- +goose Down\n",
		"20260101000000_no_down.sql":    "-- +goose Up\nSELECT 1;\n",
		"20260101000000_unbalanced.sql": "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
			assert.Error(t, migrate.ValidateDir(dir))
		})
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	first, err := migrate.CreateSQLMigration(dir, "Add Slot Notes!")
	require.NoError(t, err)
	assert.Regexp(t, `\d{14}_add_slot_notes\.sql$`, first)

	second, err := migrate.CreateSQLMigration(dir, "add slot notes")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	require.NoError(t, migrate.ValidateDir(dir))

	body, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Contains(t, string(body), "SET lock_timeout")

	_, err = migrate.CreateSQLMigration(dir, "!!!")
	assert.Error(t, err)
}

func TestCreateSQLMigrationBumpsPastFutureVersion(t *testing.T) {
	dir := t.TempDir()
	future := filepath.Join(dir, "29991231235959_later.sql")
	require.NoError(t, os.WriteFile(future, []byte("-- +goose Up\n-- +goose Down\n"), 0o644))

	path, err := migrate.CreateSQLMigration(dir, "next")
	require.NoError(t, err)
	assert.Equal(t, "30000101000000_next.sql", filepath.Base(path))
}

func TestParseVersion(t *testing.T) {
	v, err := migrate.ParseVersion("20260301120100")
	require.NoError(t, err)
	assert.EqualValues(t, 20260301120100, v)

	v, err = migrate.ParseVersion("0")
	require.NoError(t, err)
	assert.Zero(t, v)

	for _, raw := range []string{"", "2026", "2026030112010x"} {
		_, err := migrate.ParseVersion(raw)
		assert.Error(t, err, raw)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := migrate.Run(context.Background(), &sql.DB{}, "migrations", "drop-everything")
	assert.ErrorContains(t, err, "unsupported goose command")
}

func TestBootstrapSeedsRangeOnce(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:bootstrap_%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)

	ctx := context.Background()
	inserted, err := migrate.Bootstrap(ctx, gdb, 1, 25)
	require.NoError(t, err)
	assert.EqualValues(t, 25, inserted)

	inserted, err = migrate.SeedSlots(ctx, gdb, 1, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 5, inserted)

	var count int64
	require.NoError(t, gdb.Model(&models.Slot{}).Count(&count).Error)
	assert.EqualValues(t, 30, count)

	var first models.Slot
	require.NoError(t, gdb.First(&first, "num = ?", "0001").Error)
	assert.Equal(t, "available", string(first.Status))
}

func TestSeedSlotsRejectsBadRange(t *testing.T) {
	_, err := migrate.SeedSlots(context.Background(), nil, 10, 5)
	assert.Error(t, err)
}
