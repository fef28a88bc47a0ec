package controllers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/migrate"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
)

// newTestRepository seeds 0001-0050 so higher numbers read as missing rows.
func newTestRepository(t *testing.T) *slots.Repository {
	t.Helper()
	dsn := "file:controllers_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_, err = migrate.Bootstrap(context.Background(), db, 1, 50)
	require.NoError(t, err)

	repo, err := slots.NewRepository(slots.RepositoryParams{
		DB:     db,
		Events: outbox.NewService(outbox.NewRepository(db), logger.Nop()),
	})
	require.NoError(t, err)
	return repo
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data any `json:"data"`
	}{Data: dest}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	return envelope.Error.Code
}
