package ledger

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/filedrop/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.DownloadLog{}))
	return db
}

func TestAppendAndCount(t *testing.T) {
	led := New(newTestDB(t))

	userID := uint(3)
	require.NoError(t, led.Append("uuid-1", "203.0.113.9", "curl/8.0", &userID))
	require.NoError(t, led.Append("uuid-1", "203.0.113.10", "Mozilla/5.0", nil))
	require.NoError(t, led.Append("uuid-2", "203.0.113.9", "curl/8.0", nil))

	n, err := led.CountForFile("uuid-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestPurgeOlderThan(t *testing.T) {
	db := newTestDB(t)
	led := New(db)

	require.NoError(t, led.Append("uuid-1", "203.0.113.9", "curl/8.0", nil))
	require.NoError(t, led.Append("uuid-1", "203.0.113.10", "curl/8.0", nil))
	// Age one entry past the cutoff.
	require.NoError(t, db.Model(&models.DownloadLog{}).Where("ip_address = ?", "203.0.113.9").
		UpdateColumn("created_at", time.Now().Add(-31*24*time.Hour)).Error)

	purged, err := led.PurgeOlderThan(time.Now().Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	n, err := led.CountForFile("uuid-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
