package registry

import (
	"fmt"
	"strings"
	"sync"
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
	require.NoError(t, db.AutoMigrate(&models.File{}, &models.DownloadLog{}))
	return db
}

func testParams() CreateParams {
	return CreateParams{
		OriginalName: "report.pdf",
		FileSize:     2048,
		MimeType:     "application/pdf",
		StoragePath:  "abc123.pdf",
		TTL:          time.Hour,
	}
}

func TestCreateFixesExpiryAtCreation(t *testing.T) {
	reg := New(newTestDB(t))
	fixed := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return fixed }

	rec, err := reg.Create(testParams())
	require.NoError(t, err)
	require.NotEmpty(t, rec.UUID)
	require.True(t, rec.Active)
	require.Zero(t, rec.AccessCount)
	require.True(t, rec.ExpiresAt.Equal(fixed.Add(time.Hour)))
	require.True(t, rec.ExpiresAt.Equal(rec.CreatedAt.Add(time.Hour)))

	// Expiry survives the round trip unchanged.
	got, err := reg.Lookup(rec.UUID)
	require.NoError(t, err)
	require.WithinDuration(t, rec.ExpiresAt, got.ExpiresAt, time.Millisecond)
}

func TestCreateRegeneratesOnIdentityCollision(t *testing.T) {
	reg := New(newTestDB(t))

	first, err := reg.Create(testParams())
	require.NoError(t, err)

	ids := []string{first.UUID, "11111111-1111-1111-1111-111111111111"}
	reg.newID = func() string {
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	}

	rec, err := reg.Create(testParams())
	require.NoError(t, err)
	require.Equal(t, "11111111-1111-1111-1111-111111111111", rec.UUID)
}

func TestCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	reg := New(newTestDB(t))

	first, err := reg.Create(testParams())
	require.NoError(t, err)

	reg.newID = func() string { return first.UUID }
	_, err = reg.Create(testParams())
	require.ErrorIs(t, err, ErrDuplicateIdentity)
}

func TestLookupNotFound(t *testing.T) {
	reg := New(newTestDB(t))
	_, err := reg.Lookup("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMarkInactiveIsIdempotent(t *testing.T) {
	reg := New(newTestDB(t))
	rec, err := reg.Create(testParams())
	require.NoError(t, err)

	require.NoError(t, reg.MarkInactive(rec.UUID))

	got, err := reg.Lookup(rec.UUID)
	require.NoError(t, err)
	require.False(t, got.Active)

	// Second transition is reported distinctly, and the record stays inactive.
	require.ErrorIs(t, reg.MarkInactive(rec.UUID), ErrAlreadyInactive)
	got, err = reg.Lookup(rec.UUID)
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestMarkInactiveNotFound(t *testing.T) {
	reg := New(newTestDB(t))
	require.ErrorIs(t, reg.MarkInactive("does-not-exist"), ErrNotFound)
}

func TestIncrementAccessConcurrent(t *testing.T) {
	reg := New(newTestDB(t))
	rec, err := reg.Create(testParams())
	require.NoError(t, err)

	const workers = 10
	const perWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := reg.IncrementAccess(rec.UUID)
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := reg.Lookup(rec.UUID)
	require.NoError(t, err)
	require.EqualValues(t, workers*perWorker, got.AccessCount)
}

func TestIncrementAccessNotFound(t *testing.T) {
	reg := New(newTestDB(t))
	_, err := reg.IncrementAccess("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPurgeRemovesRecordForGood(t *testing.T) {
	reg := New(newTestDB(t))
	rec, err := reg.Create(testParams())
	require.NoError(t, err)

	require.NoError(t, reg.Purge(rec.UUID))
	_, err = reg.Lookup(rec.UUID)
	require.ErrorIs(t, err, ErrNotFound)

	// Purging again is a no-op.
	require.NoError(t, reg.Purge(rec.UUID))
}

func TestExpiredActiveSelectsOnlyExpiredActives(t *testing.T) {
	reg := New(newTestDB(t))

	p := testParams()
	p.TTL = -time.Minute
	expired, err := reg.Create(p)
	require.NoError(t, err)

	fresh, err := reg.Create(testParams())
	require.NoError(t, err)

	p2 := testParams()
	p2.TTL = -time.Minute
	retired, err := reg.Create(p2)
	require.NoError(t, err)
	require.NoError(t, reg.MarkInactive(retired.UUID))

	recs, err := reg.ExpiredActive(time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, expired.UUID, recs[0].UUID)
	require.NotEqual(t, fresh.UUID, recs[0].UUID)
}

func TestInactiveSinceHonorsCutoff(t *testing.T) {
	db := newTestDB(t)
	reg := New(db)

	old, err := reg.Create(testParams())
	require.NoError(t, err)
	require.NoError(t, reg.MarkInactive(old.UUID))
	require.NoError(t, db.Model(&models.File{}).Where("uuid = ?", old.UUID).
		UpdateColumn("updated_at", time.Now().Add(-8*24*time.Hour)).Error)

	recent, err := reg.Create(testParams())
	require.NoError(t, err)
	require.NoError(t, reg.MarkInactive(recent.UUID))

	recs, err := reg.InactiveSince(time.Now().Add(-7*24*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, old.UUID, recs[0].UUID)
}

func TestListByOwnerShowsOnlyOwnActiveFiles(t *testing.T) {
	reg := New(newTestDB(t))
	owner := uint(7)
	other := uint(8)

	p := testParams()
	p.OwnerID = &owner
	mine, err := reg.Create(p)
	require.NoError(t, err)

	p2 := testParams()
	p2.OwnerID = &owner
	deleted, err := reg.Create(p2)
	require.NoError(t, err)
	require.NoError(t, reg.MarkInactive(deleted.UUID))

	p3 := testParams()
	p3.OwnerID = &other
	_, err = reg.Create(p3)
	require.NoError(t, err)

	recs, total, err := reg.ListByOwner(owner, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, recs, 1)
	require.Equal(t, mine.UUID, recs[0].UUID)
}

func TestSummarize(t *testing.T) {
	reg := New(newTestDB(t))

	_, err := reg.Create(testParams())
	require.NoError(t, err)

	p := testParams()
	p.TTL = -time.Minute
	p.FileSize = 1000
	_, err = reg.Create(p)
	require.NoError(t, err)

	stats, err := reg.Summarize()
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.ActiveFiles)
	require.EqualValues(t, 1, stats.ExpiredFiles)
	require.EqualValues(t, 3048, stats.TotalSizeBytes)
}
