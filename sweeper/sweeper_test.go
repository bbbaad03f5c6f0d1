package sweeper

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/filedrop/ledger"
	"github.com/cppla/filedrop/models"
	"github.com/cppla/filedrop/registry"
	"github.com/cppla/filedrop/storage"
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

func newFixture(t *testing.T) (*gorm.DB, *registry.Registry, *ledger.Ledger, *storage.DiskStore, *Sweeper) {
	t.Helper()
	db := newTestDB(t)
	reg := registry.New(db)
	led := ledger.New(db)
	store, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	sw := New(reg, led, store, time.Hour, 7*24*time.Hour, 30*24*time.Hour)
	return db, reg, led, store, sw
}

// createFile stores payload bytes and registers a record with the given TTL.
func createFile(t *testing.T, reg *registry.Registry, store *storage.DiskStore, ttl time.Duration) *models.File {
	t.Helper()
	locator, size, err := store.Put(strings.NewReader("payload"), ".bin")
	require.NoError(t, err)
	rec, err := reg.Create(registry.CreateParams{
		OriginalName: "payload.bin",
		FileSize:     size,
		MimeType:     "application/octet-stream",
		StoragePath:  locator,
		TTL:          ttl,
	})
	require.NoError(t, err)
	return rec
}

func TestSweepSoftDeletesExpiredFiles(t *testing.T) {
	_, reg, _, store, sw := newFixture(t)

	expired := createFile(t, reg, store, -time.Minute)
	fresh := createFile(t, reg, store, time.Hour)

	require.True(t, sw.Sweep())

	got, err := reg.Lookup(expired.UUID)
	require.NoError(t, err)
	require.False(t, got.Active)
	_, err = store.Get(expired.StoragePath)
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err = reg.Lookup(fresh.UUID)
	require.NoError(t, err)
	require.True(t, got.Active)
	obj, err := store.Get(fresh.StoragePath)
	require.NoError(t, err)
	obj.Close()
}

func TestSweepIsIdempotentAcrossRuns(t *testing.T) {
	_, reg, _, store, sw := newFixture(t)

	expired := createFile(t, reg, store, -time.Minute)

	require.True(t, sw.Sweep())
	// A second pass finds nothing to do and must not fail on missing bytes.
	require.True(t, sw.Sweep())

	got, err := reg.Lookup(expired.UUID)
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestSweepHardDeletesAfterRetention(t *testing.T) {
	db, reg, _, store, sw := newFixture(t)

	retired := createFile(t, reg, store, -time.Minute)
	require.NoError(t, reg.MarkInactive(retired.UUID))
	require.NoError(t, db.Model(&models.File{}).Where("uuid = ?", retired.UUID).
		UpdateColumn("updated_at", time.Now().Add(-8*24*time.Hour)).Error)

	recent := createFile(t, reg, store, -time.Minute)
	require.NoError(t, reg.MarkInactive(recent.UUID))

	require.True(t, sw.Sweep())

	_, err := reg.Lookup(retired.UUID)
	require.ErrorIs(t, err, registry.ErrNotFound)

	// Still inside the grace period: soft deleted but not forgotten.
	got, err := reg.Lookup(recent.UUID)
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestSweepPurgesStaleDownloadLogs(t *testing.T) {
	db, _, led, _, sw := newFixture(t)

	require.NoError(t, led.Append("uuid-old", "203.0.113.9", "curl/8.0", nil))
	require.NoError(t, db.Model(&models.DownloadLog{}).Where("file_uuid = ?", "uuid-old").
		UpdateColumn("created_at", time.Now().Add(-31*24*time.Hour)).Error)
	require.NoError(t, led.Append("uuid-new", "203.0.113.9", "curl/8.0", nil))

	require.True(t, sw.Sweep())

	n, err := led.CountForFile("uuid-old")
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = led.CountForFile("uuid-new")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSweepSkipsWhileAnotherIsRunning(t *testing.T) {
	_, _, _, _, sw := newFixture(t)

	sw.running.Store(true)
	require.False(t, sw.Sweep())
	sw.running.Store(false)
	require.True(t, sw.Sweep())
}

func TestConcurrentSweepIsSkippedNotQueued(t *testing.T) {
	db := newTestDB(t)
	reg := registry.New(db)
	led := ledger.New(db)
	store := &blockingStore{entered: make(chan struct{}), gate: make(chan struct{})}
	sw := New(reg, led, store, time.Hour, 7*24*time.Hour, 30*24*time.Hour)

	_, err := reg.Create(registry.CreateParams{
		OriginalName: "x.bin",
		MimeType:     "application/octet-stream",
		StoragePath:  "x.bin",
		TTL:          -time.Minute,
	})
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() { done <- sw.Sweep() }()

	// The first sweep is parked inside the store; a second one must be skipped.
	<-store.entered
	require.False(t, sw.Sweep())

	close(store.gate)
	require.True(t, <-done)
	require.EqualValues(t, 1, atomic.LoadInt32(&store.deletes))
}

func TestSweepLeavesRecordActiveWhenStoreFails(t *testing.T) {
	db := newTestDB(t)
	reg := registry.New(db)
	led := ledger.New(db)
	store := &failingStore{err: errors.New("disk detached")}
	sw := New(reg, led, store, time.Hour, 7*24*time.Hour, 30*24*time.Hour)

	rec, err := reg.Create(registry.CreateParams{
		OriginalName: "x.bin",
		MimeType:     "application/octet-stream",
		StoragePath:  "x.bin",
		TTL:          -time.Minute,
	})
	require.NoError(t, err)

	require.True(t, sw.Sweep())

	// The failed record stays active so the next sweep retries it.
	got, err := reg.Lookup(rec.UUID)
	require.NoError(t, err)
	require.True(t, got.Active)

	// Once the store recovers, the sweep finishes the job.
	store.err = nil
	require.True(t, sw.Sweep())
	got, err = reg.Lookup(rec.UUID)
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	_, reg, _, store, sw := newFixture(t)

	expired := createFile(t, reg, store, -time.Minute)

	sw.Start()
	defer sw.Stop()

	require.Eventually(t, func() bool {
		got, err := reg.Lookup(expired.UUID)
		return err == nil && !got.Active
	}, 2*time.Second, 10*time.Millisecond)
}

type failingStore struct {
	err error
}

func (f *failingStore) Delete(string) error { return f.err }

// blockingStore parks the first Delete until the gate is closed so a second
// sweep can be provoked while the first is mid-flight.
type blockingStore struct {
	entered chan struct{}
	gate    chan struct{}
	deletes int32
}

func (b *blockingStore) Delete(string) error {
	if atomic.AddInt32(&b.deletes, 1) == 1 {
		close(b.entered)
		<-b.gate
	}
	return nil
}
