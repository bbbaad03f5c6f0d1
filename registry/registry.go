package registry

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cppla/filedrop/models"
)

var (
	// ErrNotFound means no record exists for the identity, either because it never
	// existed or because it has been purged.
	ErrNotFound = errors.New("registry: record not found")
	// ErrAlreadyInactive signals a benign race: the record was inactive before the call.
	ErrAlreadyInactive = errors.New("registry: record already inactive")
	// ErrDuplicateIdentity means identity generation kept colliding, which points at a
	// broken random source rather than bad luck.
	ErrDuplicateIdentity = errors.New("registry: duplicate identity")
)

// createAttempts bounds identity regeneration on unique index conflicts.
const createAttempts = 3

// Registry owns the file metadata records and is the source of truth for whether
// a download is permitted. Uniqueness of identities is enforced by the unique
// index on files.uuid, not just by generator entropy.
type Registry struct {
	db    *gorm.DB
	now   func() time.Time
	newID func() string
}

// New creates a Registry backed by the given database.
func New(db *gorm.DB) *Registry {
	return &Registry{db: db, now: time.Now, newID: uuid.NewString}
}

// CreateParams carries the immutable metadata for a new record.
type CreateParams struct {
	OriginalName  string
	FileSize      int64
	MimeType      string
	StoragePath   string
	TTL           time.Duration
	OwnerID       *uint
	SenderEmail   string
	ReceiverEmail string
}

// Create persists a new record with a fresh identity, active and with zero
// downloads. ExpiresAt is fixed to CreatedAt + TTL and never changes afterwards.
// A unique index conflict triggers regeneration of the identity.
func (r *Registry) Create(p CreateParams) (*models.File, error) {
	for i := 0; i < createAttempts; i++ {
		now := r.now()
		rec := &models.File{
			UUID:          r.newID(),
			OriginalName:  p.OriginalName,
			FileSize:      p.FileSize,
			MimeType:      p.MimeType,
			StoragePath:   p.StoragePath,
			ExpiresAt:     now.Add(p.TTL),
			Active:        true,
			OwnerID:       p.OwnerID,
			SenderEmail:   p.SenderEmail,
			ReceiverEmail: p.ReceiverEmail,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err := r.db.Create(rec).Error
		if err == nil {
			return rec, nil
		}
		if isDuplicateKey(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrDuplicateIdentity
}

// Lookup returns the record for the identity regardless of active or expiry
// state. Callers decide policy.
func (r *Registry) Lookup(id string) (*models.File, error) {
	var rec models.File
	if err := r.db.Where("uuid = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// MarkInactive transitions the record to its terminal inactive state. The
// transition happens at most once: a second call reports ErrAlreadyInactive so
// callers can detect races without treating them as failures.
func (r *Registry) MarkInactive(id string) error {
	res := r.db.Model(&models.File{}).
		Where("uuid = ? AND active = ?", id, true).
		Updates(map[string]interface{}{"active": false, "updated_at": r.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := r.db.Model(&models.File{}).Where("uuid = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrAlreadyInactive
}

// IncrementAccess bumps the download counter with a single UPDATE so concurrent
// downloads of the same identity never lose updates. Returns the counter as read
// after the increment.
func (r *Registry) IncrementAccess(id string) (int64, error) {
	res := r.db.Model(&models.File{}).
		Where("uuid = ?", id).
		UpdateColumn("access_count", gorm.Expr("access_count + ?", 1))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	var rec models.File
	if err := r.db.Select("access_count").Where("uuid = ?", id).First(&rec).Error; err != nil {
		return 0, err
	}
	return rec.AccessCount, nil
}

// Purge permanently removes the record. Only the sweeper calls this, and only
// after the record has been inactive for the retention window. Purging a missing
// record is a no-op.
func (r *Registry) Purge(id string) error {
	return r.db.Where("uuid = ?", id).Delete(&models.File{}).Error
}

// ExpiredActive returns records past expiry that are still active, oldest first.
// The batch is capped so one sweep never holds the table for too long; leftovers
// are picked up by the next sweep.
func (r *Registry) ExpiredActive(now time.Time, limit int) ([]models.File, error) {
	var recs []models.File
	err := r.db.Where("expires_at < ? AND active = ?", now, true).
		Order("expires_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// InactiveSince returns records that became inactive before the cutoff and are
// due for the hard delete.
func (r *Registry) InactiveSince(cutoff time.Time, limit int) ([]models.File, error) {
	var recs []models.File
	err := r.db.Where("active = ? AND updated_at < ?", false, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// ListByOwner returns the owner's active records, newest first, with the total
// for pagination.
func (r *Registry) ListByOwner(ownerID uint, page, limit int) ([]models.File, int64, error) {
	var total int64
	q := r.db.Model(&models.File{}).Where("owner_id = ? AND active = ?", ownerID, true)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var recs []models.File
	err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&recs).Error
	return recs, total, err
}

// Stats summarizes the live registry for operators.
type Stats struct {
	ActiveFiles    int64 `json:"active_files"`
	ExpiredFiles   int64 `json:"expired_files"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// Summarize computes counts and total size over active records.
func (r *Registry) Summarize() (*Stats, error) {
	var s Stats
	if err := r.db.Model(&models.File{}).Where("active = ?", true).Count(&s.ActiveFiles).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&models.File{}).
		Where("active = ? AND expires_at < ?", true, r.now()).
		Count(&s.ExpiredFiles).Error; err != nil {
		return nil, err
	}
	var total struct{ Total int64 }
	if err := r.db.Model(&models.File{}).
		Select("COALESCE(SUM(file_size), 0) AS total").
		Where("active = ?", true).
		Scan(&total).Error; err != nil {
		return nil, err
	}
	s.TotalSizeBytes = total.Total
	return &s, nil
}

// isDuplicateKey detects unique index violations across MySQL and SQLite without
// depending on driver specific error types.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate entry") || strings.Contains(msg, "unique constraint")
}
