package ledger

import (
	"time"

	"gorm.io/gorm"

	"github.com/cppla/filedrop/models"
)

// Ledger is the append-only record of successful downloads. Entries reference
// files by UUID so they outlive the registry record until their own retention
// cutoff.
type Ledger struct {
	db *gorm.DB
}

// New creates a Ledger backed by the given database.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Append records one successful download. Entries are never updated afterwards.
func (l *Ledger) Append(fileUUID, ipAddress, userAgent string, userID *uint) error {
	entry := &models.DownloadLog{
		FileUUID:  fileUUID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		UserID:    userID,
	}
	return l.db.Create(entry).Error
}

// PurgeOlderThan bulk deletes entries created before the cutoff and reports how
// many were removed.
func (l *Ledger) PurgeOlderThan(cutoff time.Time) (int64, error) {
	res := l.db.Where("created_at < ?", cutoff).Delete(&models.DownloadLog{})
	return res.RowsAffected, res.Error
}

// CountForFile returns the number of retained entries for one file.
func (l *Ledger) CountForFile(fileUUID string) (int64, error) {
	var count int64
	err := l.db.Model(&models.DownloadLog{}).Where("file_uuid = ?", fileUUID).Count(&count).Error
	return count, err
}
