package models

import "time"

// File is the registry record for one uploaded artifact. The UUID is the only
// handle ever exposed to clients; StoragePath stays server-side.
type File struct {
	ID           uint       `gorm:"primaryKey" json:"-"`
	UUID         string     `gorm:"size:36;not null;uniqueIndex" json:"uuid"`
	OriginalName string     `gorm:"size:512;not null" json:"filename"`
	FileSize     int64      `gorm:"not null" json:"file_size"`
	MimeType     string     `gorm:"size:255;not null" json:"mime_type"`
	StoragePath  string     `gorm:"size:1024;not null" json:"-"`
	ExpiresAt    time.Time  `gorm:"not null;index:idx_files_expiry,priority:1" json:"expiry_time"`
	AccessCount  int64      `gorm:"not null;default:0" json:"download_count"`
	Active       bool       `gorm:"not null;default:true;index:idx_files_expiry,priority:2" json:"-"`
	OwnerID      *uint      `gorm:"index" json:"-"`
	SenderEmail  string     `gorm:"size:255" json:"sender_email,omitempty"`
	ReceiverEmail string    `gorm:"size:255" json:"receiver_email,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"-"`
}

// Expired reports whether the record is past its expiry time.
func (f *File) Expired(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}
