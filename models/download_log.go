package models

import "time"

// DownloadLog is one successful download. It references the file by UUID rather
// than by row ID so the entry survives the registry record's hard delete until
// its own retention cutoff.
type DownloadLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FileUUID  string    `gorm:"size:36;not null;index:idx_download_logs_file,priority:1" json:"file_uuid"`
	IPAddress string    `gorm:"size:64;not null" json:"ip_address"`
	UserAgent string    `gorm:"size:512" json:"user_agent"`
	UserID    *uint     `json:"user_id,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_download_logs_file,priority:2;index" json:"created_at"`
}
