package models

import (
	"time"
)

// FileRecord is the metadata row for one shared file. The object itself
// lives in the bucket under KeyFile; clients upload and download it
// directly through presigned URLs.
type FileRecord struct {
	ID              string     `json:"id"`
	KeyFile         string     `json:"keyFile"`
	FileName        string     `json:"fileName"`
	Size            int64      `json:"size"`
	MimeType        string     `json:"mimeType"`
	Description     *string    `json:"description"`
	IsDisabled      bool       `json:"isDisabled"`
	DisabledReason  *string    `json:"disabledReason"`
	ExpirationDate  *time.Time `json:"expirationDate"`
	OneTimeDownload bool       `json:"oneTimeDownload"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Expired reports whether the record's expiration date is set and in the past.
func (f FileRecord) Expired(now time.Time) bool {
	return f.ExpirationDate != nil && f.ExpirationDate.Before(now)
}

// DownloadEvent records one authorized download. For one-time files at most
// one row may ever exist per file.
type DownloadEvent struct {
	ID        string    `json:"id"`
	FileID    string    `json:"fileId"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
}

// Requester carries advisory client metadata logged with a download.
type Requester struct {
	IP        string
	UserAgent string
}

// Report is an abuse report filed against a file.
type Report struct {
	ID          string    `json:"id"`
	FileID      string    `json:"fileId"`
	Reason      string    `json:"reason"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Report reasons accepted by the report endpoint.
const (
	ReportReasonCopyright     = "copyright"
	ReportReasonIllegal       = "illegal"
	ReportReasonInappropriate = "inappropriate"
	ReportReasonOther         = "other"
)

// FileInfo is the read-only projection served to the share/download pages.
type FileInfo struct {
	KeyFile          string     `json:"keyFile"`
	FileName         string     `json:"fileName"`
	Size             int64      `json:"size"`
	MimeType         string     `json:"mimeType"`
	Description      *string    `json:"description"`
	IsDisabled       bool       `json:"isDisabled"`
	DisabledReason   *string    `json:"disabledReason"`
	ExpirationDate   *time.Time `json:"expirationDate"`
	OneTimeDownload  bool       `json:"oneTimeDownload"`
	IsOnceDownloaded bool       `json:"isOnceDownloaded"`
}
