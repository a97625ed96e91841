package models

import "time"

// PhotoKind classifies where in the work-order flow a photo was taken.
type PhotoKind string

const (
	PhotoInitialAudit PhotoKind = "initial-audit"
	PhotoFinalAudit   PhotoKind = "final-audit"
	PhotoDataRecord   PhotoKind = "data-record"
	PhotoAuditExtra   PhotoKind = "audit-extra"
)

// PhotoAsset is one binary photograph held in the vault. PrimaryPath and
// BackupPath are two independent on-device locations holding identical
// bytes; a read succeeds if either resolves.
type PhotoAsset struct {
	ID          string    `db:"id" json:"id"`
	WorkOrderID string    `db:"work_order_id" json:"work_order_id"`
	Kind        PhotoKind `db:"kind" json:"kind"`
	PrimaryPath string    `db:"primary_path" json:"primary_path"`
	BackupPath  string    `db:"backup_path" json:"backup_path"`
	Size        int64     `db:"size" json:"size"`
	Synced      bool      `db:"synced" json:"synced"`
	CreatedAt   int64     `db:"created_at" json:"created_at"`
}

// TableName returns the table name for PhotoAsset.
func (PhotoAsset) TableName() string {
	return "photo_assets"
}

// Time returns CreatedAt as time.Time.
func (p *PhotoAsset) Time() time.Time {
	return time.Unix(p.CreatedAt, 0)
}

// VaultHealth classifies the corruption-detection signal of the vault.
type VaultHealth string

const (
	VaultHealthGood     VaultHealth = "good"
	VaultHealthWarning  VaultHealth = "warning"
	VaultHealthCritical VaultHealth = "critical"
)

// VaultDiagnostics summarizes the photo vault for operational tooling.
// MissingPrimary counts metadata entries whose primary file is verified
// absent on disk; Health is derived from its fraction of Total.
type VaultDiagnostics struct {
	Total          int         `json:"total"`
	SyncedCount    int         `json:"synced"`
	Pending        int         `json:"pending"`
	TotalSize      int64       `json:"total_size"`
	MissingPrimary int         `json:"missing_primary"`
	Health         VaultHealth `json:"health"`
}
