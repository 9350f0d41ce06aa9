package domain

import "time"

const (
	SyncTriggerStream = "stream"
	SyncTriggerBatch  = "batch"
	SyncTriggerSite   = "site"
)

// SyncRun is the audit row written after every blocklist fan-out.
type SyncRun struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Trigger        string     `gorm:"size:16;not null" json:"trigger"`
	TotalSites     int        `gorm:"not null" json:"totalSites"`
	DesiredEntries int        `gorm:"not null" json:"desiredEntries"`
	NewDevices     int        `gorm:"not null" json:"newDevices"`
	FailedSites    StringList `gorm:"type:text" json:"failedSites"`
	NotifyFailed   bool       `gorm:"not null;default:false" json:"notifyFailed"`

	StartedAt  time.Time `gorm:"index" json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (r SyncRun) Succeeded() bool {
	return len(r.FailedSites) == 0
}
