package blocksync

import (
	"context"
	"time"

	"paygate/internal/domain"
)

type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
)

// SiteStatus follows pending -> processing -> saved | error within one run.
type SiteStatus string

const (
	StatusPending    SiteStatus = "pending"
	StatusProcessing SiteStatus = "processing"
	StatusSaved      SiteStatus = "saved"
	StatusError      SiteStatus = "error"
)

const (
	summaryFailedMessage   = "Some sites failed to update"
	summaryCompleteMessage = "Updated all sites successfully"
)

// Event is one step of a run as seen by the caller. Only the fields relevant
// to Type are populated.
type Event struct {
	Type EventType `json:"type"`

	TotalSites int `json:"totalSites,omitempty"`

	SiteID  string     `json:"siteId,omitempty"`
	SiteURL string     `json:"siteUrl,omitempty"`
	Status  SiteStatus `json:"status,omitempty"`
	Current int        `json:"current,omitempty"`
	Total   int        `json:"total,omitempty"`

	Error       string       `json:"error,omitempty"`
	Message     string       `json:"message,omitempty"`
	NewDevices  *int         `json:"newDevices,omitempty"`
	FailedSites []string     `json:"failedSites,omitempty"`
	Results     []SiteResult `json:"results,omitempty"`
}

// Terminal reports whether the event is the run summary.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

type SiteResult struct {
	SiteID       string     `json:"siteId"`
	Site         string     `json:"site"`
	Success      bool       `json:"success"`
	Status       SiteStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	FetchError   string     `json:"fetchError,omitempty"`
	TotalBlocked int        `json:"totalBlocked,omitempty"`
}

// Summary is the outcome of a completed run.
type Summary struct {
	Trigger        string
	TotalSites     int
	DesiredEntries int
	// NewDevices is the deduplicated set of devices no site knew at run start.
	NewDevices  []domain.NewDeviceNotice
	Results     []SiteResult
	FailedSites []string
	NotifyErr   error
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (s *Summary) Failed() bool {
	return len(s.FailedSites) > 0
}

// FinalEvent renders the summary as the last event of the run.
func (s *Summary) FinalEvent() Event {
	if s.Failed() {
		return Event{
			Type:        EventError,
			Error:       summaryFailedMessage,
			FailedSites: append([]string(nil), s.FailedSites...),
			Results:     append([]SiteResult(nil), s.Results...),
		}
	}

	newDevices := len(s.NewDevices)
	return Event{
		Type:       EventComplete,
		Message:    summaryCompleteMessage,
		TotalSites: s.TotalSites,
		NewDevices: &newDevices,
		Results:    append([]SiteResult(nil), s.Results...),
	}
}

// SyncRun converts the summary into its audit row.
func (s *Summary) SyncRun() domain.SyncRun {
	return domain.SyncRun{
		Trigger:        s.Trigger,
		TotalSites:     s.TotalSites,
		DesiredEntries: s.DesiredEntries,
		NewDevices:     len(s.NewDevices),
		FailedSites:    domain.StringList(append([]string(nil), s.FailedSites...)),
		NotifyFailed:   s.NotifyErr != nil,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
	}
}

// SiteSource lists registered sites in registration order.
type SiteSource interface {
	ListSites(ctx context.Context) ([]domain.Site, error)
}

// SiteClient reads and replaces the blocklist held by one site.
type SiteClient interface {
	GetBlockedVisitors(ctx context.Context, site domain.Site) ([]domain.BlockedVisitor, error)
	ReplaceBlockedVisitors(ctx context.Context, site domain.Site, entries []domain.BlockedVisitor) (int, error)
}

type Notifier interface {
	NotifyNewDevices(ctx context.Context, devices []domain.NewDeviceNotice) error
}

// Recorder persists the audit row of a finished run.
type Recorder interface {
	RecordSyncRun(ctx context.Context, run *domain.SyncRun) error
}
