package blocksync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"paygate/internal/domain"

	"github.com/charmbracelet/log"
)

var (
	ErrNoSites        = errors.New("no sites registered")
	ErrSyncInProgress = errors.New("a blocklist sync is already running")
)

const streamBuffer = 16

// Synchronizer pushes one desired blocklist to every registered site.
type Synchronizer struct {
	sites    SiteSource
	client   SiteClient
	notifier Notifier
	locker   Locker
	recorder Recorder
	now      func() time.Time
}

type Option func(*Synchronizer)

func WithNotifier(n Notifier) Option {
	return func(s *Synchronizer) {
		s.notifier = n
	}
}

func WithLocker(l Locker) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Synchronizer) {
		s.recorder = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

func New(sites SiteSource, client SiteClient, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		sites:  sites,
		client: client,
		locker: NewLocalLocker(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is a validated sync that has not touched any site yet. A prepared run
// holds the sync lock until Execute returns or Abandon is called.
type Run struct {
	owner   *Synchronizer
	sites   []domain.Site
	entries []domain.BlockedVisitor
	trigger string
	started time.Time

	release     func()
	releaseOnce sync.Once
}

// Prepare lists the registered sites and takes the fleet-wide lock. It fails
// with ErrNoSites or ErrSyncInProgress before any site is contacted.
func (s *Synchronizer) Prepare(ctx context.Context, desired []domain.DeviceBlockRequest, trigger string) (*Run, error) {
	sites, err := s.sites.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	if len(sites) == 0 {
		return nil, ErrNoSites
	}

	release, acquired, err := s.locker.TryAcquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		return nil, ErrSyncInProgress
	}

	return s.newRun(sites, desired, trigger, release), nil
}

// PrepareSites builds a run over an explicit site list without taking the
// fleet-wide lock. The known-device set is limited to those sites.
func (s *Synchronizer) PrepareSites(sites []domain.Site, desired []domain.DeviceBlockRequest, trigger string) (*Run, error) {
	if len(sites) == 0 {
		return nil, ErrNoSites
	}
	return s.newRun(append([]domain.Site(nil), sites...), desired, trigger, nil), nil
}

func (s *Synchronizer) newRun(sites []domain.Site, desired []domain.DeviceBlockRequest, trigger string, release func()) *Run {
	started := s.now()
	return &Run{
		owner:   s,
		sites:   sites,
		entries: domain.ToBlockedVisitors(desired, started),
		trigger: trigger,
		started: started,
		release: release,
	}
}

// Sync prepares and executes a run, delivering events to emit.
func (s *Synchronizer) Sync(ctx context.Context, desired []domain.DeviceBlockRequest, trigger string, emit func(Event)) (*Summary, error) {
	run, err := s.Prepare(ctx, desired, trigger)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx, emit), nil
}

func (r *Run) TotalSites() int {
	return len(r.sites)
}

// Abandon releases the lock of a run that will not be executed.
func (r *Run) Abandon() {
	r.releaseOnce.Do(func() {
		if r.release != nil {
			r.release()
		}
	})
}

// Stream executes the run in a goroutine. The channel yields every event,
// ending with the summary, and is closed afterwards. Callers must drain it.
func (r *Run) Stream(ctx context.Context) <-chan Event {
	events := make(chan Event, streamBuffer)
	go func() {
		defer close(events)
		r.Execute(ctx, func(ev Event) {
			events <- ev
		})
	}()
	return events
}

// Execute attempts every site exactly once in registration order. Per-site
// failures are recorded in the summary; the summary event is always emitted last.
// A site whose current blocklist cannot be read is not overwritten and
// disables new device notification for the run.
func (r *Run) Execute(ctx context.Context, emit func(Event)) *Summary {
	defer r.Abandon()

	if emit == nil {
		emit = func(Event) {}
	}

	total := len(r.sites)
	summary := &Summary{
		Trigger:        r.trigger,
		TotalSites:     total,
		DesiredEntries: len(r.entries),
		StartedAt:      r.started,
	}

	results := make([]SiteResult, total)
	for i, site := range r.sites {
		results[i] = SiteResult{SiteID: site.ID, Site: site.URL, Status: StatusPending}
	}

	emit(Event{Type: EventStart, TotalSites: total})

	known := make(map[string]struct{})
	unreadable := 0
	for i, site := range r.sites {
		existing, err := r.owner.client.GetBlockedVisitors(ctx, site)
		if err != nil {
			log.Warn("Could not read site blocklist", "site", site.URL, "error", err)
			results[i].FetchError = err.Error()
			unreadable++
			continue
		}
		collectKnownDevices(known, existing)
	}

	// A device is only new if no site held it, which an unreadable site
	// makes impossible to establish.
	var fresh []domain.NewDeviceNotice
	if unreadable == 0 {
		fresh = trulyNew(r.entries, known)
	} else {
		log.Warn("Skipping new device detection, some blocklists could not be read", "unreadable", unreadable)
	}
	log.Debug("Blocklist sync prepared", "sites", total, "entries", len(r.entries), "new", len(fresh))

	for i, site := range r.sites {
		progress := Event{
			Type:    EventProgress,
			SiteID:  site.ID,
			SiteURL: site.URL,
			Current: i + 1,
			Total:   total,
		}

		results[i].Status = StatusProcessing
		progress.Status = StatusProcessing
		emit(progress)

		if results[i].FetchError != "" {
			reason := "fetch existing blocklist: " + results[i].FetchError
			results[i].Status = StatusError
			results[i].Error = reason
			summary.FailedSites = append(summary.FailedSites, site.URL)

			progress.Status = StatusError
			progress.Error = reason
			emit(progress)
			continue
		}

		blocked, err := r.owner.client.ReplaceBlockedVisitors(ctx, site, r.entries)
		if err != nil {
			log.Warn("Could not update site blocklist", "site", site.URL, "error", err)
			results[i].Status = StatusError
			results[i].Error = err.Error()
			summary.FailedSites = append(summary.FailedSites, site.URL)

			progress.Status = StatusError
			progress.Error = err.Error()
			emit(progress)
			continue
		}

		results[i].Status = StatusSaved
		results[i].Success = true
		results[i].TotalBlocked = blocked

		progress.Status = StatusSaved
		emit(progress)
	}

	summary.NewDevices = fresh
	if len(fresh) > 0 && r.owner.notifier != nil {
		if err := r.owner.notifier.NotifyNewDevices(ctx, fresh); err != nil {
			log.Warn("New device notification failed", "devices", len(fresh), "error", err)
			summary.NotifyErr = err
		}
	}

	summary.Results = results
	summary.FinishedAt = r.owner.now()

	if r.owner.recorder != nil {
		row := summary.SyncRun()
		if err := r.owner.recorder.RecordSyncRun(ctx, &row); err != nil {
			log.Error("Could not record sync run", "error", err)
		}
	}

	if summary.Failed() {
		log.Warn("Blocklist sync finished with failures", "failed", len(summary.FailedSites), "sites", total)
	} else {
		log.Info("Blocklist sync finished", "sites", total, "new_devices", len(fresh))
	}

	emit(summary.FinalEvent())
	return summary
}

func collectKnownDevices(known map[string]struct{}, entries []domain.BlockedVisitor) {
	for _, entry := range entries {
		id := strings.TrimSpace(entry.DeviceID)
		if id == "" {
			continue
		}
		known[id] = struct{}{}
	}
}

// trulyNew returns the desired entries no site knew, first occurrence per
// device id. Entries without a device id are never announced.
func trulyNew(entries []domain.BlockedVisitor, known map[string]struct{}) []domain.NewDeviceNotice {
	seen := make(map[string]struct{}, len(entries))
	var fresh []domain.NewDeviceNotice
	for _, entry := range entries {
		if entry.DeviceID == "" {
			continue
		}
		if _, ok := known[entry.DeviceID]; ok {
			continue
		}
		if _, ok := seen[entry.DeviceID]; ok {
			continue
		}
		seen[entry.DeviceID] = struct{}{}
		fresh = append(fresh, domain.NewDeviceNotice{
			UTM:       entry.AffiliateUTM,
			DeviceID:  entry.DeviceID,
			NewDevice: true,
		})
	}
	return fresh
}
