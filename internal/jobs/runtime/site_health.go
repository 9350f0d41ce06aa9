package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"paygate/internal/config"
	"paygate/internal/domain"
	"paygate/internal/support"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

const (
	SiteHealthKey         = "paygate:site_health"
	siteHealthLockKey     = "paygate:leader:site_health"
	defaultHealthSchedule = "*/15 * * * *"
	siteHealthSaveTimeout = 5 * time.Second
)

// SiteHealth is the latest check result for one site.
type SiteHealth struct {
	SiteID    string    `json:"siteId"`
	URL       string    `json:"url"`
	OK        bool      `json:"ok"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
	Blocked   int       `json:"blocked"`
}

type SiteLister interface {
	ListSites(ctx context.Context) ([]domain.Site, error)
}

type BlocklistReader interface {
	GetBlockedVisitors(ctx context.Context, site domain.Site) ([]domain.BlockedVisitor, error)
}

// HealthStore keeps the latest check result per site.
type HealthStore interface {
	Replace(ctx context.Context, results []SiteHealth) error
	Load(ctx context.Context) ([]SiteHealth, error)
}

// RedisHealthStore shares check results between instances in one hash.
type RedisHealthStore struct {
	client *redis.Client
	key    string
}

func NewRedisHealthStore(client *redis.Client) *RedisHealthStore {
	return &RedisHealthStore{client: client, key: SiteHealthKey}
}

func (s *RedisHealthStore) Replace(ctx context.Context, results []SiteHealth) error {
	values := make(map[string]any, len(results))
	for _, r := range results {
		encoded, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode site health %s: %w", r.SiteID, err)
		}
		values[r.SiteID] = string(encoded)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	return err
}

func (s *RedisHealthStore) Load(ctx context.Context) ([]SiteHealth, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	results := make([]SiteHealth, 0, len(raw))
	for id, value := range raw {
		var h SiteHealth
		if err := json.Unmarshal([]byte(value), &h); err != nil {
			log.Warn("Discarding unreadable site health entry", "site_id", id, "error", err)
			continue
		}
		results = append(results, h)
	}
	sortHealth(results)
	return results, nil
}

// MemoryHealthStore is used when redis is unavailable.
type MemoryHealthStore struct {
	mu      sync.RWMutex
	results []SiteHealth
}

func (s *MemoryHealthStore) Replace(_ context.Context, results []SiteHealth) error {
	s.mu.Lock()
	s.results = append([]SiteHealth(nil), results...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryHealthStore) Load(context.Context) ([]SiteHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := append([]SiteHealth(nil), s.results...)
	sortHealth(results)
	return results, nil
}

func sortHealth(results []SiteHealth) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].URL < results[j].URL
	})
}

// SiteHealthMonitor checks every registered site's blocklist endpoint.
type SiteHealthMonitor struct {
	Sites  SiteLister
	Client BlocklistReader
	Store  HealthStore
	Now    func() time.Time
}

// RunOnce checks all sites sequentially and stores the results.
func (m *SiteHealthMonitor) RunOnce(ctx context.Context) ([]SiteHealth, error) {
	sites, err := m.Sites.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	results := make([]SiteHealth, 0, len(sites))
	failed := 0
	for _, site := range sites {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		h := SiteHealth{SiteID: site.ID, URL: site.URL}
		entries, err := m.Client.GetBlockedVisitors(ctx, site)
		h.CheckedAt = now().UTC()
		if err != nil {
			h.Error = err.Error()
			failed++
		} else {
			h.OK = true
			h.Blocked = len(entries)
		}
		results = append(results, h)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), siteHealthSaveTimeout)
	defer cancel()
	if err := m.Store.Replace(saveCtx, results); err != nil {
		return results, fmt.Errorf("store site health: %w", err)
	}

	log.Info("Site health check finished", "sites", len(results), "unreachable", failed)
	return results, nil
}

// HealthSchedule returns the configured cron expression or the default.
func HealthSchedule() string {
	schedule := strings.TrimSpace(config.GetConfig().HealthCheck.Schedule)
	if schedule == "" {
		return defaultHealthSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		log.Warn("Invalid health_check.schedule, using default", "schedule", schedule, "error", err)
		return defaultHealthSchedule
	}
	return schedule
}

// StartSiteHealthRoutine runs the monitor on its schedule until ctx is done.
// With redis only the leader instance runs checks.
func StartSiteHealthRoutine(ctx context.Context, monitor *SiteHealthMonitor, useLeader bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !config.GetConfig().HealthCheck.Enabled {
		log.Info("Site health check disabled")
		return
	}

	if !useLeader {
		runHealthSchedule(ctx, monitor)
		return
	}

	err := support.RunWithLeader(ctx, siteHealthLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runHealthSchedule(leaderCtx, monitor)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Site health routine stopped", "error", err)
	}
}

func runHealthSchedule(ctx context.Context, monitor *SiteHealthMonitor) {
	schedule := HealthSchedule()

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := monitor.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("Site health check failed", "error", err)
		}
	})
	if err != nil {
		log.Error("Could not schedule site health check", "schedule", schedule, "error", err)
		return
	}

	log.Debug("Site health check scheduled", "schedule", schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}
