// Package quota provides admission control and usage accounting across three
// resource axes: storage (absolute), requests and bandwidth (monthly, with
// lazy auto-reset).
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/halcyonai/agentstore/pkg/observability"
	"github.com/halcyonai/agentstore/pkg/store"
	"github.com/halcyonai/agentstore/pkg/tenant"
)

// Axis identifies one metered resource.
type Axis string

const (
	AxisStorage   Axis = "storage"
	AxisRequest   Axis = "request"
	AxisBandwidth Axis = "bandwidth"
)

// Remaining reports headroom on every axis at check time.
type Remaining struct {
	Storage   int64 `json:"storage"`
	Requests  int64 `json:"requests"`
	Bandwidth int64 `json:"bandwidth"`
}

// CheckResult is the outcome of an admission check.
type CheckResult struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	Remaining Remaining `json:"remaining"`
	ResetDate time.Time `json:"reset_date"`
}

// Usage carries the deltas applied by RecordUsage.
type Usage struct {
	Storage   int64
	Requests  int64
	Bandwidth int64
}

// Alert describes one crossed usage threshold.
type Alert struct {
	OrganizationID string    `json:"organization_id"`
	TeamID         string    `json:"team_id,omitempty"`
	Axis           Axis      `json:"axis"`
	Threshold      int       `json:"threshold"`
	Used           int64     `json:"used"`
	Limit          int64     `json:"limit"`
	FiredAt        time.Time `json:"fired_at"`
}

// ThresholdHandler receives fired alerts. Handlers run synchronously on the
// recording path but failures and panics are isolated.
type ThresholdHandler func(alert Alert)

// DefaultThresholds are the percentages at which usage alerts fire.
var DefaultThresholds = []int{80, 90, 95}

// Manager enforces quotas against the store.
type Manager struct {
	store      store.Store
	logger     *observability.Logger
	metrics    *observability.Metrics
	thresholds []int
	handlers   []ThresholdHandler

	// tenantMu serializes quota mutation per tenant scope. Plain
	// CheckQuota/RecordUsage keep the documented non-atomic window between
	// them; Reserve holds the lock across check and record.
	mu       sync.Mutex
	tenantMu map[string]*sync.Mutex

	now func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithThresholds overrides the alert thresholds (percentages, ascending).
func WithThresholds(thresholds []int) ManagerOption {
	return func(m *Manager) { m.thresholds = thresholds }
}

// WithThresholdHandler appends an alert handler.
func WithThresholdHandler(h ThresholdHandler) ManagerOption {
	return func(m *Manager) { m.handlers = append(m.handlers, h) }
}

// WithMetrics wires quota metrics.
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a quota manager.
func NewManager(st store.Store, logger *observability.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      st,
		logger:     logger,
		thresholds: DefaultThresholds,
		tenantMu:   make(map[string]*sync.Mutex),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lockFor(orgID, teamID string) *sync.Mutex {
	key := orgID
	if teamID != "" {
		key = orgID + "/" + teamID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.tenantMu[key]
	if !ok {
		mu = &sync.Mutex{}
		m.tenantMu[key] = mu
	}
	return mu
}

// loadQuota fetches the tenant's quota document, lazily seeding it from
// organization defaults when absent. The store cache hands the same document
// pointer to every caller, so the returned document is always a private copy;
// mutations become visible to other callers only through a successful
// SaveQuota, which re-caches the new state atomically with the write.
func (m *Manager) loadQuota(ctx context.Context, tctx *tenant.Context) (*tenant.UsageQuota, error) {
	teamID := ""
	if tctx.Team != nil {
		teamID = tctx.Team.ID
	}

	quota, err := m.store.GetQuota(ctx, tctx.Organization.ID, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quota: %w", err)
	}
	if quota == nil {
		quota = tenant.DefaultQuota(tctx.Organization)
		quota.TeamID = teamID
		if err := m.store.SaveQuota(ctx, quota); err != nil {
			return nil, fmt.Errorf("failed to seed quota: %w", err)
		}
	}
	owned := *quota
	return &owned, nil
}

// maybeReset applies the lazy monthly reset when ResetDate has elapsed.
// Storage is never reset. Returns whether a reset was persisted.
func (m *Manager) maybeReset(ctx context.Context, quota *tenant.UsageQuota) (bool, error) {
	if m.now().Before(quota.ResetDate) {
		return false, nil
	}
	if err := m.resetMonthly(ctx, quota); err != nil {
		return false, err
	}
	return true, nil
}

// resetMonthly zeroes the monthly counters on quota and persists it. The
// caller must own the document; shared cached pointers are never mutated.
func (m *Manager) resetMonthly(ctx context.Context, quota *tenant.UsageQuota) error {
	now := m.now().UTC()
	quota.RequestsUsed = 0
	quota.BandwidthUsed = 0
	quota.ResetDate = tenant.FirstOfNextMonth(now)
	quota.UpdatedAt = now

	if err := m.store.SaveQuota(ctx, quota); err != nil {
		return fmt.Errorf("failed to persist quota reset: %w", err)
	}
	if m.metrics != nil {
		m.metrics.QuotaResetsTotal.Inc()
	}
	m.logger.WithFields(map[string]interface{}{
		"org_id":     quota.OrganizationID,
		"team_id":    quota.TeamID,
		"reset_date": quota.ResetDate,
	}).Info("monthly quota reset")
	return nil
}

// ResetMonthlyQuota zeroes the monthly counters (requests and bandwidth only;
// storage is untouched) and advances ResetDate to the first day of the next
// calendar month measured from the reset moment. Missing quota documents are
// a no-op.
func (m *Manager) ResetMonthlyQuota(ctx context.Context, orgID, teamID string) error {
	mu := m.lockFor(orgID, teamID)
	mu.Lock()
	defer mu.Unlock()

	quota, err := m.store.GetQuota(ctx, orgID, teamID)
	if err != nil {
		return fmt.Errorf("failed to load quota: %w", err)
	}
	if quota == nil {
		return nil
	}
	owned := *quota
	return m.resetMonthly(ctx, &owned)
}

func remaining(quota *tenant.UsageQuota) Remaining {
	clamp := func(v int64) int64 {
		if v < 0 {
			return 0
		}
		return v
	}
	return Remaining{
		Storage:   clamp(quota.StorageLimit - quota.StorageUsed),
		Requests:  clamp(quota.RequestLimit - quota.RequestsUsed),
		Bandwidth: clamp(quota.BandwidthLimit - quota.BandwidthUsed),
	}
}

// CheckQuota decides whether amount more of the given axis fits within the
// tenant's limits. For request and bandwidth the monthly counters are lazily
// reset first when ResetDate has elapsed. Denial is a result, not an error;
// errors are genuine I/O failures only.
func (m *Manager) CheckQuota(ctx context.Context, tctx *tenant.Context, axis Axis, amount int64) (*CheckResult, error) {
	quota, err := m.loadQuota(ctx, tctx)
	if err != nil {
		return nil, err
	}
	result, err := m.check(ctx, quota, axis, amount)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.QuotaChecksTotal.WithLabelValues(string(axis), fmt.Sprintf("%t", result.Allowed)).Inc()
	}
	return result, nil
}

func (m *Manager) check(ctx context.Context, quota *tenant.UsageQuota, axis Axis, amount int64) (*CheckResult, error) {
	var used, limit int64
	switch axis {
	case AxisStorage:
		used, limit = quota.StorageUsed, quota.StorageLimit
	case AxisRequest, AxisBandwidth:
		if _, err := m.maybeReset(ctx, quota); err != nil {
			return nil, err
		}
		if axis == AxisRequest {
			used, limit = quota.RequestsUsed, quota.RequestLimit
		} else {
			used, limit = quota.BandwidthUsed, quota.BandwidthLimit
		}
	default:
		return nil, fmt.Errorf("unknown quota axis %q", axis)
	}

	result := &CheckResult{
		Remaining: remaining(quota),
		ResetDate: quota.ResetDate,
	}
	if used+amount > limit {
		result.Allowed = false
		result.Reason = fmt.Sprintf("%s quota exceeded: %d + %d > %d", axis, used, amount, limit)
		return result, nil
	}
	result.Allowed = true
	return result, nil
}

// RecordUsage unconditionally applies the deltas; it does not re-validate
// against limits, so callers must check first. Between CheckQuota and
// RecordUsage two concurrent callers for the same tenant can both pass and
// jointly overshoot; use Reserve when that matters.
func (m *Manager) RecordUsage(ctx context.Context, tctx *tenant.Context, delta Usage) error {
	mu := m.lockForContext(tctx)
	mu.Lock()
	defer mu.Unlock()
	return m.recordLocked(ctx, tctx, delta)
}

// Reserve is the atomic variant: it holds the tenant's lock across the
// admission check and the increment, closing the check-then-record window.
func (m *Manager) Reserve(ctx context.Context, tctx *tenant.Context, axis Axis, amount int64) (*CheckResult, error) {
	mu := m.lockForContext(tctx)
	mu.Lock()
	defer mu.Unlock()

	quota, err := m.loadQuota(ctx, tctx)
	if err != nil {
		return nil, err
	}
	result, err := m.check(ctx, quota, axis, amount)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.QuotaChecksTotal.WithLabelValues(string(axis), fmt.Sprintf("%t", result.Allowed)).Inc()
	}
	if !result.Allowed {
		return result, nil
	}

	var delta Usage
	switch axis {
	case AxisStorage:
		delta.Storage = amount
	case AxisRequest:
		delta.Requests = amount
	case AxisBandwidth:
		delta.Bandwidth = amount
	}
	if err := m.recordLocked(ctx, tctx, delta); err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) lockForContext(tctx *tenant.Context) *sync.Mutex {
	teamID := ""
	if tctx.Team != nil {
		teamID = tctx.Team.ID
	}
	return m.lockFor(tctx.Organization.ID, teamID)
}

func (m *Manager) recordLocked(ctx context.Context, tctx *tenant.Context, delta Usage) error {
	quota, err := m.loadQuota(ctx, tctx)
	if err != nil {
		return err
	}

	before := *quota
	quota.StorageUsed += delta.Storage
	if quota.StorageUsed < 0 {
		quota.StorageUsed = 0
	}
	quota.RequestsUsed += delta.Requests
	quota.BandwidthUsed += delta.Bandwidth
	quota.UpdatedAt = m.now().UTC()

	if err := m.store.SaveQuota(ctx, quota); err != nil {
		return fmt.Errorf("failed to persist usage: %w", err)
	}
	if m.metrics != nil {
		m.metrics.QuotaUsageRecords.Inc()
	}

	m.fireThresholdAlerts(&before, quota)
	return nil
}

// fireThresholdAlerts fires one alert per threshold newly crossed by this
// increment, per axis. A single large increment can cross several thresholds
// at once. Handler failures are isolated so they cannot abort the recording
// call that triggered them.
func (m *Manager) fireThresholdAlerts(before, after *tenant.UsageQuota) {
	type axisState struct {
		axis               Axis
		usedBefore, used   int64
		limit              int64
	}
	states := []axisState{
		{AxisStorage, before.StorageUsed, after.StorageUsed, after.StorageLimit},
		{AxisRequest, before.RequestsUsed, after.RequestsUsed, after.RequestLimit},
		{AxisBandwidth, before.BandwidthUsed, after.BandwidthUsed, after.BandwidthLimit},
	}

	for _, s := range states {
		if s.limit <= 0 || s.used <= s.usedBefore {
			continue
		}
		pctBefore := s.usedBefore * 100 / s.limit
		pctAfter := s.used * 100 / s.limit
		for _, threshold := range m.thresholds {
			if pctBefore < int64(threshold) && pctAfter >= int64(threshold) {
				m.fireAlert(Alert{
					OrganizationID: after.OrganizationID,
					TeamID:         after.TeamID,
					Axis:           s.axis,
					Threshold:      threshold,
					Used:           s.used,
					Limit:          s.limit,
					FiredAt:        m.now().UTC(),
				})
			}
		}
	}
}

func (m *Manager) fireAlert(alert Alert) {
	if m.metrics != nil {
		m.metrics.QuotaAlertsTotal.WithLabelValues(fmt.Sprintf("%d", alert.Threshold)).Inc()
	}
	m.logger.WithFields(map[string]interface{}{
		"org_id":    alert.OrganizationID,
		"team_id":   alert.TeamID,
		"axis":      alert.Axis,
		"threshold": alert.Threshold,
		"used":      alert.Used,
		"limit":     alert.Limit,
	}).Warn("quota usage threshold crossed")

	for _, handler := range m.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.WithField("panic", r).Error("quota alert handler panicked")
				}
			}()
			handler(alert)
		}()
	}
}
