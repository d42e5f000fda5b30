package quota

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/halcyonai/agentstore/pkg/observability"
	"github.com/halcyonai/agentstore/pkg/store"
)

// DefaultSweepSchedule runs the reset sweep at the top of every hour.
const DefaultSweepSchedule = "0 * * * *"

// Sweeper periodically scans every organization and team and resets any
// quota whose ResetDate has elapsed, so inactive tenants still reset on
// schedule rather than only on next use.
type Sweeper struct {
	store   store.Store
	manager *Manager
	logger  *observability.Logger
	cron    *cron.Cron
	spec    string
}

// NewSweeper creates a sweeper with the given cron spec (DefaultSweepSchedule
// when empty).
func NewSweeper(st store.Store, manager *Manager, logger *observability.Logger, spec string) *Sweeper {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	return &Sweeper{
		store:   st,
		manager: manager,
		logger:  logger,
		cron:    cron.New(),
		spec:    spec,
	}
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if err := s.SweepOnce(context.Background()); err != nil {
			s.logger.WithError(err).Error("quota sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule quota sweep: %w", err)
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.spec).Info("quota sweeper started")
	return nil
}

// Stop halts scheduling. A sweep already in flight runs to completion.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// SweepOnce scans all organizations and their teams, resetting every quota
// whose ResetDate has elapsed. Per-tenant failures are logged and skipped so
// one broken document cannot stall the sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list organizations: %w", err)
	}

	for _, org := range orgs {
		s.sweepQuota(ctx, org.ID, "")

		teams, err := s.store.ListTeams(ctx, org.ID)
		if err != nil {
			s.logger.WithError(err).WithField("org_id", org.ID).Error("failed to list teams during sweep")
			continue
		}
		for _, team := range teams {
			s.sweepQuota(ctx, org.ID, team.ID)
		}
	}
	return nil
}

func (s *Sweeper) sweepQuota(ctx context.Context, orgID, teamID string) {
	quota, err := s.store.GetQuota(ctx, orgID, teamID)
	if err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"org_id": orgID, "team_id": teamID,
		}).Error("failed to load quota during sweep")
		return
	}
	if quota == nil || s.manager.now().Before(quota.ResetDate) {
		return
	}

	if err := s.manager.ResetMonthlyQuota(ctx, orgID, teamID); err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"org_id": orgID, "team_id": teamID,
		}).Error("failed to reset quota during sweep")
	}
}
