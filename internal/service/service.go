package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"venuewatch/internal/alerting"
	"venuewatch/internal/config"
	"venuewatch/internal/kpi"
	"venuewatch/internal/orchestrator"
	"venuewatch/internal/scheduler"
	"venuewatch/internal/storage"
)

// Service glues the cycle together: orchestrate fetches per venue, refresh
// KPIs, generate alerts, persist and dispatch them.
type Service struct {
	scheduler  *scheduler.Scheduler
	orch       *orchestrator.Orchestrator
	calc       *kpi.Calculator
	generator  *alerting.Generator
	alertStore storage.AlertStore
	summaries  storage.SummaryStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	venues   []string
	sources  []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, orch *orchestrator.Orchestrator, calc *kpi.Calculator, generator *alerting.Generator, alertStore storage.AlertStore, summaries storage.SummaryStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := alertStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		orch:       orch,
		calc:       calc,
		generator:  generator,
		alertStore: alertStore,
		summaries:  summaries,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		venues:     cfg.Venues,
		sources:    cfg.SourceNames(),
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned cycle loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle runs one fetch cycle for every configured venue.
func (s *Service) ProcessCycle(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var errs []error
	for _, venueID := range s.venues {
		if err := s.ProcessVenue(ctx, venueID, bucket); err != nil {
			if errors.Is(err, orchestrator.ErrCycleInProgress) {
				s.logger.Warn().Str("venue_id", venueID).Msg("cycle already in progress, skipping venue")
				continue
			}
			s.logger.Error().Err(err).Str("venue_id", venueID).Msg("venue cycle failed")
			errs = append(errs, fmt.Errorf("venue %s: %w", venueID, err))
		}
	}
	return errors.Join(errs...)
}

// ProcessVenue runs one venue's cycle for the day containing bucket.
func (s *Service) ProcessVenue(ctx context.Context, venueID string, bucket time.Time) error {
	bucket = bucket.UTC()
	dayStart := time.Date(bucket.Year(), bucket.Month(), bucket.Day(), 0, 0, 0, 0, time.UTC)
	windowEnd := bucket
	if !windowEnd.After(dayStart) {
		windowEnd = dayStart.AddDate(0, 0, 1)
	}

	result, err := s.orch.FetchAllData(ctx, venueID, dayStart, windowEnd, s.sources)
	if err != nil {
		return err
	}

	if !s.alertsOn || s.generator == nil {
		return nil
	}

	metrics := s.buildMetrics(ctx, venueID, bucket, dayStart, result)
	alerts := s.generator.GenerateAlerts(metrics)
	if len(alerts) == 0 {
		return nil
	}

	if s.alertStore != nil {
		records := make([]storage.AlertRecord, 0, len(alerts))
		now := time.Now().UTC()
		for _, alert := range alerts {
			records = append(records, alerting.ToRecord(alert, now))
		}
		if err := s.alertStore.InsertAlerts(ctx, records); err != nil {
			s.logger.Error().Err(err).Str("venue_id", venueID).Msg("failed to persist alerts")
		}
	}

	if s.notifier != nil {
		for _, alert := range alerts {
			if err := s.notifier.Notify(ctx, alert); err != nil {
				s.logger.Error().Err(err).Str("venue_id", venueID).Str("type", alert.Type).Msg("failed to dispatch alert")
			}
		}
	}

	return nil
}

// buildMetrics assembles the snapshot every alert rule is evaluated against.
func (s *Service) buildMetrics(ctx context.Context, venueID string, bucket, dayStart time.Time, result *orchestrator.Result) alerting.Metrics {
	metrics := alerting.Metrics{
		VenueID:         venueID,
		CycleTime:       bucket,
		CurrentRevenue:  result.TotalRevenue,
		PreviousRevenue: decimal.Zero,
		SourcesFetched:  result.SourcesFetched,
		SourcesTotal:    result.SourcesTotal,
	}

	for _, outcome := range result.Outcomes {
		if !outcome.Success {
			metrics.FailedSources = append(metrics.FailedSources, outcome.Source)
		}
	}

	for _, txn := range result.Records {
		if strings.Contains(strings.ToLower(txn.Source), "ticket") {
			metrics.TicketsSold++
		}
	}

	if s.calc != nil {
		metrics.Realtime = s.calc.Realtime(venueID, bucket, result.Records)
	}

	if s.summaries != nil {
		previousDay := dayStart.AddDate(0, 0, -1)
		summaries, err := s.summaries.ListDailySummariesBetween(ctx, venueID, previousDay, previousDay)
		if err != nil {
			s.logger.Warn().Err(err).Str("venue_id", venueID).Msg("previous-day summary lookup failed")
		} else if len(summaries) > 0 {
			metrics.PreviousRevenue = summaries[0].Revenue
		}
	}

	return metrics
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
