package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"venuewatch/internal/connector"
	"venuewatch/internal/isolation"
	"venuewatch/internal/storage"
)

// ErrCycleInProgress is returned when an unexpired in-progress snapshot
// already exists for the venue.
var ErrCycleInProgress = errors.New("orchestrator: cycle already in progress")

// FetchOutcome summarises one source's fate within a cycle.
type FetchOutcome struct {
	Source      string
	Success     bool
	RecordCount int
	Error       string
	Duration    time.Duration
}

// Result is the settled outcome of one orchestration cycle.
type Result struct {
	Snapshot           storage.Snapshot
	Outcomes           []FetchOutcome
	Records            []connector.Transaction
	TotalRevenue       decimal.Decimal
	TransactionCount   int64
	AverageTransaction decimal.Decimal
	UniqueCustomers    int64
	SourcesFetched     int
	SourcesTotal       int
}

// SummaryRefresher recomputes derived daily summaries after a successful
// cycle. Refresh failures are logged, never fatal.
type SummaryRefresher interface {
	RefreshDailySummaries(ctx context.Context, venueID string, from, to time.Time, records []connector.Transaction) error
}

// Options tune orchestrator behaviour.
type Options struct {
	// StaleAfter bounds how long an in-progress snapshot blocks new cycles.
	StaleAfter time.Duration
}

// Orchestrator fans out per-source fetches and owns the snapshot lifecycle
// for its cycle.
type Orchestrator struct {
	registry  *connector.Registry
	boundary  *isolation.Boundary
	snapshots storage.SnapshotStore
	txnLog    storage.TransactionLog
	refresher SummaryRefresher
	opts      Options
	logger    zerolog.Logger
}

// New constructs an Orchestrator. txnLog and refresher may be nil.
func New(registry *connector.Registry, boundary *isolation.Boundary, snapshots storage.SnapshotStore, txnLog storage.TransactionLog, refresher SummaryRefresher, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	return &Orchestrator{
		registry:  registry,
		boundary:  boundary,
		snapshots: snapshots,
		txnLog:    txnLog,
		refresher: refresher,
		opts:      opts,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
	}
}

// FetchAllData runs one cycle: snapshot creation, settled fan-out across all
// sources, aggregation, and snapshot completion. Per-source failures are
// isolated; only snapshot-level failures propagate to the caller.
func (o *Orchestrator) FetchAllData(ctx context.Context, venueID string, from, to time.Time, sources []string) (*Result, error) {
	if len(sources) == 0 {
		return nil, errors.New("orchestrator: no sources requested")
	}

	inProgress, err := o.snapshots.FindInProgressSnapshot(ctx, venueID, time.Now().UTC().Add(-o.opts.StaleAfter))
	if err != nil {
		return nil, fmt.Errorf("check in-progress snapshot: %w", err)
	}
	if inProgress != nil {
		return nil, fmt.Errorf("%w: snapshot %s started %s", ErrCycleInProgress, inProgress.ID, inProgress.StartedAt.Format(time.RFC3339))
	}

	snap, err := o.snapshots.CreateSnapshot(ctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}

	outcomes := o.fanOut(ctx, venueID, from, to, sources)

	result := &Result{
		Snapshot:           snap,
		Outcomes:           make([]FetchOutcome, 0, len(outcomes)),
		TotalRevenue:       decimal.Zero,
		AverageTransaction: decimal.Zero,
		SourcesTotal:       len(sources),
	}

	customers := map[string]bool{}
	perSource := map[string]bool{}
	for _, outcome := range outcomes {
		result.Outcomes = append(result.Outcomes, outcome.FetchOutcome)
		perSource[outcome.Source] = outcome.Success
		if outcome.Success {
			result.SourcesFetched++
		}
		for _, txn := range outcome.records {
			result.Records = append(result.Records, txn)
			result.TotalRevenue = result.TotalRevenue.Add(txn.RevenueAmount())
			result.TransactionCount++
			if txn.CustomerID != "" {
				customers[txn.CustomerID] = true
			}
		}
	}
	result.UniqueCustomers = int64(len(customers))
	if result.TransactionCount > 0 {
		result.AverageTransaction = result.TotalRevenue.Div(decimal.NewFromInt(result.TransactionCount))
	}

	if o.txnLog != nil && len(result.Records) > 0 {
		if logErr := o.txnLog.InsertTransactions(ctx, toRecords(venueID, result.Records)); logErr != nil {
			o.logger.Error().Err(logErr).Str("venue_id", venueID).Msg("failed to log fetched transactions")
		}
	}

	completion := storage.SnapshotCompletion{
		PerSourceFetched: perSource,
		TotalRevenue:     result.TotalRevenue,
		TransactionCount: result.TransactionCount,
		UniqueCustomers:  result.UniqueCustomers,
	}
	if err := o.snapshots.CompleteSnapshot(ctx, snap.ID, completion); err != nil {
		if failErr := o.snapshots.FailSnapshot(ctx, snap.ID, err.Error()); failErr != nil {
			o.logger.Error().Err(failErr).Str("snapshot_id", snap.ID).Msg("failed to mark snapshot failed")
		}
		return nil, fmt.Errorf("complete snapshot: %w", err)
	}
	result.Snapshot.Status = storage.SnapshotCompleted
	result.Snapshot.PerSourceFetched = perSource
	result.Snapshot.TotalRevenue = result.TotalRevenue
	result.Snapshot.TransactionCount = result.TransactionCount
	result.Snapshot.UniqueCustomers = result.UniqueCustomers

	o.logger.Info().
		Str("venue_id", venueID).
		Str("snapshot_id", snap.ID).
		Int("sources_fetched", result.SourcesFetched).
		Int("sources_total", result.SourcesTotal).
		Str("total_revenue", result.TotalRevenue.String()).
		Int64("transactions", result.TransactionCount).
		Msgf("cycle completed: %d of %d sources fetched", result.SourcesFetched, result.SourcesTotal)

	if o.refresher != nil {
		if err := o.refresher.RefreshDailySummaries(ctx, venueID, from, to, result.Records); err != nil {
			o.logger.Error().Err(err).Str("venue_id", venueID).Msg("daily summary refresh failed")
		}
	}

	return result, nil
}

type settledOutcome struct {
	FetchOutcome
	records []connector.Transaction
}

// fanOut issues one concurrent task per source and waits for all of them to
// settle. No task's failure cancels or blocks its siblings.
func (o *Orchestrator) fanOut(ctx context.Context, venueID string, from, to time.Time, sources []string) []settledOutcome {
	outcomes := make([]settledOutcome, len(sources))

	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()
			started := time.Now()

			conn, err := o.registry.Get(source)
			if err != nil {
				// unconfigured source: fail immediately, no retry budget spent
				outcomes[i] = settledOutcome{FetchOutcome: FetchOutcome{
					Source:   source,
					Success:  false,
					Error:    err.Error(),
					Duration: time.Since(started),
				}}
				return
			}

			records, isoErr := o.boundary.FetchTransactions(ctx, venueID, source, func(ctx context.Context) ([]connector.Transaction, error) {
				return conn.FetchAllTransactions(ctx, from, to)
			})

			outcome := settledOutcome{
				FetchOutcome: FetchOutcome{
					Source:      source,
					Success:     isoErr == nil,
					RecordCount: len(records),
					Duration:    time.Since(started),
				},
				records: records,
			}
			if isoErr != nil {
				outcome.Error = isoErr.Message
			}
			outcomes[i] = outcome
		}(i, source)
	}
	wg.Wait()

	return outcomes
}

func toRecords(venueID string, records []connector.Transaction) []storage.TransactionRecord {
	out := make([]storage.TransactionRecord, 0, len(records))
	for _, txn := range records {
		out = append(out, storage.TransactionRecord{
			ID:            txn.ID,
			VenueID:       venueID,
			Source:        txn.Source,
			TotalAmount:   txn.TotalAmount,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			CustomerID:    txn.CustomerID,
			Timestamp:     txn.Timestamp,
			Category:      txn.Category,
			TxnType:       txn.TransactionType,
			PaymentMethod: txn.PaymentMethod,
		})
	}
	return out
}
