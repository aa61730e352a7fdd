package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSnapshotSQL = `INSERT INTO snapshots (
        id, venue_id, status, started_at, per_source_fetched,
        total_revenue, transaction_count, unique_customers
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	completeSnapshotSQL = `UPDATE snapshots
    SET status = $2,
        completed_at = $3,
        per_source_fetched = $4,
        total_revenue = $5,
        transaction_count = $6,
        unique_customers = $7
    WHERE id = $1 AND status = $8;`

	failSnapshotSQL = `UPDATE snapshots
    SET status = $2, completed_at = $3, error_message = $4
    WHERE id = $1 AND status = $5;`

	findInProgressSnapshotSQL = `SELECT
        id, venue_id, status, started_at, completed_at,
        per_source_fetched, total_revenue, transaction_count,
        unique_customers, error_message
    FROM snapshots
    WHERE venue_id = $1 AND status = $2 AND started_at >= $3
    ORDER BY started_at DESC
    LIMIT 1;`

	listRecentSnapshotsSQL = `SELECT
        id, venue_id, status, started_at, completed_at,
        per_source_fetched, total_revenue, transaction_count,
        unique_customers, error_message
    FROM snapshots
    WHERE ($1 = '' OR venue_id = $1)
    ORDER BY started_at DESC
    LIMIT $2;`

	insertAlertSQL = `INSERT INTO alerts (
        id, venue_id, type, severity, title, message,
        value, threshold, context, group_id, action_suggestions, created_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`

	listActiveAlertsSQL = `SELECT
        id, venue_id, type, severity, title, message,
        value, threshold, context, group_id, action_suggestions,
        created_at, resolved_at
    FROM alerts
    WHERE resolved_at IS NULL AND ($1 = '' OR venue_id = $1)
    ORDER BY created_at DESC
    LIMIT $2;`

	resolveAlertSQL = `UPDATE alerts SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL;`

	insertErrorSQL = `INSERT INTO isolated_errors (
        id, venue_id, source, severity, error_type, message,
        occurred_at, retry_count, max_retries, resolved
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`

	updateErrorRetrySQL = `UPDATE isolated_errors
    SET retry_count = $2, resolved = $3
    WHERE id = $1;`

	getErrorSQL = `SELECT
        id, venue_id, source, severity, error_type, message,
        occurred_at, retry_count, max_retries, resolved
    FROM isolated_errors
    WHERE id = $1;`

	listOpenErrorsSQL = `SELECT
        id, venue_id, source, severity, error_type, message,
        occurred_at, retry_count, max_retries, resolved
    FROM isolated_errors
    WHERE NOT resolved AND ($1 = '' OR venue_id = $1)
    ORDER BY occurred_at DESC
    LIMIT $2;`

	errorStatsSQL = `SELECT
        source,
        COUNT(*) FILTER (WHERE NOT resolved) AS open,
        COUNT(*) FILTER (WHERE resolved) AS resolved
    FROM isolated_errors
    GROUP BY source
    ORDER BY source;`

	listOverridesSQL = `SELECT venue_id, date, actual_revenue, check_count
    FROM revenue_overrides
    WHERE venue_id = $1 AND date >= $2 AND date <= $3
    ORDER BY date;`

	upsertOverrideSQL = `INSERT INTO revenue_overrides (venue_id, date, actual_revenue, check_count)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (venue_id, date) DO UPDATE
    SET actual_revenue = EXCLUDED.actual_revenue,
        check_count    = EXCLUDED.check_count;`

	upsertDailySummarySQL = `INSERT INTO daily_summaries (
        venue_id, date, revenue, transaction_count, unique_customers, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (venue_id, date) DO UPDATE
    SET revenue          = EXCLUDED.revenue,
        transaction_count = EXCLUDED.transaction_count,
        unique_customers = EXCLUDED.unique_customers,
        updated_at       = EXCLUDED.updated_at;`

	listDailySummariesSQL = `SELECT
        venue_id, date, revenue, transaction_count, unique_customers, updated_at
    FROM daily_summaries
    WHERE venue_id = $1 AND date >= $2 AND date <= $3
    ORDER BY date;`

	insertTransactionSQL = `INSERT INTO transactions (
        id, venue_id, source, total_amount, amount, currency,
        customer_id, ts, category, transaction_type, payment_method
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    ON CONFLICT (venue_id, source, id) DO NOTHING;`

	customerHistorySQL = `SELECT EXISTS (
        SELECT 1 FROM transactions
        WHERE venue_id = $1 AND customer_id = $2 AND ts < $3
    );`

	listTransactionsSQL = `SELECT
        id, venue_id, source, total_amount, amount, currency,
        customer_id, ts, category, transaction_type, payment_method
    FROM transactions
    WHERE venue_id = $1 AND ts >= $2 AND ts < $3
    ORDER BY ts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines snapshot lifecycle persistence.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, venueID string) (Snapshot, error)
	CompleteSnapshot(ctx context.Context, id string, result SnapshotCompletion) error
	FailSnapshot(ctx context.Context, id string, errMsg string) error
	FindInProgressSnapshot(ctx context.Context, venueID string, since time.Time) (*Snapshot, error)
	ListRecentSnapshots(ctx context.Context, venueID string, limit int) ([]Snapshot, error)
}

// AlertStore defines alert persistence.
type AlertStore interface {
	InsertAlerts(ctx context.Context, alerts []AlertRecord) error
	ListActiveAlerts(ctx context.Context, venueID string, limit int) ([]AlertRecord, error)
	ResolveAlert(ctx context.Context, id string) error
}

// ErrorStore defines isolated-error persistence.
type ErrorStore interface {
	InsertError(ctx context.Context, rec IsolatedErrorRecord) error
	UpdateErrorRetry(ctx context.Context, id string, retryCount int, resolved bool) error
	GetError(ctx context.Context, id string) (*IsolatedErrorRecord, error)
	ListOpenErrors(ctx context.Context, venueID string, limit int) ([]IsolatedErrorRecord, error)
	ErrorStats(ctx context.Context) ([]SourceErrorStat, error)
}

// OverrideStore defines revenue override lookups.
type OverrideStore interface {
	ListOverridesBetween(ctx context.Context, venueID string, from, to time.Time) ([]RevenueOverride, error)
	UpsertOverride(ctx context.Context, override RevenueOverride) error
}

// SummaryStore defines derived daily summary persistence.
type SummaryStore interface {
	UpsertDailySummary(ctx context.Context, summary DailySummary) error
	ListDailySummariesBetween(ctx context.Context, venueID string, from, to time.Time) ([]DailySummary, error)
}

// TransactionLog keeps fetched transactions so customer history can be
// answered across cycles.
type TransactionLog interface {
	InsertTransactions(ctx context.Context, records []TransactionRecord) error
	HasCustomerActivityBefore(ctx context.Context, venueID, customerID string, before time.Time) (bool, error)
	ListTransactionsBetween(ctx context.Context, venueID string, from, to time.Time) ([]TransactionRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to all venuewatch persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// CreateSnapshot opens a new in-progress snapshot for a venue.
func (s *Store) CreateSnapshot(ctx context.Context, venueID string) (Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		ID:               uuid.NewString(),
		VenueID:          venueID,
		Status:           SnapshotInProgress,
		StartedAt:        time.Now().UTC(),
		PerSourceFetched: map[string]bool{},
		TotalRevenue:     decimal.Zero,
	}

	flags, err := json.Marshal(snap.PerSourceFetched)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal source flags: %w", err)
	}

	if _, execErr := pool.Exec(ctx, createSnapshotSQL,
		snap.ID,
		snap.VenueID,
		snap.Status,
		snap.StartedAt,
		flags,
		snap.TotalRevenue.String(),
		snap.TransactionCount,
		snap.UniqueCustomers,
	); execErr != nil {
		return Snapshot{}, fmt.Errorf("create snapshot: %w", execErr)
	}
	return snap, nil
}

// CompleteSnapshot records the cycle aggregates. The status guard makes the
// transition single-shot; a snapshot is never mutated twice.
func (s *Store) CompleteSnapshot(ctx context.Context, id string, result SnapshotCompletion) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	flags, err := json.Marshal(result.PerSourceFetched)
	if err != nil {
		return fmt.Errorf("marshal source flags: %w", err)
	}

	cmdTag, execErr := pool.Exec(ctx, completeSnapshotSQL,
		id,
		SnapshotCompleted,
		time.Now().UTC(),
		flags,
		result.TotalRevenue.String(),
		result.TransactionCount,
		result.UniqueCustomers,
		SnapshotInProgress,
	)
	if execErr != nil {
		return fmt.Errorf("complete snapshot: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// FailSnapshot marks a snapshot failed with the orchestration error message.
func (s *Store) FailSnapshot(ctx context.Context, id string, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, failSnapshotSQL, id, SnapshotFailed, time.Now().UTC(), errMsg, SnapshotInProgress)
	if execErr != nil {
		return fmt.Errorf("fail snapshot: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// FindInProgressSnapshot returns the newest unexpired in-progress snapshot
// for a venue, or nil when no cycle is running.
func (s *Store) FindInProgressSnapshot(ctx context.Context, venueID string, since time.Time) (*Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, findInProgressSnapshotSQL, venueID, SnapshotInProgress, since)
	if queryErr != nil {
		return nil, fmt.Errorf("find in-progress snapshot: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	snap, scanErr := scanSnapshot(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &snap, nil
}

// ListRecentSnapshots lists snapshots ordered by descending start time.
// An empty venueID matches all venues.
func (s *Store) ListRecentSnapshots(ctx context.Context, venueID string, limit int) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, venueID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]Snapshot, 0, limit)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// InsertAlerts persists a batch of alerts from one cycle.
func (s *Store) InsertAlerts(ctx context.Context, alerts []AlertRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, alert := range alerts {
		id := alert.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := alert.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		var groupID interface{}
		if alert.GroupID != nil {
			groupID = *alert.GroupID
		}

		if _, execErr := pool.Exec(ctx, insertAlertSQL,
			id,
			alert.VenueID,
			alert.Type,
			alert.Severity,
			alert.Title,
			alert.Message,
			alert.Value.String(),
			alert.Threshold.String(),
			[]byte(alert.Context),
			groupID,
			[]byte(alert.ActionSuggestions),
			createdAt,
		); execErr != nil {
			return fmt.Errorf("insert alert: %w", execErr)
		}
	}
	return nil
}

// ListActiveAlerts lists unresolved alerts, newest first. An empty venueID
// matches all venues.
func (s *Store) ListActiveAlerts(ctx context.Context, venueID string, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveAlertsSQL, venueID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list active alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// ResolveAlert stamps resolved_at on an open alert.
func (s *Store) ResolveAlert(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, resolveAlertSQL, id, time.Now().UTC())
	if execErr != nil {
		return fmt.Errorf("resolve alert: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// InsertError persists an isolated error record.
func (s *Store) InsertError(ctx context.Context, rec IsolatedErrorRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertErrorSQL,
		rec.ID,
		rec.VenueID,
		rec.Source,
		rec.Severity,
		rec.ErrorType,
		rec.Message,
		rec.OccurredAt,
		rec.RetryCount,
		rec.MaxRetries,
		rec.Resolved,
	); execErr != nil {
		return fmt.Errorf("insert error record: %w", execErr)
	}
	return nil
}

// UpdateErrorRetry records the outcome of one retry attempt.
func (s *Store) UpdateErrorRetry(ctx context.Context, id string, retryCount int, resolved bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateErrorRetrySQL, id, retryCount, resolved)
	if execErr != nil {
		return fmt.Errorf("update error retry: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetError looks up one isolated error record.
func (s *Store) GetError(ctx context.Context, id string) (*IsolatedErrorRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rec IsolatedErrorRecord
	scanErr := pool.QueryRow(ctx, getErrorSQL, id).Scan(
		&rec.ID,
		&rec.VenueID,
		&rec.Source,
		&rec.Severity,
		&rec.ErrorType,
		&rec.Message,
		&rec.OccurredAt,
		&rec.RetryCount,
		&rec.MaxRetries,
		&rec.Resolved,
	)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get error record: %w", scanErr)
	}
	return &rec, nil
}

// ListOpenErrors lists unresolved isolated errors, newest first. An empty
// venueID matches all venues.
func (s *Store) ListOpenErrors(ctx context.Context, venueID string, limit int) ([]IsolatedErrorRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpenErrorsSQL, venueID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list open errors: %w", queryErr)
	}
	defer rows.Close()

	records := make([]IsolatedErrorRecord, 0, limit)
	for rows.Next() {
		var rec IsolatedErrorRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.VenueID,
			&rec.Source,
			&rec.Severity,
			&rec.ErrorType,
			&rec.Message,
			&rec.OccurredAt,
			&rec.RetryCount,
			&rec.MaxRetries,
			&rec.Resolved,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ErrorStats aggregates open/resolved counts per source.
func (s *Store) ErrorStats(ctx context.Context) ([]SourceErrorStat, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, errorStatsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("error stats: %w", queryErr)
	}
	defer rows.Close()

	stats := make([]SourceErrorStat, 0)
	for rows.Next() {
		var stat SourceErrorStat
		if err := rows.Scan(&stat.Source, &stat.Open, &stat.Resolved); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return stats, nil
}

// ListOverridesBetween lists revenue overrides covering [from, to] inclusive.
func (s *Store) ListOverridesBetween(ctx context.Context, venueID string, from, to time.Time) ([]RevenueOverride, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOverridesSQL, venueID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list overrides: %w", queryErr)
	}
	defer rows.Close()

	overrides := make([]RevenueOverride, 0)
	for rows.Next() {
		var (
			override   RevenueOverride
			revenueStr string
			checkCount sql.NullInt64
		)
		if err := rows.Scan(&override.VenueID, &override.Date, &revenueStr, &checkCount); err != nil {
			return nil, err
		}
		revenue, convErr := decimal.NewFromString(revenueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse override revenue: %w", convErr)
		}
		override.ActualRevenue = revenue
		if checkCount.Valid {
			value := checkCount.Int64
			override.CheckCount = &value
		}
		overrides = append(overrides, override)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return overrides, nil
}

// UpsertOverride writes an authoritative revenue correction.
func (s *Store) UpsertOverride(ctx context.Context, override RevenueOverride) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var checkCount interface{}
	if override.CheckCount != nil {
		checkCount = *override.CheckCount
	}

	if _, execErr := pool.Exec(ctx, upsertOverrideSQL,
		override.VenueID,
		override.Date,
		override.ActualRevenue.String(),
		checkCount,
	); execErr != nil {
		return fmt.Errorf("upsert override: %w", execErr)
	}
	return nil
}

// UpsertDailySummary writes one derived daily aggregate.
func (s *Store) UpsertDailySummary(ctx context.Context, summary DailySummary) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	updatedAt := summary.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	if _, execErr := pool.Exec(ctx, upsertDailySummarySQL,
		summary.VenueID,
		summary.Date,
		summary.Revenue.String(),
		summary.TransactionCount,
		summary.UniqueCustomers,
		updatedAt,
	); execErr != nil {
		return fmt.Errorf("upsert daily summary: %w", execErr)
	}
	return nil
}

// ListDailySummariesBetween lists derived summaries covering [from, to].
func (s *Store) ListDailySummariesBetween(ctx context.Context, venueID string, from, to time.Time) ([]DailySummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDailySummariesSQL, venueID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list daily summaries: %w", queryErr)
	}
	defer rows.Close()

	summaries := make([]DailySummary, 0)
	for rows.Next() {
		var (
			summary    DailySummary
			revenueStr string
		)
		if err := rows.Scan(
			&summary.VenueID,
			&summary.Date,
			&revenueStr,
			&summary.TransactionCount,
			&summary.UniqueCustomers,
			&summary.UpdatedAt,
		); err != nil {
			return nil, err
		}
		revenue, convErr := decimal.NewFromString(revenueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse summary revenue: %w", convErr)
		}
		summary.Revenue = revenue
		summaries = append(summaries, summary)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return summaries, nil
}

// InsertTransactions appends fetched transactions to the history log.
// Records already seen in a previous cycle are skipped.
func (s *Store) InsertTransactions(ctx context.Context, records []TransactionRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, rec := range records {
		var total, amount interface{}
		if rec.TotalAmount != nil {
			total = rec.TotalAmount.String()
		}
		if rec.Amount != nil {
			amount = rec.Amount.String()
		}

		if _, execErr := pool.Exec(ctx, insertTransactionSQL,
			rec.ID,
			rec.VenueID,
			rec.Source,
			total,
			amount,
			rec.Currency,
			rec.CustomerID,
			rec.Timestamp,
			rec.Category,
			rec.TxnType,
			rec.PaymentMethod,
		); execErr != nil {
			return fmt.Errorf("insert transaction: %w", execErr)
		}
	}
	return nil
}

// HasCustomerActivityBefore answers the new-vs-returning classification query.
func (s *Store) HasCustomerActivityBefore(ctx context.Context, venueID, customerID string, before time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, customerHistorySQL, venueID, customerID, before).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("customer history: %w", scanErr)
	}
	return exists, nil
}

// ListTransactionsBetween lists logged transactions within [from, to).
func (s *Store) ListTransactionsBetween(ctx context.Context, venueID string, from, to time.Time) ([]TransactionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTransactionsSQL, venueID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list transactions: %w", queryErr)
	}
	defer rows.Close()

	records := make([]TransactionRecord, 0)
	for rows.Next() {
		rec, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanSnapshot(rows pgx.Rows) (Snapshot, error) {
	var (
		snap        Snapshot
		completedAt sql.NullTime
		flags       []byte
		revenueStr  string
		errMsg      sql.NullString
	)

	if err := rows.Scan(
		&snap.ID,
		&snap.VenueID,
		&snap.Status,
		&snap.StartedAt,
		&completedAt,
		&flags,
		&revenueStr,
		&snap.TransactionCount,
		&snap.UniqueCustomers,
		&errMsg,
	); err != nil {
		return Snapshot{}, err
	}

	revenue, err := decimal.NewFromString(revenueStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot revenue: %w", err)
	}
	snap.TotalRevenue = revenue

	snap.PerSourceFetched = map[string]bool{}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &snap.PerSourceFetched); err != nil {
			return Snapshot{}, fmt.Errorf("parse source flags: %w", err)
		}
	}

	if completedAt.Valid {
		value := completedAt.Time
		snap.CompletedAt = &value
	}
	if errMsg.Valid {
		msg := errMsg.String
		snap.ErrorMessage = &msg
	}
	return snap, nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec          AlertRecord
		valueStr     string
		thresholdStr string
		contextRaw   []byte
		groupID      sql.NullString
		actionsRaw   []byte
		resolvedAt   sql.NullTime
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.VenueID,
		&rec.Type,
		&rec.Severity,
		&rec.Title,
		&rec.Message,
		&valueStr,
		&thresholdStr,
		&contextRaw,
		&groupID,
		&actionsRaw,
		&rec.CreatedAt,
		&resolvedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse alert value: %w", err)
	}
	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse alert threshold: %w", err)
	}

	rec.Value = value
	rec.Threshold = threshold
	rec.Context = json.RawMessage(contextRaw)
	rec.ActionSuggestions = json.RawMessage(actionsRaw)

	if groupID.Valid {
		id := groupID.String
		rec.GroupID = &id
	}
	if resolvedAt.Valid {
		ts := resolvedAt.Time
		rec.ResolvedAt = &ts
	}
	return rec, nil
}

func scanTransaction(rows pgx.Rows) (TransactionRecord, error) {
	var (
		rec       TransactionRecord
		totalStr  sql.NullString
		amountStr sql.NullString
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.VenueID,
		&rec.Source,
		&totalStr,
		&amountStr,
		&rec.Currency,
		&rec.CustomerID,
		&rec.Timestamp,
		&rec.Category,
		&rec.TxnType,
		&rec.PaymentMethod,
	); err != nil {
		return TransactionRecord{}, err
	}

	if totalStr.Valid {
		total, err := decimal.NewFromString(totalStr.String)
		if err != nil {
			return TransactionRecord{}, fmt.Errorf("parse total amount: %w", err)
		}
		rec.TotalAmount = &total
	}
	if amountStr.Valid {
		amount, err := decimal.NewFromString(amountStr.String)
		if err != nil {
			return TransactionRecord{}, fmt.Errorf("parse amount: %w", err)
		}
		rec.Amount = &amount
	}
	return rec, nil
}
