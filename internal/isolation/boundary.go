package isolation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"venuewatch/internal/connector"
	"venuewatch/internal/storage"
)

// Severity levels assigned to isolated failures.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// Error types recognised by the classifier.
const (
	ErrTypeTimeout     = "timeout"
	ErrTypeConnection  = "connection"
	ErrTypeServerError = "server_error"
	ErrTypeAuth        = "auth"
	ErrTypeRateLimit   = "rate_limit"
	ErrTypeUnknown     = "unknown"
)

// ErrRetryBudgetExhausted is returned when a retry is requested past maxRetries.
var ErrRetryBudgetExhausted = errors.New("isolation: retry budget exhausted")

// SourceBoundary configures isolation behaviour for one source.
type SourceBoundary struct {
	RevenueCritical bool
	MaxRetries      int
	RetryDelay      time.Duration
	AlertOnFailure  bool
}

// SystemAlerter emits infrastructure alerts outside the rule-engine cooldown
// path. Failures here are logged, never propagated.
type SystemAlerter interface {
	EmitSystemError(ctx context.Context, venueID, source, severity, message string)
}

// IsolatedError is the in-memory form of a recorded failure.
type IsolatedError struct {
	ID         string
	VenueID    string
	Source     string
	Severity   string
	ErrorType  string
	Message    string
	OccurredAt time.Time
	RetryCount int
	MaxRetries int
	Resolved   bool
}

// Boundary converts connector failures into recorded, fallback-valued
// results. Callers above the boundary never see an error from a fetch.
type Boundary struct {
	sources  map[string]SourceBoundary
	errStore storage.ErrorStore
	alerter  SystemAlerter
	logger   zerolog.Logger
}

// New constructs a Boundary with per-source configuration.
func New(sources map[string]SourceBoundary, errStore storage.ErrorStore, alerter SystemAlerter, logger zerolog.Logger) *Boundary {
	if sources == nil {
		sources = map[string]SourceBoundary{}
	}
	return &Boundary{
		sources:  sources,
		errStore: errStore,
		alerter:  alerter,
		logger:   logger.With().Str("component", "isolation").Logger(),
	}
}

// FetchTransactions runs one connector fetch inside the boundary. On failure
// it classifies and records the error and returns the empty fallback slice;
// failure is data, not control flow.
func (b *Boundary) FetchTransactions(ctx context.Context, venueID, source string, op func(ctx context.Context) ([]connector.Transaction, error)) ([]connector.Transaction, *IsolatedError) {
	records, err := op(ctx)
	if err == nil {
		return records, nil
	}

	cfg := b.sources[source]
	errType := classifyErrorType(err)
	severity := classifySeverity(cfg, errType)

	isoErr := &IsolatedError{
		ID:         uuid.NewString(),
		VenueID:    venueID,
		Source:     source,
		Severity:   severity,
		ErrorType:  errType,
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
		RetryCount: 0,
		MaxRetries: cfg.MaxRetries,
	}

	b.logger.Warn().
		Str("source", source).
		Str("venue_id", venueID).
		Str("severity", severity).
		Str("error_type", errType).
		Err(err).
		Msg("connector failure isolated")

	if b.errStore != nil {
		if insertErr := b.errStore.InsertError(ctx, record(isoErr)); insertErr != nil {
			b.logger.Error().Err(insertErr).Str("source", source).Msg("failed to persist isolated error")
		}
	}

	if cfg.AlertOnFailure && b.alerter != nil {
		b.alerter.EmitSystemError(ctx, venueID, source, severity,
			fmt.Sprintf("%s fetch failed: %s", source, err.Error()))
	}

	return []connector.Transaction{}, isoErr
}

// Retry re-invokes the failed operation after the source's configured delay.
// On success the error is marked resolved; on failure the retry count is
// incremented and the error stays open. Retries are never silently infinite.
func (b *Boundary) Retry(ctx context.Context, errorID string, op func(ctx context.Context) ([]connector.Transaction, error)) ([]connector.Transaction, error) {
	if b.errStore == nil {
		return nil, storage.ErrNotConfigured
	}

	rec, err := b.errStore.GetError(ctx, errorID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("isolation: error %s not found", errorID)
	}
	if rec.Resolved {
		return nil, fmt.Errorf("isolation: error %s already resolved", errorID)
	}
	if rec.RetryCount >= rec.MaxRetries {
		return nil, ErrRetryBudgetExhausted
	}

	cfg := b.sources[rec.Source]
	if cfg.RetryDelay > 0 {
		timer := time.NewTimer(cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	records, opErr := op(ctx)
	if opErr != nil {
		if updateErr := b.errStore.UpdateErrorRetry(ctx, rec.ID, rec.RetryCount+1, false); updateErr != nil {
			b.logger.Error().Err(updateErr).Str("error_id", rec.ID).Msg("failed to record retry attempt")
		}
		return nil, fmt.Errorf("retry %s: %w", rec.Source, opErr)
	}

	if updateErr := b.errStore.UpdateErrorRetry(ctx, rec.ID, rec.RetryCount, true); updateErr != nil {
		b.logger.Error().Err(updateErr).Str("error_id", rec.ID).Msg("failed to mark error resolved")
	}

	b.logger.Info().Str("source", rec.Source).Str("error_id", rec.ID).Msg("retry succeeded, error resolved")
	return records, nil
}

// Stats reads per-source open/resolved error counts.
func (b *Boundary) Stats(ctx context.Context) ([]storage.SourceErrorStat, error) {
	if b.errStore == nil {
		return nil, storage.ErrNotConfigured
	}
	return b.errStore.ErrorStats(ctx)
}

func record(e *IsolatedError) storage.IsolatedErrorRecord {
	return storage.IsolatedErrorRecord{
		ID:         e.ID,
		VenueID:    e.VenueID,
		Source:     e.Source,
		Severity:   e.Severity,
		ErrorType:  e.ErrorType,
		Message:    e.Message,
		OccurredAt: e.OccurredAt,
		RetryCount: e.RetryCount,
		MaxRetries: e.MaxRetries,
		Resolved:   e.Resolved,
	}
}

func classifyErrorType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrTypeTimeout
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "broken pipe"):
		return ErrTypeConnection
	case strings.Contains(msg, "(429)") || strings.Contains(msg, "rate limit"):
		return ErrTypeRateLimit
	case strings.Contains(msg, "(401)") || strings.Contains(msg, "(403)") || strings.Contains(msg, "unauthorized"):
		return ErrTypeAuth
	case containsServerStatus(msg):
		return ErrTypeServerError
	default:
		return ErrTypeUnknown
	}
}

// containsServerStatus matches the "(5xx)" status rendered by the connector
// error formatter.
func containsServerStatus(msg string) bool {
	for status := 500; status <= 599; status++ {
		if strings.Contains(msg, fmt.Sprintf("(%d)", status)) {
			return true
		}
	}
	return false
}

func classifySeverity(cfg SourceBoundary, errType string) string {
	connectivity := errType == ErrTypeTimeout || errType == ErrTypeConnection || errType == ErrTypeServerError
	switch {
	case cfg.RevenueCritical && connectivity:
		return SeverityCritical
	case cfg.RevenueCritical:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
