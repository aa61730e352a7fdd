package alerting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"venuewatch/internal/storage"
)

// ToRecord converts a domain alert to its persisted form.
func ToRecord(alert Alert, createdAt time.Time) storage.AlertRecord {
	contextRaw, err := json.Marshal(alert.Context)
	if err != nil {
		contextRaw = []byte("{}")
	}
	actionsRaw, err := json.Marshal(alert.ActionSuggestions)
	if err != nil {
		actionsRaw = []byte("[]")
	}

	return storage.AlertRecord{
		ID:                uuid.NewString(),
		VenueID:           alert.VenueID,
		Type:              alert.Type,
		Severity:          alert.Severity,
		Title:             alert.Title,
		Message:           alert.Message,
		Value:             alert.Value,
		Threshold:         alert.Threshold,
		Context:           contextRaw,
		GroupID:           alert.GroupID,
		ActionSuggestions: actionsRaw,
		CreatedAt:         createdAt,
	}
}

// SystemEmitter delivers infrastructure alerts from the isolation layer.
// This path is independent of the rule engine and its cooldowns.
type SystemEmitter struct {
	store    storage.AlertStore
	notifier Notifier
	logger   zerolog.Logger
}

// NewSystemEmitter constructs a SystemEmitter. Both collaborators may be nil.
func NewSystemEmitter(store storage.AlertStore, notifier Notifier, logger zerolog.Logger) *SystemEmitter {
	return &SystemEmitter{
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "system_alerts").Logger(),
	}
}

// EmitSystemError persists and dispatches a system_error alert. Failures are
// logged and swallowed; the isolation layer must never block on alerting.
func (e *SystemEmitter) EmitSystemError(ctx context.Context, venueID, source, severity, message string) {
	alert := Alert{
		VenueID:  venueID,
		Type:     TypeSystemError,
		Severity: severity,
		Title:    "Source connection failure",
		Message:  message,
		Value:    decimal.Zero,
		Context: map[string]interface{}{
			"source": source,
		},
	}

	if e.store != nil {
		if err := e.store.InsertAlerts(ctx, []storage.AlertRecord{ToRecord(alert, time.Now().UTC())}); err != nil {
			e.logger.Error().Err(err).Str("source", source).Msg("failed to persist system alert")
		}
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, alert); err != nil {
			e.logger.Error().Err(err).Str("source", source).Msg("failed to dispatch system alert")
		}
	}
}
