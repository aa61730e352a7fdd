package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuewatch/internal/storage"
)

type fakeAlertStore struct {
	inserted []storage.AlertRecord
	err      error
}

func (f *fakeAlertStore) InsertAlerts(_ context.Context, alerts []storage.AlertRecord) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, alerts...)
	return nil
}

func (f *fakeAlertStore) ListActiveAlerts(context.Context, string, int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (f *fakeAlertStore) ResolveAlert(context.Context, string) error { return nil }

type fakeNotifier struct {
	alerts []Alert
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, alert Alert) error {
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

func TestToRecord(t *testing.T) {
	groupID := "group-1"
	createdAt := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	alert := Alert{
		VenueID:   "venue-1",
		Type:      TypeRevenueDrop,
		Severity:  SeverityCritical,
		Title:     "Revenue drop detected",
		Message:   "down 35%",
		Value:     decimal.NewFromInt(35),
		Threshold: decimal.NewFromInt(20),
		Context:   map[string]interface{}{"current_revenue": "650"},
		GroupID:   &groupID,
		ActionSuggestions: []ActionSuggestion{
			{Action: "review_sources", Description: "check providers", EstimatedImpact: "high"},
		},
	}

	rec := ToRecord(alert, createdAt)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "venue-1", rec.VenueID)
	assert.Equal(t, TypeRevenueDrop, rec.Type)
	assert.Equal(t, createdAt, rec.CreatedAt)
	require.NotNil(t, rec.GroupID)
	assert.Equal(t, groupID, *rec.GroupID)

	var ctx map[string]string
	require.NoError(t, json.Unmarshal(rec.Context, &ctx))
	assert.Equal(t, "650", ctx["current_revenue"])

	var actions []ActionSuggestion
	require.NoError(t, json.Unmarshal(rec.ActionSuggestions, &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, "review_sources", actions[0].Action)
}

func TestSystemEmitterPersistsAndNotifies(t *testing.T) {
	store := &fakeAlertStore{}
	notifier := &fakeNotifier{}
	emitter := NewSystemEmitter(store, notifier, testLogger())

	emitter.EmitSystemError(context.Background(), "venue-1", "pos", SeverityCritical, "pos fetch failed: timeout")

	require.Len(t, store.inserted, 1)
	assert.Equal(t, TypeSystemError, store.inserted[0].Type)
	assert.Equal(t, SeverityCritical, store.inserted[0].Severity)

	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, "pos fetch failed: timeout", notifier.alerts[0].Message)
}

func TestSystemEmitterSwallowsFailures(t *testing.T) {
	store := &fakeAlertStore{err: errors.New("db down")}
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	emitter := NewSystemEmitter(store, notifier, testLogger())

	// must not panic or block; failures are logged only
	emitter.EmitSystemError(context.Background(), "venue-1", "pos", SeverityHigh, "boom")
}

func TestSystemEmitterNilCollaborators(t *testing.T) {
	emitter := NewSystemEmitter(nil, nil, testLogger())
	emitter.EmitSystemError(context.Background(), "venue-1", "pos", SeverityMedium, "boom")
}
