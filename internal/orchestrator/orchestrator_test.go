package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuewatch/internal/connector"
	"venuewatch/internal/isolation"
	"venuewatch/internal/storage"
)

type fakeSnapshotStore struct {
	inProgress  *storage.Snapshot
	created     []storage.Snapshot
	completions map[string]storage.SnapshotCompletion
	failures    map[string]string
	completeErr error
	createErr   error
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{
		completions: map[string]storage.SnapshotCompletion{},
		failures:    map[string]string{},
	}
}

func (f *fakeSnapshotStore) CreateSnapshot(_ context.Context, venueID string) (storage.Snapshot, error) {
	if f.createErr != nil {
		return storage.Snapshot{}, f.createErr
	}
	snap := storage.Snapshot{
		ID:               "snap-1",
		VenueID:          venueID,
		Status:           storage.SnapshotInProgress,
		StartedAt:        time.Now().UTC(),
		PerSourceFetched: map[string]bool{},
		TotalRevenue:     decimal.Zero,
	}
	f.created = append(f.created, snap)
	return snap, nil
}

func (f *fakeSnapshotStore) CompleteSnapshot(_ context.Context, id string, result storage.SnapshotCompletion) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completions[id] = result
	return nil
}

func (f *fakeSnapshotStore) FailSnapshot(_ context.Context, id string, errMsg string) error {
	f.failures[id] = errMsg
	return nil
}

func (f *fakeSnapshotStore) FindInProgressSnapshot(_ context.Context, _ string, _ time.Time) (*storage.Snapshot, error) {
	return f.inProgress, nil
}

func (f *fakeSnapshotStore) ListRecentSnapshots(context.Context, string, int) ([]storage.Snapshot, error) {
	return nil, nil
}

type fakeConnector struct {
	records []connector.Transaction
	err     error
}

func (f *fakeConnector) TestConnection(context.Context) connector.ConnectionStatus {
	return connector.ConnectionStatus{Success: f.err == nil}
}

func (f *fakeConnector) FetchAllTransactions(context.Context, time.Time, time.Time) ([]connector.Transaction, error) {
	return f.records, f.err
}

type fakeTxnLog struct {
	inserted []storage.TransactionRecord
	err      error
}

func (f *fakeTxnLog) InsertTransactions(_ context.Context, records []storage.TransactionRecord) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, records...)
	return nil
}

func (f *fakeTxnLog) HasCustomerActivityBefore(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}

func (f *fakeTxnLog) ListTransactionsBetween(context.Context, string, time.Time, time.Time) ([]storage.TransactionRecord, error) {
	return nil, nil
}

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func testWindow() (time.Time, time.Time) {
	from := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}

func newTestOrchestrator(registry *connector.Registry, snaps storage.SnapshotStore, txnLog storage.TransactionLog) *Orchestrator {
	boundary := isolation.New(nil, nil, nil, zerolog.Nop())
	return New(registry, boundary, snaps, txnLog, nil, Options{}, zerolog.Nop())
}

func TestFetchAllDataPartialFailure(t *testing.T) {
	registry := connector.NewRegistry()
	registry.Register("pos", &fakeConnector{records: []connector.Transaction{
		{ID: "t1", Source: "pos", TotalAmount: decPtr(100), CustomerID: "alice"},
		{ID: "t2", Source: "pos", TotalAmount: decPtr(50), CustomerID: "bob"},
	}})
	registry.Register("tickets", &fakeConnector{err: errors.New(`tickets api error (503): maintenance`)})

	snaps := newFakeSnapshotStore()
	txnLog := &fakeTxnLog{}
	o := newTestOrchestrator(registry, snaps, txnLog)

	from, to := testWindow()
	result, err := o.FetchAllData(context.Background(), "venue-1", from, to, []string{"pos", "tickets"})
	require.NoError(t, err, "a failing source must not fail the cycle")

	assert.Equal(t, 1, result.SourcesFetched)
	assert.Equal(t, 2, result.SourcesTotal)
	assert.True(t, result.TotalRevenue.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, int64(2), result.TransactionCount)
	assert.True(t, result.AverageTransaction.Equal(decimal.NewFromInt(75)))
	assert.Equal(t, int64(2), result.UniqueCustomers)

	// outcomes preserve the requested source order
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "pos", result.Outcomes[0].Source)
	assert.True(t, result.Outcomes[0].Success)
	assert.Equal(t, "tickets", result.Outcomes[1].Source)
	assert.False(t, result.Outcomes[1].Success)
	assert.Contains(t, result.Outcomes[1].Error, "(503)")

	completion, ok := snaps.completions["snap-1"]
	require.True(t, ok, "snapshot must be completed")
	assert.Equal(t, map[string]bool{"pos": true, "tickets": false}, completion.PerSourceFetched)
	assert.Equal(t, storage.SnapshotCompleted, result.Snapshot.Status)

	assert.Len(t, txnLog.inserted, 2, "fetched records are logged for customer history")
}

func TestFetchAllDataAllSourcesFail(t *testing.T) {
	registry := connector.NewRegistry()
	registry.Register("pos", &fakeConnector{err: errors.New("connection refused")})

	snaps := newFakeSnapshotStore()
	o := newTestOrchestrator(registry, snaps, nil)

	from, to := testWindow()
	result, err := o.FetchAllData(context.Background(), "venue-1", from, to, []string{"pos"})
	require.NoError(t, err, "a total source blackout still completes the cycle")

	assert.Equal(t, 0, result.SourcesFetched)
	assert.True(t, result.TotalRevenue.IsZero())
	assert.Empty(t, result.Records)

	completion := snaps.completions["snap-1"]
	assert.Equal(t, map[string]bool{"pos": false}, completion.PerSourceFetched)
}

func TestFetchAllDataUnknownSource(t *testing.T) {
	registry := connector.NewRegistry()
	registry.Register("pos", &fakeConnector{records: []connector.Transaction{
		{ID: "t1", Source: "pos", TotalAmount: decPtr(10)},
	}})

	snaps := newFakeSnapshotStore()
	o := newTestOrchestrator(registry, snaps, nil)

	from, to := testWindow()
	result, err := o.FetchAllData(context.Background(), "venue-1", from, to, []string{"pos", "mystery"})
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.False(t, result.Outcomes[1].Success)
	assert.Contains(t, result.Outcomes[1].Error, `unknown API "mystery"`)
	assert.Equal(t, 1, result.SourcesFetched)
}

func TestFetchAllDataCycleInProgress(t *testing.T) {
	snaps := newFakeSnapshotStore()
	snaps.inProgress = &storage.Snapshot{
		ID:        "snap-0",
		VenueID:   "venue-1",
		Status:    storage.SnapshotInProgress,
		StartedAt: time.Now().UTC().Add(-time.Minute),
	}

	o := newTestOrchestrator(connector.NewRegistry(), snaps, nil)
	from, to := testWindow()
	_, err := o.FetchAllData(context.Background(), "venue-1", from, to, []string{"pos"})
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Empty(t, snaps.created, "no new snapshot while one is in progress")
}

func TestFetchAllDataSnapshotCreationFailurePropagates(t *testing.T) {
	snaps := newFakeSnapshotStore()
	snaps.createErr = errors.New("db down")

	o := newTestOrchestrator(connector.NewRegistry(), snaps, nil)
	from, to := testWindow()
	_, err := o.FetchAllData(context.Background(), "venue-1", from, to, []string{"pos"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create snapshot")
}

func TestFetchAllDataCompletionFailureMarksSnapshotFailed(t *testing.T) {
	registry := connector.NewRegistry()
	registry.Register("pos", &fakeConnector{records: []connector.Transaction{
		{ID: "t1", Source: "pos", TotalAmount: decPtr(10)},
	}})

	snaps := newFakeSnapshotStore()
	snaps.completeErr = errors.New("write conflict")

	o := newTestOrchestrator(registry, snaps, nil)
	from, to := testWindow()
	_, err := o.FetchAllData(context.Background(), "venue-1", from, to, []string{"pos"})
	require.Error(t, err)
	assert.Contains(t, snaps.failures["snap-1"], "write conflict")
}

func TestFetchAllDataNoSources(t *testing.T) {
	o := newTestOrchestrator(connector.NewRegistry(), newFakeSnapshotStore(), nil)
	from, to := testWindow()
	_, err := o.FetchAllData(context.Background(), "venue-1", from, to, nil)
	assert.Error(t, err)
}
