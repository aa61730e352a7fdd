package isolation

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
	"venuewatch/internal/storage"
)

type fakeErrorStore struct {
	inserted []storage.IsolatedErrorRecord
	updates  []struct {
		ID         string
		RetryCount int
		Resolved   bool
	}
	records map[string]*storage.IsolatedErrorRecord
}

func newFakeErrorStore() *fakeErrorStore {
	return &fakeErrorStore{records: map[string]*storage.IsolatedErrorRecord{}}
}

func (f *fakeErrorStore) InsertError(_ context.Context, rec storage.IsolatedErrorRecord) error {
	f.inserted = append(f.inserted, rec)
	copied := rec
	f.records[rec.ID] = &copied
	return nil
}

func (f *fakeErrorStore) UpdateErrorRetry(_ context.Context, id string, retryCount int, resolved bool) error {
	f.updates = append(f.updates, struct {
		ID         string
		RetryCount int
		Resolved   bool
	}{id, retryCount, resolved})
	if rec := f.records[id]; rec != nil {
		rec.RetryCount = retryCount
		rec.Resolved = resolved
	}
	return nil
}

func (f *fakeErrorStore) GetError(_ context.Context, id string) (*storage.IsolatedErrorRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeErrorStore) ListOpenErrors(context.Context, string, int) ([]storage.IsolatedErrorRecord, error) {
	return nil, nil
}

func (f *fakeErrorStore) ErrorStats(context.Context) ([]storage.SourceErrorStat, error) {
	return nil, nil
}

type fakeAlerter struct {
	calls []string
}

func (f *fakeAlerter) EmitSystemError(_ context.Context, _, source, severity, _ string) {
	f.calls = append(f.calls, source+":"+severity)
}

func failingOp(err error) func(context.Context) ([]connector.Transaction, error) {
	return func(context.Context) ([]connector.Transaction, error) { return nil, err }
}

func succeedingOp(records []connector.Transaction) func(context.Context) ([]connector.Transaction, error) {
	return func(context.Context) ([]connector.Transaction, error) { return records, nil }
}

func testBoundary(sources map[string]SourceBoundary, store storage.ErrorStore, alerter SystemAlerter) *Boundary {
	return New(sources, store, alerter, zerolog.Nop())
}

func TestClassifyErrorType(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline exceeded", context.DeadlineExceeded, ErrTypeTimeout},
		{"timeout text", errors.New("request timeout while reading body"), ErrTypeTimeout},
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connection refused"), ErrTypeConnection},
		{"no such host", errors.New("lookup api.pos.example: no such host"), ErrTypeConnection},
		{"rate limit status", errors.New(`pos api error (429): slow down`), ErrTypeRateLimit},
		{"auth status", errors.New(`pos api error (401): bad token`), ErrTypeAuth},
		{"forbidden status", errors.New(`pos api error (403): forbidden`), ErrTypeAuth},
		{"server error status", errors.New(`pos api error (503): maintenance`), ErrTypeServerError},
		{"unclassified", errors.New("unexpected payload shape"), ErrTypeUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyErrorType(tc.err))
		})
	}
}

func TestClassifySeverity(t *testing.T) {
	critical := SourceBoundary{RevenueCritical: true}
	ordinary := SourceBoundary{}

	assert.Equal(t, SeverityCritical, classifySeverity(critical, ErrTypeTimeout))
	assert.Equal(t, SeverityCritical, classifySeverity(critical, ErrTypeConnection))
	assert.Equal(t, SeverityCritical, classifySeverity(critical, ErrTypeServerError))
	assert.Equal(t, SeverityHigh, classifySeverity(critical, ErrTypeAuth))
	assert.Equal(t, SeverityHigh, classifySeverity(critical, ErrTypeUnknown))
	assert.Equal(t, SeverityMedium, classifySeverity(ordinary, ErrTypeTimeout))
	assert.Equal(t, SeverityMedium, classifySeverity(ordinary, ErrTypeUnknown))
}

func TestFetchTransactionsSuccessPassesThrough(t *testing.T) {
	amount := decimal.NewFromInt(10)
	want := []connector.Transaction{{ID: "t1", Source: "pos", TotalAmount: &amount}}

	b := testBoundary(nil, nil, nil)
	records, isoErr := b.FetchTransactions(context.Background(), "venue-1", "pos", succeedingOp(want))

	assert.Nil(t, isoErr)
	assert.Equal(t, want, records)
}

func TestFetchTransactionsFailureReturnsEmptyFallback(t *testing.T) {
	store := newFakeErrorStore()
	alerter := &fakeAlerter{}
	b := testBoundary(map[string]SourceBoundary{
		"pos": {RevenueCritical: true, MaxRetries: 3, AlertOnFailure: true},
	}, store, alerter)

	records, isoErr := b.FetchTransactions(context.Background(), "venue-1", "pos",
		failingOp(errors.New(`pos api error (503): maintenance`)))

	require.NotNil(t, records, "fallback must be an empty slice, never nil")
	assert.Empty(t, records)

	require.NotNil(t, isoErr)
	assert.Equal(t, SeverityCritical, isoErr.Severity)
	assert.Equal(t, ErrTypeServerError, isoErr.ErrorType)
	assert.Equal(t, 3, isoErr.MaxRetries)

	require.Len(t, store.inserted, 1, "the failure must be persisted")
	assert.Equal(t, isoErr.ID, store.inserted[0].ID)

	require.Len(t, alerter.calls, 1, "AlertOnFailure sources emit a system alert")
	assert.Equal(t, "pos:critical", alerter.calls[0])
}

func TestFetchTransactionsNoAlertWhenDisabled(t *testing.T) {
	alerter := &fakeAlerter{}
	b := testBoundary(map[string]SourceBoundary{"booking": {}}, newFakeErrorStore(), alerter)

	_, isoErr := b.FetchTransactions(context.Background(), "venue-1", "booking",
		failingOp(errors.New("boom")))

	require.NotNil(t, isoErr)
	assert.Equal(t, SeverityMedium, isoErr.Severity)
	assert.Empty(t, alerter.calls)
}

func TestRetrySuccessResolvesError(t *testing.T) {
	store := newFakeErrorStore()
	b := testBoundary(map[string]SourceBoundary{"pos": {MaxRetries: 2}}, store, nil)

	_, isoErr := b.FetchTransactions(context.Background(), "venue-1", "pos", failingOp(errors.New("boom")))
	require.NotNil(t, isoErr)

	amount := decimal.NewFromInt(5)
	records, err := b.Retry(context.Background(), isoErr.ID,
		succeedingOp([]connector.Transaction{{ID: "t1", TotalAmount: &amount}}))
	require.NoError(t, err)
	assert.Len(t, records, 1)

	rec, err := store.GetError(context.Background(), isoErr.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Resolved)
}

func TestRetryBudgetExhausted(t *testing.T) {
	store := newFakeErrorStore()
	b := testBoundary(map[string]SourceBoundary{"pos": {MaxRetries: 1}}, store, nil)

	_, isoErr := b.FetchTransactions(context.Background(), "venue-1", "pos", failingOp(errors.New("boom")))
	require.NotNil(t, isoErr)

	// first retry fails, consuming the whole budget
	_, err := b.Retry(context.Background(), isoErr.ID, failingOp(errors.New("still down")))
	require.Error(t, err)

	_, err = b.Retry(context.Background(), isoErr.ID, succeedingOp(nil))
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
}

func TestRetryUnknownError(t *testing.T) {
	b := testBoundary(nil, newFakeErrorStore(), nil)
	_, err := b.Retry(context.Background(), "missing", succeedingOp(nil))
	assert.Error(t, err)
}

func TestRetryHonoursContextDuringDelay(t *testing.T) {
	store := newFakeErrorStore()
	b := testBoundary(map[string]SourceBoundary{
		"pos": {MaxRetries: 2, RetryDelay: time.Minute},
	}, store, nil)

	_, isoErr := b.FetchTransactions(context.Background(), "venue-1", "pos", failingOp(errors.New("boom")))
	require.NotNil(t, isoErr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Retry(ctx, isoErr.ID, succeedingOp(nil))
	assert.ErrorIs(t, err, context.Canceled)
}
