package alerting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuewatch/internal/config"
)

func defaultTestRules() []Rule {
	return DefaultRules(config.AlertingConfig{
		RevenueDropPct:      20,
		LowTicketSales:      50,
		RevenueDropCooldown: time.Hour,
		TicketSalesCooldown: time.Hour,
		NoDataCooldown:      30 * time.Minute,
		SourceCooldown:      30 * time.Minute,
	})
}

func ruleByType(t *testing.T, rules []Rule, ruleType string) Rule {
	t.Helper()
	for _, rule := range rules {
		if rule.Type == ruleType {
			return rule
		}
	}
	t.Fatalf("rule %s not found", ruleType)
	return Rule{}
}

func TestRevenueDropCheck(t *testing.T) {
	rule := ruleByType(t, defaultTestRules(), TypeRevenueDrop)

	cases := []struct {
		name         string
		current      int64
		previous     int64
		wantFire     bool
		wantSeverity string
	}{
		{name: "no previous revenue", current: 0, previous: 0, wantFire: false},
		{name: "flat revenue", current: 1000, previous: 1000, wantFire: false},
		{name: "drop at threshold", current: 800, previous: 1000, wantFire: false},
		{name: "drop above threshold", current: 750, previous: 1000, wantFire: true, wantSeverity: SeverityHigh},
		{name: "drop of thirty percent", current: 700, previous: 1000, wantFire: true, wantSeverity: SeverityCritical},
		{name: "total collapse", current: 0, previous: 1000, wantFire: true, wantSeverity: SeverityCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alert := rule.Check(Metrics{
				VenueID:         "venue-1",
				CurrentRevenue:  decimal.NewFromInt(tc.current),
				PreviousRevenue: decimal.NewFromInt(tc.previous),
			})
			if !tc.wantFire {
				assert.Nil(t, alert)
				return
			}
			require.NotNil(t, alert)
			assert.Equal(t, tc.wantSeverity, alert.Severity)
			assert.NotEmpty(t, alert.ActionSuggestions)
		})
	}
}

func TestLowTicketSalesCheck(t *testing.T) {
	rule := ruleByType(t, defaultTestRules(), TypeLowTicketSales)

	assert.Nil(t, rule.Check(Metrics{VenueID: "venue-1", TicketsSold: 10, SourcesFetched: 0}),
		"no fetched sources means no reliable ticket count")
	assert.Nil(t, rule.Check(Metrics{VenueID: "venue-1", TicketsSold: 50, SourcesFetched: 2}),
		"sales at the floor should not fire")

	alert := rule.Check(Metrics{VenueID: "venue-1", TicketsSold: 12, SourcesFetched: 2})
	require.NotNil(t, alert)
	assert.Equal(t, SeverityHigh, alert.Severity)
	assert.True(t, alert.Value.Equal(decimal.NewFromInt(12)))
}

func TestNoDataCheck(t *testing.T) {
	rule := ruleByType(t, defaultTestRules(), TypeNoData)

	assert.Nil(t, rule.Check(Metrics{SourcesTotal: 3, SourcesFetched: 1}))
	assert.Nil(t, rule.Check(Metrics{SourcesTotal: 0}))

	alert := rule.Check(Metrics{
		VenueID:       "venue-1",
		SourcesTotal:  3,
		FailedSources: []string{"pos", "tickets", "booking"},
	})
	require.NotNil(t, alert)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, "0 of 3 sources fetched this cycle", alert.Message)
}

func TestSourceFailureCheck(t *testing.T) {
	rule := ruleByType(t, defaultTestRules(), TypeSourceFailure)

	assert.Nil(t, rule.Check(Metrics{SourcesTotal: 3, SourcesFetched: 3}))
	assert.Nil(t, rule.Check(Metrics{SourcesTotal: 3, SourcesFetched: 0, FailedSources: []string{"pos", "tickets", "booking"}}),
		"total blackout belongs to the no_data rule")

	alert := rule.Check(Metrics{
		VenueID:        "venue-1",
		SourcesTotal:   3,
		SourcesFetched: 2,
		FailedSources:  []string{"booking"},
	})
	require.NotNil(t, alert)
	assert.Equal(t, SeverityMedium, alert.Severity)
	assert.Equal(t, "2 of 3 sources fetched this cycle", alert.Message)
}

func TestPriorityOrdering(t *testing.T) {
	critical := Alert{Type: TypeNoData, Severity: SeverityCritical}
	highWithBoost := Alert{Type: TypeRevenueDrop, Severity: SeverityHigh, ActionSuggestions: []ActionSuggestion{{Action: "x"}}}
	medium := Alert{Type: TypeSourceFailure, Severity: SeverityMedium}

	assert.Equal(t, 100, Priority(critical))
	assert.Equal(t, 105, Priority(highWithBoost))
	assert.Equal(t, 50, Priority(medium))
	assert.Greater(t, Priority(highWithBoost), Priority(critical),
		"an actionable revenue drop outranks a bare critical")
}
