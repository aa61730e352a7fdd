package alerting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"venuewatch/internal/config"
	"venuewatch/internal/kpi"
)

// Alert types produced by the built-in rule set.
const (
	TypeRevenueDrop    = "revenue_drop"
	TypeLowTicketSales = "low_ticket_sales"
	TypeNoData         = "no_data"
	TypeSourceFailure  = "source_failure"
	TypeSystemError    = "system_error"
)

// Severities, in descending priority order.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// ActionSuggestion is a recommendation for the operator UI; it is never
// executed automatically.
type ActionSuggestion struct {
	Action          string `json:"action"`
	Description     string `json:"description"`
	EstimatedImpact string `json:"estimatedImpact,omitempty"`
}

// Alert is one finding produced by a rule against a metrics snapshot.
type Alert struct {
	VenueID           string
	Type              string
	Severity          string
	Title             string
	Message           string
	Value             decimal.Decimal
	Threshold         decimal.Decimal
	Context           map[string]interface{}
	GroupID           *string
	ActionSuggestions []ActionSuggestion
}

// Metrics is the snapshot every rule of a cycle is evaluated against.
type Metrics struct {
	VenueID         string
	CycleTime       time.Time
	CurrentRevenue  decimal.Decimal
	PreviousRevenue decimal.Decimal
	TicketsSold     int64
	SourcesFetched  int
	SourcesTotal    int
	FailedSources   []string
	Realtime        *kpi.RealtimeMetrics
}

// Rule pairs a check with its cooldown. Rules are independent; evaluation
// order does not matter.
type Rule struct {
	Type     string
	Cooldown time.Duration
	Check    func(Metrics) *Alert
}

// DefaultRules builds the rule set from alerting configuration.
func DefaultRules(cfg config.AlertingConfig) []Rule {
	dropThreshold := decimal.NewFromFloat(cfg.RevenueDropPct)
	if dropThreshold.IsZero() {
		dropThreshold = decimal.NewFromInt(20)
	}
	ticketFloor := cfg.LowTicketSales

	return []Rule{
		{
			Type:     TypeRevenueDrop,
			Cooldown: cfg.RevenueDropCooldown,
			Check:    revenueDropCheck(dropThreshold),
		},
		{
			Type:     TypeLowTicketSales,
			Cooldown: cfg.TicketSalesCooldown,
			Check:    lowTicketSalesCheck(ticketFloor),
		},
		{
			Type:     TypeNoData,
			Cooldown: cfg.NoDataCooldown,
			Check:    noDataCheck(),
		},
		{
			Type:     TypeSourceFailure,
			Cooldown: cfg.SourceCooldown,
			Check:    sourceFailureCheck(),
		},
	}
}

// revenueDropCheck fires when revenue dropped more than the threshold
// percentage against the previous period. A drop of 30% or more is critical.
func revenueDropCheck(threshold decimal.Decimal) func(Metrics) *Alert {
	return func(m Metrics) *Alert {
		if m.PreviousRevenue.LessThanOrEqual(decimal.Zero) {
			return nil
		}
		drop := m.PreviousRevenue.Sub(m.CurrentRevenue).
			Div(m.PreviousRevenue).
			Mul(decimal.NewFromInt(100))
		if drop.LessThanOrEqual(threshold) {
			return nil
		}

		severity := SeverityHigh
		if drop.GreaterThanOrEqual(decimal.NewFromInt(30)) {
			severity = SeverityCritical
		}

		return &Alert{
			VenueID:   m.VenueID,
			Type:      TypeRevenueDrop,
			Severity:  severity,
			Title:     "Revenue drop detected",
			Message:   fmt.Sprintf("Revenue is down %s%% against the previous period", drop.StringFixed(1)),
			Value:     drop,
			Threshold: threshold,
			Context: map[string]interface{}{
				"current_revenue":  m.CurrentRevenue.String(),
				"previous_revenue": m.PreviousRevenue.String(),
			},
			ActionSuggestions: []ActionSuggestion{
				{
					Action:          "review_sources",
					Description:     "Check whether a provider stopped reporting before assuming a real drop",
					EstimatedImpact: "high",
				},
				{
					Action:      "compare_weekday",
					Description: "Compare against the same weekday last week",
				},
			},
		}
	}
}

// lowTicketSalesCheck fires when ticket sales fall under the configured
// floor while at least one source reported data.
func lowTicketSalesCheck(floor int64) func(Metrics) *Alert {
	return func(m Metrics) *Alert {
		if floor <= 0 || m.SourcesFetched == 0 {
			return nil
		}
		if m.TicketsSold >= floor {
			return nil
		}

		return &Alert{
			VenueID:   m.VenueID,
			Type:      TypeLowTicketSales,
			Severity:  SeverityHigh,
			Title:     "Low ticket sales",
			Message:   fmt.Sprintf("Only %d tickets sold, below the floor of %d", m.TicketsSold, floor),
			Value:     decimal.NewFromInt(m.TicketsSold),
			Threshold: decimal.NewFromInt(floor),
			Context: map[string]interface{}{
				"tickets_sold": m.TicketsSold,
			},
			ActionSuggestions: []ActionSuggestion{
				{
					Action:      "promote_event",
					Description: "Push a promotion for tonight's event",
				},
			},
		}
	}
}

// noDataCheck fires when every configured source failed in the cycle.
func noDataCheck() func(Metrics) *Alert {
	return func(m Metrics) *Alert {
		if m.SourcesTotal == 0 || m.SourcesFetched > 0 {
			return nil
		}
		return &Alert{
			VenueID:   m.VenueID,
			Type:      TypeNoData,
			Severity:  SeverityCritical,
			Title:     "No data from any source",
			Message:   fmt.Sprintf("0 of %d sources fetched this cycle", m.SourcesTotal),
			Value:     decimal.Zero,
			Threshold: decimal.NewFromInt(int64(m.SourcesTotal)),
			Context: map[string]interface{}{
				"failed_sources": m.FailedSources,
			},
		}
	}
}

// sourceFailureCheck fires when some (but not all) sources failed; the
// cycle still succeeded with partial data.
func sourceFailureCheck() func(Metrics) *Alert {
	return func(m Metrics) *Alert {
		if len(m.FailedSources) == 0 || m.SourcesFetched == 0 {
			return nil
		}
		return &Alert{
			VenueID:   m.VenueID,
			Type:      TypeSourceFailure,
			Severity:  SeverityMedium,
			Title:     "Partial source failure",
			Message:   fmt.Sprintf("%d of %d sources fetched this cycle", m.SourcesFetched, m.SourcesTotal),
			Value:     decimal.NewFromInt(int64(len(m.FailedSources))),
			Threshold: decimal.Zero,
			Context: map[string]interface{}{
				"failed_sources": m.FailedSources,
			},
		}
	}
}

// Priority scores an alert for sort order only; it is never persisted as
// part of alert identity.
func Priority(a Alert) int {
	score := 0
	switch a.Severity {
	case SeverityCritical:
		score += 100
	case SeverityHigh:
		score += 75
	case SeverityMedium:
		score += 50
	case SeverityLow:
		score += 25
	}
	if a.Type == TypeRevenueDrop || a.Type == TypeLowTicketSales {
		score += 20
	}
	if len(a.ActionSuggestions) > 0 {
		score += 10
	}
	return score
}
