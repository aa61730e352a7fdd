package alerting

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Generator evaluates the rule set against a metrics snapshot, applies
// cooldown suppression, groups same-type findings, and ranks by priority.
type Generator struct {
	rules     []Rule
	cooldowns *cooldownMap
	logger    zerolog.Logger
	now       func() time.Time
}

// NewGenerator constructs a Generator over a rule set.
func NewGenerator(rules []Rule, logger zerolog.Logger) *Generator {
	return &Generator{
		rules:     rules,
		cooldowns: newCooldownMap(),
		logger:    logger.With().Str("component", "alerting").Logger(),
		now:       time.Now,
	}
}

// GenerateAlerts runs one evaluation cycle. Every rule sees the same
// snapshot; a failing rule never prevents the others from evaluating.
func (g *Generator) GenerateAlerts(metrics Metrics) []Alert {
	candidates := make([]Alert, 0, len(g.rules))
	for _, rule := range g.rules {
		alert := g.evaluate(rule, metrics)
		if alert != nil {
			candidates = append(candidates, *alert)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	now := g.now().UTC()

	// Cooldown is keyed by (ruleType, venueID) and checked once per type
	// per cycle, so same-type findings either all fire or are all
	// suppressed together.
	cooldownByType := map[string]time.Duration{}
	for _, rule := range g.rules {
		if existing, ok := cooldownByType[rule.Type]; !ok || rule.Cooldown > existing {
			cooldownByType[rule.Type] = rule.Cooldown
		}
	}

	fired := make([]Alert, 0, len(candidates))
	checked := map[string]bool{}
	allowed := map[string]bool{}
	for _, alert := range candidates {
		key := cooldownKey(alert.Type, metrics.VenueID)
		if !checked[key] {
			checked[key] = true
			allowed[key] = g.cooldowns.shouldFire(key, cooldownByType[alert.Type], now)
			if !allowed[key] {
				g.logger.Debug().
					Str("rule", alert.Type).
					Str("venue_id", metrics.VenueID).
					Msg("alert suppressed by cooldown")
			}
		}
		if allowed[key] {
			fired = append(fired, alert)
		}
	}

	grouped := groupAlerts(fired)

	sort.SliceStable(grouped, func(i, j int) bool {
		return Priority(grouped[i]) > Priority(grouped[j])
	})

	return grouped
}

// Reset clears all cooldown state. Intended for tests and operator resets.
func (g *Generator) Reset() {
	g.cooldowns.reset()
}

func (g *Generator) evaluate(rule Rule, metrics Metrics) (alert *Alert) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().
				Str("rule", rule.Type).
				Interface("panic", r).
				Msg("rule evaluation panicked; rule isolated")
			alert = nil
		}
	}()
	return rule.Check(metrics)
}

// groupAlerts merges same-cycle alerts sharing (type, severity) into one
// record so N near-simultaneous findings become a single notification.
func groupAlerts(alerts []Alert) []Alert {
	if len(alerts) < 2 {
		return alerts
	}

	type groupKey struct{ typ, severity string }
	groups := map[groupKey][]Alert{}
	order := make([]groupKey, 0, len(alerts))
	for _, alert := range alerts {
		key := groupKey{alert.Type, alert.Severity}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], alert)
	}

	result := make([]Alert, 0, len(order))
	for _, key := range order {
		members := groups[key]
		if len(members) == 1 {
			result = append(result, members[0])
			continue
		}

		groupID := uuid.NewString()
		findings := make([]map[string]interface{}, 0, len(members))
		actions := make([]ActionSuggestion, 0)
		for _, member := range members {
			findings = append(findings, map[string]interface{}{
				"title":   member.Title,
				"message": member.Message,
				"value":   member.Value.String(),
				"context": member.Context,
			})
			actions = append(actions, member.ActionSuggestions...)
		}

		merged := members[0]
		merged.GroupID = &groupID
		merged.Title = fmt.Sprintf("%s (grouped)", members[0].Title)
		merged.Message = fmt.Sprintf("%d similar issues detected", len(members))
		merged.Context = map[string]interface{}{"alerts": findings}
		merged.ActionSuggestions = actions
		result = append(result, merged)
	}

	return result
}

func cooldownKey(ruleType, venueID string) string {
	return ruleType + "|" + venueID
}
