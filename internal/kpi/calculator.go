package kpi

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"venuewatch/internal/connector"
	"venuewatch/internal/storage"
)

// OverrideSource supplies authoritative revenue corrections for a window.
type OverrideSource interface {
	ListOverridesBetween(ctx context.Context, venueID string, from, to time.Time) ([]storage.RevenueOverride, error)
}

// CustomerHistory answers whether a customer was seen before a given date.
type CustomerHistory interface {
	HasCustomerActivityBefore(ctx context.Context, venueID, customerID string, before time.Time) (bool, error)
}

// Calculator merges normalized records into KPI rollups. It owns no
// persistent state; it is a pure function of (window, records, overrides).
type Calculator struct {
	overrides OverrideSource
	history   CustomerHistory
	logger    zerolog.Logger
}

// NewCalculator constructs a Calculator with its store collaborators.
// Either collaborator may be nil; the calculation then degrades gracefully.
func NewCalculator(overrides OverrideSource, history CustomerHistory, logger zerolog.Logger) *Calculator {
	return &Calculator{
		overrides: overrides,
		history:   history,
		logger:    logger.With().Str("component", "kpi").Logger(),
	}
}

// Daily computes the KPI for one calendar date.
func (c *Calculator) Daily(ctx context.Context, venueID string, date time.Time, records []connector.Transaction) (*KPI, error) {
	start := truncateDay(date)
	return c.computeWindow(ctx, GranularityDaily, venueID, start, start.AddDate(0, 0, 1), records)
}

// Range computes a daily-granularity KPI across [from, to).
func (c *Calculator) Range(ctx context.Context, venueID string, from, to time.Time, records []connector.Transaction) (*KPI, error) {
	if !from.Before(to) {
		return nil, errors.New("kpi: from must be before to")
	}
	return c.computeWindow(ctx, GranularityDaily, venueID, truncateDay(from), truncateDay(to.Add(-time.Nanosecond)).AddDate(0, 0, 1), records)
}

// Weekly aggregates seven already-computed daily KPIs. It never re-scans
// raw transactions beyond what the daily computations consumed.
func (c *Calculator) Weekly(ctx context.Context, venueID string, weekStart time.Time, records []connector.Transaction) (*KPI, error) {
	start := truncateDay(weekStart)
	end := start.AddDate(0, 0, 7)

	dailies := make([]*KPI, 0, 7)
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		daily, err := c.Daily(ctx, venueID, day, filterByDay(records, day))
		if err != nil {
			return nil, err
		}
		dailies = append(dailies, daily)
	}

	return aggregate(GranularityWeekly, venueID, start, end, dailies), nil
}

// Monthly aggregates the daily KPIs of one calendar month.
func (c *Calculator) Monthly(ctx context.Context, venueID string, month time.Time, records []connector.Transaction) (*KPI, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	dailies := make([]*KPI, 0, 31)
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		daily, err := c.Daily(ctx, venueID, day, filterByDay(records, day))
		if err != nil {
			return nil, err
		}
		dailies = append(dailies, daily)
	}

	return aggregate(GranularityMonthly, venueID, start, end, dailies), nil
}

// Realtime computes the ephemeral today/trailing-hour view.
func (c *Calculator) Realtime(venueID string, now time.Time, records []connector.Transaction) *RealtimeMetrics {
	now = now.UTC()
	dayStart := truncateDay(now)
	hourAgo := now.Add(-time.Hour)

	metrics := &RealtimeMetrics{
		VenueID:             venueID,
		TodayRevenue:        decimal.Zero,
		TrailingHourRevenue: decimal.Zero,
		ComputedAt:          now,
	}

	for _, txn := range records {
		ts := txn.Timestamp.UTC()
		if ts.Before(dayStart) || ts.After(now) {
			continue
		}
		amount := resolveAmount(txn)
		metrics.TodayRevenue = metrics.TodayRevenue.Add(amount)
		metrics.TodayTransactions++
		if !ts.Before(hourAgo) {
			metrics.TrailingHourRevenue = metrics.TrailingHourRevenue.Add(amount)
			metrics.TrailingHourTransactions++
		}
	}

	return metrics
}

// computeWindow runs the full reconciliation pipeline for [start, end).
// Ordering is load-bearing: raw accumulation first, overrides strictly last.
func (c *Calculator) computeWindow(ctx context.Context, granularity, venueID string, start, end time.Time, records []connector.Transaction) (*KPI, error) {
	result := &KPI{
		VenueID:     venueID,
		Granularity: granularity,
		WindowStart: start,
		WindowEnd:   end,
		Revenue: RevenueMetrics{
			Total:    decimal.Zero,
			BySource: map[string]decimal.Decimal{},
		},
		Transactions: TransactionMetrics{
			Average:         decimal.Zero,
			BySource:        map[string]int64{},
			ByPaymentMethod: map[string]int64{},
		},
	}

	// Step 1: a bucket for every calendar date, data or not.
	buckets := map[string]*DayBucket{}
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		bucket := &DayBucket{Date: day, Revenue: decimal.Zero}
		buckets[dayKey(day)] = bucket
	}

	// Step 2: merge raw transactions from every source.
	categories := map[string]decimal.Decimal{}
	spendByCustomer := map[string]*CustomerSpend{}
	for _, txn := range records {
		ts := txn.Timestamp.UTC()
		if ts.Before(start) || !ts.Before(end) {
			continue
		}

		bucket := buckets[dayKey(ts)]
		if bucket == nil {
			continue
		}

		amount := resolveAmount(txn)
		bucket.Revenue = bucket.Revenue.Add(amount)
		bucket.TransactionCount++
		bucket.HasData = true

		result.Revenue.BySource[txn.Source] = result.Revenue.BySource[txn.Source].Add(amount)
		result.Revenue.Hourly[ts.Hour()] = result.Revenue.Hourly[ts.Hour()].Add(amount)
		result.Transactions.BySource[txn.Source]++
		if txn.PaymentMethod != "" {
			result.Transactions.ByPaymentMethod[txn.PaymentMethod]++
		}

		category := resolveCategory(txn)
		categories[category] = categories[category].Add(amount)

		if txn.CustomerID != "" {
			spend := spendByCustomer[txn.CustomerID]
			if spend == nil {
				spend = &CustomerSpend{CustomerID: txn.CustomerID, Total: decimal.Zero}
				spendByCustomer[txn.CustomerID] = spend
			}
			spend.Total = spend.Total.Add(amount)
			spend.Visits++
		}
	}

	// Step 3: overrides last. An override unconditionally replaces the
	// accumulated revenue and check count for its date.
	if c.overrides != nil {
		overrides, err := c.overrides.ListOverridesBetween(ctx, venueID, start, end.AddDate(0, 0, -1))
		if err != nil {
			c.logger.Error().Err(err).Str("venue_id", venueID).Msg("override query failed; computing without overrides")
		} else {
			for _, override := range overrides {
				bucket := buckets[dayKey(override.Date)]
				if bucket == nil {
					continue
				}
				sourceAdjust := override.ActualRevenue.Sub(bucket.Revenue)
				bucket.Revenue = override.ActualRevenue
				if override.CheckCount != nil {
					bucket.TransactionCount = *override.CheckCount
				}
				bucket.HasData = true
				bucket.Overridden = true
				// keep the window total consistent with the daily buckets
				result.Revenue.BySource["override"] = result.Revenue.BySource["override"].Add(sourceAdjust)
			}
		}
	}

	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		bucket := buckets[dayKey(day)]
		result.Days = append(result.Days, *bucket)
		result.Revenue.Total = result.Revenue.Total.Add(bucket.Revenue)
		result.Transactions.Count += bucket.TransactionCount
	}

	if result.Transactions.Count > 0 {
		result.Transactions.Average = result.Revenue.Total.Div(decimal.NewFromInt(result.Transactions.Count))
	}

	// Step 5: category breakdown, descending by revenue.
	result.Revenue.ByCategory = sortedCategories(categories)

	// Step 6: new-vs-returning classification.
	result.Customers = c.classifyCustomers(ctx, venueID, start, spendByCustomer)

	return result, nil
}

func (c *Calculator) classifyCustomers(ctx context.Context, venueID string, windowStart time.Time, spend map[string]*CustomerSpend) CustomerMetrics {
	metrics := CustomerMetrics{}

	ids := make([]string, 0, len(spend))
	for id := range spend {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		returning := false
		if c.history != nil {
			seen, err := c.history.HasCustomerActivityBefore(ctx, venueID, id, windowStart)
			if err != nil {
				c.logger.Warn().Err(err).Str("customer_id", id).Msg("customer history query failed; classifying as returning")
				returning = true
			} else {
				returning = seen
			}
		}
		if returning {
			metrics.Returning++
		} else {
			metrics.New++
		}
	}
	metrics.Unique = metrics.New + metrics.Returning

	spenders := make([]CustomerSpend, 0, len(spend))
	for _, entry := range spend {
		spenders = append(spenders, *entry)
	}
	sort.Slice(spenders, func(i, j int) bool {
		if !spenders[i].Total.Equal(spenders[j].Total) {
			return spenders[i].Total.GreaterThan(spenders[j].Total)
		}
		return spenders[i].CustomerID < spenders[j].CustomerID
	})
	if len(spenders) > 5 {
		spenders = spenders[:5]
	}
	metrics.TopSpenders = spenders

	return metrics
}

// aggregate sums child KPIs into a higher granularity. The average is
// recomputed from the summed totals, never averaged-of-averages.
func aggregate(granularity, venueID string, start, end time.Time, children []*KPI) *KPI {
	result := &KPI{
		VenueID:     venueID,
		Granularity: granularity,
		WindowStart: start,
		WindowEnd:   end,
		Revenue: RevenueMetrics{
			Total:    decimal.Zero,
			BySource: map[string]decimal.Decimal{},
		},
		Transactions: TransactionMetrics{
			Average:         decimal.Zero,
			BySource:        map[string]int64{},
			ByPaymentMethod: map[string]int64{},
		},
	}

	categories := map[string]decimal.Decimal{}
	spenders := map[string]*CustomerSpend{}

	for _, child := range children {
		result.Days = append(result.Days, child.Days...)
		result.Revenue.Total = result.Revenue.Total.Add(child.Revenue.Total)
		for source, revenue := range child.Revenue.BySource {
			result.Revenue.BySource[source] = result.Revenue.BySource[source].Add(revenue)
		}
		for hour := range child.Revenue.Hourly {
			result.Revenue.Hourly[hour] = result.Revenue.Hourly[hour].Add(child.Revenue.Hourly[hour])
		}
		for _, row := range child.Revenue.ByCategory {
			categories[row.Category] = categories[row.Category].Add(row.Revenue)
		}

		result.Transactions.Count += child.Transactions.Count
		for source, count := range child.Transactions.BySource {
			result.Transactions.BySource[source] += count
		}
		for method, count := range child.Transactions.ByPaymentMethod {
			result.Transactions.ByPaymentMethod[method] += count
		}

		result.Customers.New += child.Customers.New
		result.Customers.Returning += child.Customers.Returning
		for _, spend := range child.Customers.TopSpenders {
			entry := spenders[spend.CustomerID]
			if entry == nil {
				entry = &CustomerSpend{CustomerID: spend.CustomerID, Total: decimal.Zero}
				spenders[spend.CustomerID] = entry
			}
			entry.Total = entry.Total.Add(spend.Total)
			entry.Visits += spend.Visits
		}
	}

	result.Customers.Unique = result.Customers.New + result.Customers.Returning

	if result.Transactions.Count > 0 {
		result.Transactions.Average = result.Revenue.Total.Div(decimal.NewFromInt(result.Transactions.Count))
	}

	result.Revenue.ByCategory = sortedCategories(categories)

	top := make([]CustomerSpend, 0, len(spenders))
	for _, entry := range spenders {
		top = append(top, *entry)
	}
	sort.Slice(top, func(i, j int) bool {
		if !top[i].Total.Equal(top[j].Total) {
			return top[i].Total.GreaterThan(top[j].Total)
		}
		return top[i].CustomerID < top[j].CustomerID
	})
	if len(top) > 5 {
		top = top[:5]
	}
	result.Customers.TopSpenders = top

	return result
}

func resolveAmount(txn connector.Transaction) decimal.Decimal {
	return txn.RevenueAmount()
}

func resolveCategory(txn connector.Transaction) string {
	return txn.CategoryLabel()
}

func sortedCategories(categories map[string]decimal.Decimal) []CategoryRevenue {
	rows := make([]CategoryRevenue, 0, len(categories))
	for category, revenue := range categories {
		rows = append(rows, CategoryRevenue{Category: category, Revenue: revenue})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Revenue.Equal(rows[j].Revenue) {
			return rows[i].Revenue.GreaterThan(rows[j].Revenue)
		}
		return rows[i].Category < rows[j].Category
	})
	return rows
}

func filterByDay(records []connector.Transaction, day time.Time) []connector.Transaction {
	start := truncateDay(day)
	end := start.AddDate(0, 0, 1)
	filtered := make([]connector.Transaction, 0)
	for _, txn := range records {
		ts := txn.Timestamp.UTC()
		if !ts.Before(start) && ts.Before(end) {
			filtered = append(filtered, txn)
		}
	}
	return filtered
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
