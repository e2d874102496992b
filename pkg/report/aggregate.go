package report

import (
	"sort"
	"time"

	"github.com/quartermile/ledgerd/pkg/ledger"
)

// Summary holds the overall totals shown on the dashboard and in the
// revenue summary endpoint
type Summary struct {
	TotalRevenue   float64
	TotalPurchases int
	RevenueShare   float64
}

// CustomerTotal is one row of the top customer breakdown
type CustomerTotal struct {
	Email      string
	TotalSpent float64
}

// TypeBreakdown aggregates sales for a single purchase type
type TypeBreakdown struct {
	PurchaseType string
	Purchases    int
	TotalRevenue float64
	RevenueShare float64
}

// DailyTotal aggregates sales for a single day
type DailyTotal struct {
	Date      time.Time
	Purchases int
	Revenue   float64
}

// Summarize computes the overall totals. share is the revenue share
// fraction (0.10 for 10%).
func Summarize(sales []ledger.Sale, share float64) Summary {
	result := Summary{TotalPurchases: len(sales)}
	for _, sale := range sales {
		result.TotalRevenue += sale.Amount
	}

	result.RevenueShare = result.TotalRevenue * share
	return result
}

// TopCustomers returns the highest-spending customers, at most limit rows.
// Ties are broken by email so the order stays stable.
func TopCustomers(sales []ledger.Sale, limit int) []CustomerTotal {
	totals := map[string]float64{}
	for _, sale := range sales {
		totals[sale.Email] += sale.Amount
	}

	result := make([]CustomerTotal, 0, len(totals))
	for email, spent := range totals {
		result = append(result, CustomerTotal{Email: email, TotalSpent: spent})
	}

	sort.Slice(result, func(a, b int) bool {
		if result[a].TotalSpent != result[b].TotalSpent {
			return result[a].TotalSpent > result[b].TotalSpent
		}
		return result[a].Email < result[b].Email
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// ByPurchaseType breaks revenue down per purchase type, sorted by revenue
// (highest first)
func ByPurchaseType(sales []ledger.Sale, share float64) []TypeBreakdown {
	index := map[string]int{}
	result := make([]TypeBreakdown, 0)

	for _, sale := range sales {
		idx, found := index[sale.PurchaseType]
		if !found {
			idx = len(result)
			index[sale.PurchaseType] = idx
			result = append(result, TypeBreakdown{PurchaseType: sale.PurchaseType})
		}

		result[idx].Purchases++
		result[idx].TotalRevenue += sale.Amount
	}

	for idx := range result {
		result[idx].RevenueShare = result[idx].TotalRevenue * share
	}

	sort.Slice(result, func(a, b int) bool {
		if result[a].TotalRevenue != result[b].TotalRevenue {
			return result[a].TotalRevenue > result[b].TotalRevenue
		}
		return result[a].PurchaseType < result[b].PurchaseType
	})
	return result
}

// Daily breaks revenue down per day, sorted by date. Sales with a zero
// date (unparseable imports) are skipped here; they still count toward
// Summarize and the other breakdowns.
func Daily(sales []ledger.Sale) []DailyTotal {
	index := map[string]int{}
	result := make([]DailyTotal, 0)

	for _, sale := range sales {
		if sale.Date.IsZero() {
			continue
		}

		day := sale.Date.Format(ledger.DateFormat)
		idx, found := index[day]
		if !found {
			idx = len(result)
			index[day] = idx
			result = append(result, DailyTotal{
				Date: time.Date(sale.Date.Year(), sale.Date.Month(), sale.Date.Day(), 0, 0, 0, 0, time.UTC),
			})
		}

		result[idx].Purchases++
		result[idx].Revenue += sale.Amount
	}

	sort.Slice(result, func(a, b int) bool {
		return result[a].Date.Before(result[b].Date)
	})
	return result
}

// PurchaseTypes returns the sorted set of distinct purchase types
func PurchaseTypes(sales []ledger.Sale) []string {
	seen := map[string]bool{}
	result := make([]string, 0)
	for _, sale := range sales {
		if !seen[sale.PurchaseType] {
			seen[sale.PurchaseType] = true
			result = append(result, sale.PurchaseType)
		}
	}

	sort.Strings(result)
	return result
}
