// Package widgets shapes CRM aggregates into the data behind the dashboard
// tiles and charts.
package widgets

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"crmdash/pkg/crm"
)

// Tile is a single KPI card.
type Tile struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// KPIs returns the headline tiles in display order.
func KPIs(m crm.Metrics) []Tile {
	return []Tile{
		{Title: "Total Clients", Value: strconv.Itoa(m.TotalClients)},
		{Title: "Total Leads", Value: strconv.Itoa(m.TotalLeads)},
		{Title: "Total Prospects", Value: strconv.Itoa(m.TotalProspects)},
		{Title: "Total Revenue", Value: "$" + formatAmount(m.TotalRevenue)},
	}
}

// Series is the monthly performance chart. Index 0 is January.
type Series struct {
	Won     [12]float64 `json:"won"`
	Revenue [12]float64 `json:"revenue"`
	Lost    [12]float64 `json:"lost"`
}

// MonthlySeries spreads the per-month breakdown over twelve slots. Months
// outside 1..12 are ignored.
func MonthlySeries(d crm.MonthlyData) Series {
	var s Series
	for _, w := range d.ClosedWonData {
		if i, ok := monthIndex(w.Month); ok {
			s.Won[i] = w.TotalWon
			s.Revenue[i] = w.TotalRevenue
		}
	}
	for _, l := range d.ClosedLostData {
		if i, ok := monthIndex(l.Month); ok {
			s.Lost[i] = l.TotalLost
		}
	}
	return s
}

func monthIndex(month int) (int, bool) {
	if month < 1 || month > 12 {
		return 0, false
	}
	return month - 1, true
}

// Donut is the won/lost deal chart with its caption figures.
type Donut struct {
	Won     int     `json:"won"`
	Lost    int     `json:"lost"`
	Revenue float64 `json:"revenue"`
	WinRate float64 `json:"winRate"`
}

// DealOutcome builds the deal donut.
func DealOutcome(m crm.Metrics) Donut {
	return Donut{
		Won:     m.DealsStatusDistribution.ClosedWon,
		Lost:    m.DealsStatusDistribution.ClosedLost,
		Revenue: m.TotalRevenue,
		WinRate: m.WinRate,
	}
}

// Caption renders the win rate line under the donut.
func (d Donut) Caption() string {
	return fmt.Sprintf("$%s revenue, +%s%% win rate", formatAmount(d.Revenue), strconv.FormatFloat(d.WinRate, 'f', -1, 64))
}

var amountPrinter = message.NewPrinter(language.English)

// formatAmount groups thousands and keeps only the fraction digits the value
// has.
func formatAmount(v float64) string {
	whole, frac := math.Modf(v)
	out := amountPrinter.Sprintf("%d", int64(whole))
	if whole == 0 && math.Signbit(v) && frac != 0 {
		out = "-" + out
	}
	if frac == 0 {
		return out
	}
	raw := strconv.FormatFloat(v, 'f', -1, 64)
	return out + raw[strings.IndexByte(raw, '.'):]
}
