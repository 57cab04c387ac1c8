package widgets

import (
	"testing"

	"crmdash/pkg/crm"
)

func TestKPIs(t *testing.T) {
	tiles := KPIs(crm.Metrics{TotalClients: 12, TotalLeads: 5, TotalProspects: 3, TotalRevenue: 45200})

	want := []Tile{
		{Title: "Total Clients", Value: "12"},
		{Title: "Total Leads", Value: "5"},
		{Title: "Total Prospects", Value: "3"},
		{Title: "Total Revenue", Value: "$45,200"},
	}
	if len(tiles) != len(want) {
		t.Fatalf("tiles = %d, want %d", len(tiles), len(want))
	}
	for i := range want {
		if tiles[i] != want[i] {
			t.Fatalf("tile %d = %+v, want %+v", i, tiles[i], want[i])
		}
	}
}

func TestMonthlySeries(t *testing.T) {
	s := MonthlySeries(crm.MonthlyData{
		ClosedWonData: []crm.MonthWon{
			{Month: 1, TotalWon: 2, TotalRevenue: 1500},
			{Month: 12, TotalWon: 1, TotalRevenue: 300},
			{Month: 13, TotalWon: 9, TotalRevenue: 9},
			{Month: 0, TotalWon: 9, TotalRevenue: 9},
		},
		ClosedLostData: []crm.MonthLost{
			{Month: 6, TotalLost: 4},
			{Month: -1, TotalLost: 9},
		},
	})

	if s.Won[0] != 2 || s.Revenue[0] != 1500 {
		t.Fatalf("january = %v/%v", s.Won[0], s.Revenue[0])
	}
	if s.Won[11] != 1 || s.Revenue[11] != 300 {
		t.Fatalf("december = %v/%v", s.Won[11], s.Revenue[11])
	}
	if s.Lost[5] != 4 {
		t.Fatalf("june lost = %v, want 4", s.Lost[5])
	}

	var sum float64
	for i := 0; i < 12; i++ {
		sum += s.Won[i] + s.Lost[i]
	}
	if sum != 7 {
		t.Fatalf("out-of-range months leaked into the series, total = %v", sum)
	}
}

func TestMonthlySeriesEmpty(t *testing.T) {
	if s := MonthlySeries(crm.MonthlyData{}); s != (Series{}) {
		t.Fatalf("empty data produced %+v", s)
	}
}

func TestDealOutcome(t *testing.T) {
	d := DealOutcome(crm.Metrics{
		TotalRevenue:            1234567.5,
		WinRate:                 62.5,
		DealsStatusDistribution: crm.DealDistribution{ClosedWon: 5, ClosedLost: 3, Negotiation: 2},
	})
	if d.Won != 5 || d.Lost != 3 {
		t.Fatalf("donut = %+v", d)
	}
	if got, want := d.Caption(), "$1,234,567.5 revenue, +62.5% win rate"; got != want {
		t.Fatalf("Caption() = %q, want %q", got, want)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{-25000, "-25,000"},
		{1000.25, "1,000.25"},
		{1234567.5, "1,234,567.5"},
		{-0.5, "-0.5"},
		{-1234.75, "-1,234.75"},
	}
	for _, tt := range tests {
		if got := formatAmount(tt.in); got != tt.want {
			t.Fatalf("formatAmount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
