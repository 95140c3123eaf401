package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundProbability(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{42, 42},
		{42.004, 42},
		{42.006, 42.01},
		{-3, 0},
		{120, 100},
	}
	for _, tt := range tests {
		if got := RoundProbability(tt.in); got != tt.want {
			t.Errorf("RoundProbability(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestProbabilityChanged(t *testing.T) {
	tests := []struct {
		name       string
		prev, next float64
		want       bool
	}{
		{"same integer", 45, 45, false},
		{"integer step", 45, 46, true},
		{"below resolution", 45.001, 45.004, false},
		{"one hundredth", 45.00, 45.01, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProbabilityChanged(tt.prev, tt.next); got != tt.want {
				t.Errorf("ProbabilityChanged(%v, %v) = %v, want %v", tt.prev, tt.next, got, tt.want)
			}
		})
	}
}

func TestComplement(t *testing.T) {
	if got := Complement(37.25); got != 62.75 {
		t.Errorf("Complement(37.25) = %v, want 62.75", got)
	}
}

func TestSortOptionsBinaryYesFirst(t *testing.T) {
	opts := []MarketOption{
		{Title: OptionNo, CurrentProbability: 70},
		{Title: OptionYes, CurrentProbability: 30},
	}
	SortOptions(opts)
	if opts[0].Title != OptionYes {
		t.Errorf("first option = %q, want Yes", opts[0].Title)
	}
}

func TestSortOptionsMultiByProbability(t *testing.T) {
	opts := []MarketOption{
		{Title: "B", CurrentProbability: 20},
		{Title: "C", CurrentProbability: 50},
		{Title: "A", CurrentProbability: 20},
	}
	SortOptions(opts)
	want := []string{"C", "A", "B"}
	for i, w := range want {
		if opts[i].Title != w {
			t.Errorf("opts[%d] = %q, want %q", i, opts[i].Title, w)
		}
	}
}

func TestTradeCost(t *testing.T) {
	price := SharePrice(60)
	if !price.Equal(decimal.RequireFromString("0.6")) {
		t.Fatalf("SharePrice(60) = %s, want 0.6", price)
	}
	cost := TradeCost(100, price)
	if !cost.Equal(decimal.NewFromInt(60)) {
		t.Errorf("TradeCost = %s, want 60", cost)
	}
}

func TestTradeCostFractionalProbabilityScale(t *testing.T) {
	price := SharePrice(63.37)
	if !price.Equal(decimal.RequireFromString("0.6337")) {
		t.Fatalf("SharePrice(63.37) = %s, want 0.6337", price)
	}
	for _, qty := range []int64{1, 7, 333, 10000} {
		cost := TradeCost(qty, price)
		if !cost.Round(4).Equal(cost) {
			t.Errorf("TradeCost(%d) = %s has more than four decimals", qty, cost)
		}
	}
}
