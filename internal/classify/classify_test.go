package classify

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		raw      string
		category string
		icon     string
	}{
		{"US Politics", "Politics", "🏛️"},
		{"Government Shutdown", "Politics", "🏛️"},
		{"BITCOIN", "Crypto", "₿"},
		{"Sports", "Sports", "⚽"},
		{"Science and Technology", "Science & Tech", "🤖"},
		{"Economics", "Economics", "📈"},
		{"Financials", "Economics", "📈"},
		{"Climate and Weather", "Climate", "🌡️"},
		{"unknown-xyz", "Other", "📊"},
		{"", "Other", "📊"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			cat, icon := Classify(tt.raw)
			if cat != tt.category || icon != tt.icon {
				t.Errorf("Classify(%q) = (%q, %q), want (%q, %q)", tt.raw, cat, icon, tt.category, tt.icon)
			}
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// "crypto" appears before "econ" in the table.
	cat, _ := Classify("crypto economics")
	if cat != "Crypto" {
		t.Errorf("Classify(crypto economics) = %q, want Crypto", cat)
	}
}
