// Package classify maps free-form upstream category strings onto the
// display categories and icons used by the catalog.
package classify

import "strings"

// Default category and icon for unmatched input.
const (
	DefaultCategory = "Other"
	DefaultIcon     = "📊"
)

type rule struct {
	needles  []string
	category string
	icon     string
}

// Order matters: the first rule with a matching needle wins.
var rules = []rule{
	{[]string{"politic", "gov"}, "Politics", "🏛️"},
	{[]string{"crypto", "bitcoin"}, "Crypto", "₿"},
	{[]string{"sport"}, "Sports", "⚽"},
	{[]string{"tech", "sci"}, "Science & Tech", "🤖"},
	{[]string{"econ", "fin"}, "Economics", "📈"},
	{[]string{"climat", "weather"}, "Climate", "🌡️"},
}

// Classify returns the display category and icon for raw. Matching is a
// case-insensitive substring test. Empty or unmatched input maps to
// (DefaultCategory, DefaultIcon).
func Classify(raw string) (category, icon string) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return DefaultCategory, DefaultIcon
	}
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(s, n) {
				return r.category, r.icon
			}
		}
	}
	return DefaultCategory, DefaultIcon
}
