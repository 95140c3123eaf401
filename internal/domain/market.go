package domain

import (
	"math"
	"sort"
	"time"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive MarketStatus = "active"
	MarketStatusClosed MarketStatus = "closed"
)

// Binary option titles.
const (
	OptionYes = "Yes"
	OptionNo  = "No"
)

// Market is a locally mirrored prediction market. Markets are never deleted;
// only their status changes.
type Market struct {
	ID          string
	ExternalID  string
	Source      string
	Title       string
	Description string
	Category    string
	Icon        string
	Status      MarketStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MarketOption is one outcome of a market. CurrentProbability is a
// percentage in [0,100] rounded to hundredths.
type MarketOption struct {
	ID                 string
	MarketID           string
	Title              string
	ExternalID         string
	CurrentProbability float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// MarketWithOptions bundles a market with its ordered options.
type MarketWithOptions struct {
	Market
	Options []MarketOption
}

// IsBinary reports whether the option set is exactly Yes/No.
func IsBinary(opts []MarketOption) bool {
	if len(opts) != 2 {
		return false
	}
	titles := map[string]bool{opts[0].Title: true, opts[1].Title: true}
	return titles[OptionYes] && titles[OptionNo]
}

// SortOptions orders options for display: Yes before No for binary markets,
// otherwise by probability descending with ties broken by title.
func SortOptions(opts []MarketOption) {
	if IsBinary(opts) {
		if opts[0].Title == OptionNo {
			opts[0], opts[1] = opts[1], opts[0]
		}
		return
	}
	sort.SliceStable(opts, func(i, j int) bool {
		if opts[i].CurrentProbability != opts[j].CurrentProbability {
			return opts[i].CurrentProbability > opts[j].CurrentProbability
		}
		return opts[i].Title < opts[j].Title
	})
}

// MarketUpsert carries the fields reconciliation writes for a market.
type MarketUpsert struct {
	ExternalID  string
	Source      string
	Title       string
	Description string
	Category    string
	Icon        string
	Status      MarketStatus
}

// OptionUpsert carries the fields reconciliation writes for an option. When
// ExternalID is empty the option is matched on (MarketID, Title). With
// InsertOnly set, an existing option keeps its stored probability; sources set
// it when the quote carried no price signal.
type OptionUpsert struct {
	MarketID    string
	Title       string
	ExternalID  string
	Probability float64
	InsertOnly  bool
}

// OptionWrite reports the outcome of an option upsert.
type OptionWrite struct {
	Option   MarketOption
	Created  bool
	Changed  bool
	Previous float64
}

// Recorded reports whether the write should produce a history record.
func (w OptionWrite) Recorded() bool {
	return w.Created || w.Changed
}

// MarketFilter narrows catalog listings.
type MarketFilter struct {
	Status   MarketStatus
	Category string
	Source   string
	Limit    int
	Offset   int
}

// probabilityEpsilon is half of the stored resolution (hundredths).
const probabilityEpsilon = 0.005

// RoundProbability clamps p to [0,100] and rounds it to hundredths.
func RoundProbability(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	p = math.Max(0, math.Min(100, p))
	return math.Round(p*100) / 100
}

// ProbabilityChanged reports whether next differs from prev at the stored
// resolution.
func ProbabilityChanged(prev, next float64) bool {
	return math.Abs(RoundProbability(next)-RoundProbability(prev)) > probabilityEpsilon
}

// Complement returns 100 - p at the stored resolution.
func Complement(p float64) float64 {
	return RoundProbability(100 - RoundProbability(p))
}
