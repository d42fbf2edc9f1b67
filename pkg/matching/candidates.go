package matching

import (
	"encoding/json"
	"sort"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/shopspring/decimal"
)

var (
	// PriceWeight and QtyWeight weigh the relative deviations in the score
	PriceWeight = decimal.RequireFromString("0.6")
	QtyWeight   = decimal.RequireFromString("0.4")

	// MinMatchPercentage is exclusive: a candidate must score above it
	MinMatchPercentage = decimal.NewFromInt(50)

	hundred = decimal.NewFromInt(100)
)

// MaxCandidates bounds the number of candidates returned
const MaxCandidates = 3

// Candidate is a counter order ranked against a reference order.
type Candidate struct {
	Order           *core.Order
	MatchScore      decimal.Decimal
	MatchPercentage fpdecimal.Decimal
	// PriceDiff and QtyDiff are signed: candidate minus reference
	PriceDiff decimal.Decimal
	QtyDiff   decimal.Decimal
}

// IsPerfect reports whether the candidate equals the reference on price and qty.
func (c Candidate) IsPerfect() bool {
	return c.PriceDiff.IsZero() && c.QtyDiff.IsZero()
}

// Percentage formats MatchPercentage with its one decimal place
func (c Candidate) Percentage() string {
	return decimal.NewFromFloat(c.MatchPercentage.Float64()).StringFixed(1)
}

// MarshalJSON implements json.Marshaler
func (c Candidate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Order           *core.Order `json:"order"`
		MatchScore      json.Number `json:"matchScore"`
		MatchPercentage json.Number `json:"matchPercentage"`
		PriceDiff       json.Number `json:"priceDiff"`
		QtyDiff         json.Number `json:"qtyDiff"`
		Perfect         bool        `json:"perfect"`
	}{
		Order:           c.Order,
		MatchScore:      json.Number(c.MatchScore.String()),
		MatchPercentage: json.Number(c.Percentage()),
		PriceDiff:       json.Number(c.PriceDiff.String()),
		QtyDiff:         json.Number(c.QtyDiff.String()),
		Perfect:         c.IsPerfect(),
	})
}

// Score computes the weighted similarity of candidate to reference. The
// percentage is clamped to [0, 100] and rounded to one decimal place.
func Score(reference, candidate *core.Order) (score, percentage decimal.Decimal) {
	priceRatio := candidate.Price().Sub(reference.Price()).Abs().Div(reference.Price())
	qtyRatio := candidate.Qty().Sub(reference.Qty()).Abs().Div(reference.Qty())

	score = priceRatio.Mul(PriceWeight).Add(qtyRatio.Mul(QtyWeight))
	percentage = decimal.NewFromInt(1).Sub(score).Mul(hundred)
	if percentage.IsNegative() {
		percentage = decimal.Zero
	}
	if percentage.GreaterThan(hundred) {
		percentage = hundred
	}
	return score, percentage.Round(1)
}

// FindCandidates ranks counterOrders against reference. CANCELLED and
// FULFILLED orders are skipped, candidates at or below MinMatchPercentage are
// discarded and at most MaxCandidates are returned, best first. Ties keep the
// input order.
func FindCandidates(reference *core.Order, counterOrders []*core.Order) []Candidate {
	if reference == nil || !reference.Price().IsPositive() || !reference.Qty().IsPositive() {
		return nil
	}

	type scored struct {
		candidate  Candidate
		percentage decimal.Decimal
	}

	ranked := make([]scored, 0, len(counterOrders))
	for _, o := range counterOrders {
		if o == nil || o.IsTerminal() || o.OrderID() == reference.OrderID() {
			continue
		}

		score, pct := Score(reference, o)
		if !pct.GreaterThan(MinMatchPercentage) {
			continue
		}

		fp, err := fpdecimal.FromString(pct.StringFixed(1))
		if err != nil {
			fp = fpdecimal.FromFloat(pct.InexactFloat64())
		}
		ranked = append(ranked, scored{
			candidate: Candidate{
				Order:           o,
				MatchScore:      score,
				MatchPercentage: fp,
				PriceDiff:       o.Price().Sub(reference.Price()),
				QtyDiff:         o.Qty().Sub(reference.Qty()),
			},
			percentage: pct,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].percentage.GreaterThan(ranked[j].percentage)
	})

	if len(ranked) > MaxCandidates {
		ranked = ranked[:MaxCandidates]
	}
	out := make([]Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.candidate
	}
	return out
}
