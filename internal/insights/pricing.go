package insights

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// solverIterations bounds the fixed-point loop. The iteration converges
// geometrically for any fee load below 100%, so ten steps put the residual
// well under a cent for realistic inputs.
const solverIterations = 10

// convergenceTolerance is the residual below which the solve counts as converged
var convergenceTolerance = decimal.NewFromFloat(0.01)

// Quote is the pricing solver output
type Quote struct {
	Price      decimal.Decimal
	Converged  bool
	Iterations int
}

// SuggestPrice solves for the selling price that covers the unit cost plus
// percentage loads (marketplace commission, taxes, target margin), all
// charged on the selling price itself:
//
//	price = cost + price * (commission + tax + margin) / 100
//
// solved by fixed-point iteration rather than the closed form, mirroring how
// the loads would compound if applied stepwise. Inputs where the combined
// load reaches 100% have no finite solution and are rejected.
func SuggestPrice(cost, commissionPct, taxPct, targetMarginPct decimal.Decimal) (Quote, error) {
	if cost.IsNegative() {
		return Quote{}, fmt.Errorf("cost must be non-negative, got %s", cost)
	}

	load := commissionPct.Add(taxPct).Add(targetMarginPct).Div(decimal.NewFromInt(100))
	if load.IsNegative() {
		return Quote{}, fmt.Errorf("combined percentage load must be non-negative")
	}
	if load.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Quote{}, fmt.Errorf("combined percentage load %s%% leaves no room for cost", load.Mul(decimal.NewFromInt(100)))
	}

	price := cost
	converged := false
	iterations := 0
	for i := 0; i < solverIterations; i++ {
		next := cost.Add(price.Mul(load))
		iterations = i + 1
		if next.Sub(price).Abs().LessThan(convergenceTolerance) {
			price = next
			converged = true
			break
		}
		price = next
	}

	// The price can never sit below cost regardless of solver state
	if price.LessThan(cost) {
		price = cost
	}

	return Quote{
		Price:      price.Round(2),
		Converged:  converged,
		Iterations: iterations,
	}, nil
}
