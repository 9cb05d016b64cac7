package experiment

import "EconLab/internal/model"

// Evaluate maps one investment decision and its coin flip to the resulting
// wealth. The unsafe asset pays 2.5x on heads and nothing on tails, so:
//
//	heads: 100 - x + 2.5x = 100 + 1.5x
//	tails: 100 - x
//
// Pure and deterministic; exports must reproduce the stored value exactly.
func Evaluate(x float64, c model.Outcome) float64 {
	if c == model.Heads {
		return model.Endowment + 1.5*x
	}
	return model.Endowment - x
}

// validInvestment bounds x to the endowment. NaN fails both comparisons.
func validInvestment(x float64) bool {
	return x >= 0 && x <= model.Endowment
}
