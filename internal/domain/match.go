package domain

import "github.com/shopspring/decimal"

// FirstWithinTolerance returns the index of the first deposit whose amount is
// within tol of amount, or -1 if none qualifies. Callers pass deposits in
// oldest-first order so identical amounts settle in arrival order.
func FirstWithinTolerance(deposits []Deposit, amount, tol decimal.Decimal) int {
	for i, d := range deposits {
		if d.Amount.Sub(amount).Abs().LessThanOrEqual(tol) {
			return i
		}
	}
	return -1
}
