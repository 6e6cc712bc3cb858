package currency

import (
	"fmt"
	"strconv"
)

// UsesMajorUnitOnlyDisplay reports whether amounts of this currency are too
// coarse to show a fractional part.
func UsesMajorUnitOnlyDisplay(r Rule) bool {
	return r.MinIncrement >= 100
}

// ValidateAmount reports whether amount is a non-negative multiple of the
// currency's minimum increment. Unknown currencies never validate.
func ValidateAmount(code string, amount int64) bool {
	r, err := Lookup(code)
	if err != nil {
		return false
	}
	return r.Valid(amount)
}

// Valid reports whether amount can be charged in r.
func (r Rule) Valid(amount int64) bool {
	if amount < 0 || r.MinIncrement <= 0 {
		return false
	}
	return amount%r.MinIncrement == 0
}

// FormatAmount renders amount for display, e.g. "$1.99", "$5", "¥3".
func FormatAmount(code string, amount int64) string {
	r, err := Lookup(code)
	if err != nil {
		return code + " " + strconv.FormatInt(amount, 10)
	}
	return r.Format(amount)
}

// Format renders amount using r's symbol.
func (r Rule) Format(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	if UsesMajorUnitOnlyDisplay(r) {
		return fmt.Sprintf("%s%s%d", sign, r.Symbol, amount/r.MinIncrement)
	}
	major, minor := amount/100, amount%100
	if minor == 0 {
		return fmt.Sprintf("%s%s%d", sign, r.Symbol, major)
	}
	return fmt.Sprintf("%s%s%d.%02d", sign, r.Symbol, major, minor)
}
