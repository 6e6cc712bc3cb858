// Package currency holds the Steam wallet currency table and the amount
// rules derived from it. All amounts are integer minor units.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// ErrUnknownCurrency is returned for codes missing from the table.
var ErrUnknownCurrency = errors.New("unknown currency")

// Rule describes how a single currency may be charged.
type Rule struct {
	Code string
	Name string
	// Symbol is prepended to formatted amounts.
	Symbol string
	// MinorUnitName is the name of the fractional unit ("cents", "sen", ...).
	MinorUnitName string
	// MinIncrement is the smallest chargeable multiple of minor units.
	MinIncrement int64
}

var table = map[string]Rule{
	"AED":       {Code: "AED", Name: "United Arab Emirates Dirham", Symbol: "د.إ", MinorUnitName: "fils", MinIncrement: 1},
	"AUD":       {Code: "AUD", Name: "Australian Dollar", Symbol: "A$", MinorUnitName: "cents", MinIncrement: 1},
	"BRL":       {Code: "BRL", Name: "Brazilian Real", Symbol: "R$", MinorUnitName: "centavos", MinIncrement: 1},
	"CAD":       {Code: "CAD", Name: "Canadian Dollar", Symbol: "C$", MinorUnitName: "cents", MinIncrement: 1},
	"CHF":       {Code: "CHF", Name: "Swiss Franc", Symbol: "Fr.", MinorUnitName: "centime", MinIncrement: 1},
	"CLP":       {Code: "CLP", Name: "Chilean Peso", Symbol: "$", MinorUnitName: "centavos", MinIncrement: 100},
	"CNY":       {Code: "CNY", Name: "Chinese Renminbi (Yuan)", Symbol: "¥", MinorUnitName: "fēn", MinIncrement: 1},
	"COP":       {Code: "COP", Name: "Colombian Peso", Symbol: "$", MinorUnitName: "centavos", MinIncrement: 100},
	"CRC":       {Code: "CRC", Name: "Costa Rican Colón", Symbol: "₡", MinorUnitName: "céntimos", MinIncrement: 500},
	"EUR":       {Code: "EUR", Name: "Euro", Symbol: "€", MinorUnitName: "eurocents", MinIncrement: 1},
	"GBP":       {Code: "GBP", Name: "British Pound", Symbol: "£", MinorUnitName: "pence", MinIncrement: 1},
	"HKD":       {Code: "HKD", Name: "Hong Kong Dollar", Symbol: "HK$", MinorUnitName: "sin", MinIncrement: 1},
	"ILS":       {Code: "ILS", Name: "Israeli New Shekel", Symbol: "₪", MinorUnitName: "agorot", MinIncrement: 1},
	"IDR":       {Code: "IDR", Name: "Indonesian Rupiah", Symbol: "Rp", MinorUnitName: "sen", MinIncrement: 100},
	"INR":       {Code: "INR", Name: "Indian Rupee", Symbol: "₹", MinorUnitName: "paise", MinIncrement: 100},
	"JPY":       {Code: "JPY", Name: "Japanese Yen", Symbol: "¥", MinorUnitName: "sen", MinIncrement: 100},
	"KRW":       {Code: "KRW", Name: "South Korean Won", Symbol: "₩", MinorUnitName: "jeon", MinIncrement: 1000},
	"KWD":       {Code: "KWD", Name: "Kuwaiti Dinar", Symbol: "د.ك", MinorUnitName: "fils", MinIncrement: 1},
	"KZT":       {Code: "KZT", Name: "Kazakhstani Tenge", Symbol: "₸", MinorUnitName: "tïın", MinIncrement: 100},
	"MXN":       {Code: "MXN", Name: "Mexican Peso", Symbol: "Mex$", MinorUnitName: "centavos", MinIncrement: 1},
	"MYR":       {Code: "MYR", Name: "Malaysian Ringgit", Symbol: "RM", MinorUnitName: "sen", MinIncrement: 1},
	"NOK":       {Code: "NOK", Name: "Norwegian Krone", Symbol: "kr", MinorUnitName: "Øre", MinIncrement: 1},
	"NZD":       {Code: "NZD", Name: "New Zealand Dollar", Symbol: "NZ$", MinorUnitName: "cents", MinIncrement: 1},
	"PEN":       {Code: "PEN", Name: "Peruvian Sol", Symbol: "S/", MinorUnitName: "céntimos", MinIncrement: 1},
	"PHP":       {Code: "PHP", Name: "Philippine Peso", Symbol: "₱", MinorUnitName: "centavos", MinIncrement: 1},
	"PLN":       {Code: "PLN", Name: "Polish Złoty", Symbol: "zł", MinorUnitName: "grosz", MinIncrement: 1},
	"QAR":       {Code: "QAR", Name: "Qatari Riyal", Symbol: "ر.ق", MinorUnitName: "dirham", MinIncrement: 1},
	"RUB":       {Code: "RUB", Name: "Russian Ruble", Symbol: "₽", MinorUnitName: "kopeks", MinIncrement: 1},
	"SAR":       {Code: "SAR", Name: "Saudi Riyal", Symbol: "ر.س", MinorUnitName: "halalah", MinIncrement: 1},
	"SGD":       {Code: "SGD", Name: "Singapore Dollar", Symbol: "S$", MinorUnitName: "cents", MinIncrement: 1},
	"THB":       {Code: "THB", Name: "Thai Baht", Symbol: "฿", MinorUnitName: "satang", MinIncrement: 1},
	"TWD":       {Code: "TWD", Name: "New Taiwan Dollar", Symbol: "NT$", MinorUnitName: "fēn", MinIncrement: 100},
	"UAH":       {Code: "UAH", Name: "Ukrainian Hryvnia", Symbol: "₴", MinorUnitName: "kopiykas", MinIncrement: 100},
	"USD":       {Code: "USD", Name: "United States Dollar", Symbol: "$", MinorUnitName: "cents", MinIncrement: 1},
	"USD_CIS":   {Code: "USD_CIS", Name: "US Dollar (CIS)", Symbol: "$", MinorUnitName: "cents", MinIncrement: 1},
	"USD_LATAM": {Code: "USD_LATAM", Name: "US Dollar (LATAM)", Symbol: "$", MinorUnitName: "cents", MinIncrement: 1},
	"USD_MENA":  {Code: "USD_MENA", Name: "US Dollar (MENA)", Symbol: "$", MinorUnitName: "cents", MinIncrement: 1},
	"USD_SASIA": {Code: "USD_SASIA", Name: "US Dollar (South Asia)", Symbol: "$", MinorUnitName: "cents", MinIncrement: 1},
	"UYU":       {Code: "UYU", Name: "Uruguayan Peso", Symbol: "$U", MinorUnitName: "centesimos", MinIncrement: 100},
	"VND":       {Code: "VND", Name: "Vietnamese Dong", Symbol: "₫", MinorUnitName: "xu", MinIncrement: 50000},
	"ZAR":       {Code: "ZAR", Name: "South African Rand", Symbol: "R", MinorUnitName: "cents", MinIncrement: 1},
}

var regionalDescriptions = map[string]string{
	"USD_CIS":   "Discounted USD for Commonwealth of Independent States",
	"USD_LATAM": "Discounted USD for Latin America",
	"USD_MENA":  "Discounted USD for Middle East and North Africa",
	"USD_SASIA": "Discounted USD for South Asia",
}

// Lookup returns the rule registered for code.
func Lookup(code string) (Rule, error) {
	r, ok := table[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return r, nil
}

// Rules returns every registered rule ordered by code.
func Rules() []Rule {
	out := make([]Rule, 0, len(table))
	for _, r := range table {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Rule) int { return strings.Compare(a.Code, b.Code) })
	return out
}

// RequiresSpecialHandling reports whether prices must be rounded to more than
// one minor unit.
func (r Rule) RequiresSpecialHandling() bool {
	return r.MinIncrement > 1
}

// Describe returns an operator-facing hint for the rule, empty for ordinary
// cent-based currencies.
func Describe(r Rule) string {
	if d, ok := regionalDescriptions[r.Code]; ok {
		return d
	}
	if r.RequiresSpecialHandling() {
		return fmt.Sprintf("Must be charged in increments of %d %s", r.MinIncrement, r.MinorUnitName)
	}
	return ""
}
