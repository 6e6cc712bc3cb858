package handlers

import (
	"errors"
	"net/http"

	"microtrax/internal/currency"
)

type CurrencyHandler struct{}

type currencyView struct {
	Code                    string `json:"code"`
	Name                    string `json:"name"`
	Symbol                  string `json:"symbol"`
	FractionalUnit          string `json:"fractional_unit"`
	MinIncrement            int64  `json:"min_increment"`
	RequiresSpecialHandling bool   `json:"requires_special_handling"`
	Description             string `json:"description"`
}

// ListCurrencies handles GET /currencies.
func (h *CurrencyHandler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	rules := currency.Rules()
	out := make([]currencyView, 0, len(rules))
	for _, rule := range rules {
		out = append(out, currencyView{
			Code:                    rule.Code,
			Name:                    rule.Name,
			Symbol:                  rule.Symbol,
			FractionalUnit:          rule.MinorUnitName,
			MinIncrement:            rule.MinIncrement,
			RequiresSpecialHandling: rule.RequiresSpecialHandling(),
			Description:             currency.Describe(rule),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrencyDefaults handles GET /currencies/:code.
func (h *CurrencyHandler) GetCurrencyDefaults(w http.ResponseWriter, r *http.Request) {
	rule, err := currency.Lookup(getParam(r, "code"))
	if errors.Is(err, currency.ErrUnknownCurrency) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":                rule.Code,
		"min_price_increment": rule.MinIncrement,
		"fractional_unit":     rule.MinorUnitName,
	})
}
