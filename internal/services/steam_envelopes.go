package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"microtrax/internal/models"
)

const (
	steamResultOK      = "OK"
	steamUnknownError  = "Steam API returned unknown error"
	steamInvalidWebKey = "Invalid Steam WebKey"
)

// Steam encodes 64-bit ids and amounts either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if strings.TrimSpace(string(s)) == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(s)), 10, 64)
	if err != nil {
		return fmt.Errorf("parse %q: %w", string(s), err)
	}
	*f = flexInt(n)
	return nil
}

type steamErrorBody struct {
	Code        flexString `json:"errorcode"`
	Description string     `json:"errordesc"`
}

// txnEnvelope is the {response:{result, params, error}} shape shared by the
// ISteamMicroTxn methods.
type txnEnvelope[P any] struct {
	Response struct {
		Result string          `json:"result"`
		Params P               `json:"params"`
		Error  *steamErrorBody `json:"error"`
	} `json:"response"`
}

func (e *txnEnvelope[P]) normalize(op string) (P, error) {
	if e.Response.Result == steamResultOK {
		return e.Response.Params, nil
	}
	var zero P
	return zero, rejected(op, e.Response.Error)
}

type userInfoParams struct {
	State    string `json:"state"`
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type userInfoEnvelope = txnEnvelope[userInfoParams]

var trustedUserStatuses = map[string]struct{}{
	"Active":  {},
	"Trusted": {},
}

// normalizeUserInfo returns a non-nil error whenever the account is not reliable.
func normalizeUserInfo(e *userInfoEnvelope) (models.UserReliability, error) {
	params, err := e.normalize("GetUserInfo")
	if err != nil {
		var se *SteamError
		desc := ""
		if errors.As(err, &se) {
			desc = se.Description
		}
		return models.UserReliability{Reliable: false, Description: desc}, err
	}
	if _, ok := trustedUserStatuses[params.Status]; !ok {
		se := &SteamError{
			Op:          "GetUserInfo",
			Kind:        SteamErrorRejected,
			Status:      400,
			Description: fmt.Sprintf("user status %q is not trusted", params.Status),
		}
		return models.UserReliability{Reliable: false, Status: params.Status, Description: se.Description}, se
	}
	return models.UserReliability{Reliable: true, Status: params.Status}, nil
}

// ownershipEnvelope is the ISteamUser shape, which has no params/error split.
type ownershipEnvelope struct {
	AppOwnership struct {
		OwnsApp      bool       `json:"ownsapp"`
		Permanent    bool       `json:"permanent"`
		Timestamp    string     `json:"timestamp"`
		OwnerSteamID flexString `json:"ownersteamid"`
		SiteLicense  bool       `json:"sitelicense"`
		Result       string     `json:"result"`
	} `json:"appownership"`
}

func (e *ownershipEnvelope) normalize() (bool, error) {
	if e.AppOwnership.Result == steamResultOK && e.AppOwnership.OwnsApp {
		return true, nil
	}
	desc := "The specified user has not purchased the provided app"
	if e.AppOwnership.Result != "" && e.AppOwnership.Result != steamResultOK {
		desc = e.AppOwnership.Result
	}
	return false, &SteamError{Op: "CheckAppOwnership", Kind: SteamErrorRejected, Status: 400, Description: desc}
}

type initTxnParams struct {
	OrderID  flexString `json:"orderid"`
	TransID  flexString `json:"transid"`
	SteamURL string     `json:"steamurl"`
}

type finalizeTxnParams struct {
	OrderID flexString `json:"orderid"`
	TransID flexString `json:"transid"`
}

type queryTxnItem struct {
	ItemID     flexString `json:"itemid"`
	Qty        flexInt    `json:"qty"`
	Amount     flexInt    `json:"amount"`
	Vat        flexInt    `json:"vat"`
	ItemStatus string     `json:"itemstatus"`
}

type queryTxnParams struct {
	OrderID  flexString     `json:"orderid"`
	TransID  flexString     `json:"transid"`
	SteamID  flexString     `json:"steamid"`
	Status   string         `json:"status"`
	Currency string         `json:"currency"`
	Time     string         `json:"time"`
	Country  string         `json:"country"`
	USState  string         `json:"usstate"`
	Items    []queryTxnItem `json:"items"`
}

func (p queryTxnParams) snapshot() models.StatusSnapshot {
	s := models.StatusSnapshot{
		OrderID:  string(p.OrderID),
		TransID:  string(p.TransID),
		UserID:   string(p.SteamID),
		Status:   p.Status,
		Currency: p.Currency,
		Time:     p.Time,
		Country:  p.Country,
		Region:   p.USState,
		Items:    make([]models.LineItem, 0, len(p.Items)),
	}
	for _, it := range p.Items {
		s.Items = append(s.Items, models.LineItem{
			ItemID:     string(it.ItemID),
			Qty:        int(it.Qty),
			Amount:     int64(it.Amount),
			Vat:        int64(it.Vat),
			ItemStatus: it.ItemStatus,
		})
	}
	return s
}

func rejected(op string, body *steamErrorBody) *SteamError {
	se := &SteamError{Op: op, Kind: SteamErrorRejected, Status: 400, Description: steamUnknownError}
	if body != nil {
		se.Code = string(body.Code)
		if d := strings.TrimSpace(body.Description); d != "" {
			se.Description = d
		}
	}
	return se
}
