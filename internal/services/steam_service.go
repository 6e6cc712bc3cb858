package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"microtrax/internal/models"
)

const (
	defaultSteamBaseURL  = "https://partner.steam-api.com/"
	defaultSteamTimeout  = 10 * time.Second
	defaultSteamLanguage = "en"

	microTxnInterface        = "ISteamMicroTxn"
	microTxnSandboxInterface = "ISteamMicroTxnSandbox"
	userInterface            = "ISteamUser"
)

// SteamConfig configures the Steam partner Web API gateway.
type SteamConfig struct {
	// Publisher Web API key. Required.
	WebKey string

	// Partner API root. Defaults to https://partner.steam-api.com/.
	BaseURL string

	// Sandbox routes MicroTxn calls to ISteamMicroTxnSandbox.
	Sandbox bool

	// Language sent with InitTxn when the caller does not pass one.
	Language string

	// Timeout bounds every request. Calls are never retried.
	Timeout time.Duration

	Client  *http.Client
	Logger  *slog.Logger
	Metrics SteamMetrics
}

// SteamMetrics receives one observation per remote call.
type SteamMetrics interface {
	ObserveSteamCall(op, outcome string, elapsed time.Duration)
}

type SteamService struct {
	webKey   string
	baseURL  *url.URL
	sandbox  bool
	language string
	timeout  time.Duration

	httpClient *http.Client
	logger     *slog.Logger
	metrics    SteamMetrics
}

func NewSteamService(cfg SteamConfig) (*SteamService, error) {
	if strings.TrimSpace(cfg.WebKey) == "" {
		return nil, fmt.Errorf("steam: web key is required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultSteamBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSteamTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	lang := strings.TrimSpace(cfg.Language)
	if lang == "" {
		lang = defaultSteamLanguage
	}

	s := &SteamService{
		webKey:     cfg.WebKey,
		baseURL:    u,
		sandbox:    cfg.Sandbox,
		language:   lang,
		timeout:    timeout,
		httpClient: client,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
	logger.Info("Steam gateway initialized",
		"baseURL", safeURL(s.baseURL),
		"sandbox", s.sandbox,
		"timeout", timeout,
	)
	return s, nil
}

// SteamErrorKind separates credential problems, platform refusals and
// network failures.
type SteamErrorKind string

const (
	SteamErrorAuth      SteamErrorKind = "auth"
	SteamErrorRejected  SteamErrorKind = "rejected"
	SteamErrorTransport SteamErrorKind = "transport"
)

// SteamError is returned by every gateway call that did not succeed.
// Status is the HTTP status the request surface should answer with.
type SteamError struct {
	Op          string
	Kind        SteamErrorKind
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *SteamError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("steam %s: %s", e.Op, e.Description)
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SteamError) Unwrap() []error {
	var sentinel error
	switch e.Kind {
	case SteamErrorAuth:
		sentinel = models.ErrPlatformAuth
	case SteamErrorTransport:
		sentinel = models.ErrPlatformTransport
	default:
		sentinel = models.ErrPlatformRejected
	}
	if e.Err != nil {
		return []error{sentinel, e.Err}
	}
	return []error{sentinel}
}

// InitTxnRequest describes a single-item purchase. Amount is the line total.
type InitTxnRequest struct {
	OrderID     string
	UserID      string
	AppID       string
	ItemID      string
	Quantity    int
	Amount      int64
	Currency    string
	Description string
	Category    string
	Language    string
}

// CheckUserReliability asks the platform whether the account may purchase.
func (s *SteamService) CheckUserReliability(ctx context.Context, userID string) (verdict models.UserReliability, err error) {
	defer s.observe("GetUserInfo", time.Now(), &err)

	q := url.Values{}
	q.Set("steamid", userID)

	var env userInfoEnvelope
	if err := s.do(ctx, "GetUserInfo", http.MethodGet, s.microTxn(), "GetUserInfo", 2, q, &env); err != nil {
		return models.UserReliability{Description: describe(err)}, err
	}
	return normalizeUserInfo(&env)
}

// CheckAppOwnership reports whether userID owns appID.
func (s *SteamService) CheckAppOwnership(ctx context.Context, userID, appID string) (owns bool, err error) {
	defer s.observe("CheckAppOwnership", time.Now(), &err)

	q := url.Values{}
	q.Set("steamid", userID)
	q.Set("appid", appID)

	var env ownershipEnvelope
	if err := s.do(ctx, "CheckAppOwnership", http.MethodGet, userInterface, "CheckAppOwnership", 2, q, &env); err != nil {
		return false, err
	}
	return env.normalize()
}

// InitTxn opens a transaction and returns the platform trans id.
func (s *SteamService) InitTxn(ctx context.Context, in InitTxnRequest) (transID string, err error) {
	defer s.observe("InitTxn", time.Now(), &err)

	qty := in.Quantity
	if qty <= 0 {
		qty = 1
	}
	lang := in.Language
	if lang == "" {
		lang = s.language
	}

	form := url.Values{}
	form.Set("orderid", in.OrderID)
	form.Set("steamid", in.UserID)
	form.Set("appid", in.AppID)
	form.Set("itemcount", "1")
	form.Set("currency", in.Currency)
	form.Set("language", lang)
	form.Set("usersession", "client")
	form.Set("itemid[0]", in.ItemID)
	form.Set("qty[0]", strconv.Itoa(qty))
	form.Set("amount[0]", strconv.FormatInt(in.Amount, 10))
	form.Set("description[0]", in.Description)
	form.Set("category[0]", in.Category)

	var env txnEnvelope[initTxnParams]
	if err := s.do(ctx, "InitTxn", http.MethodPost, s.microTxn(), "InitTxn", 3, form, &env); err != nil {
		return "", err
	}
	params, err := env.normalize("InitTxn")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(params.TransID)) == "" {
		return "", &SteamError{Op: "InitTxn", Kind: SteamErrorRejected, Status: http.StatusBadRequest, Description: steamUnknownError}
	}
	return string(params.TransID), nil
}

// FinalizeTxn completes a transaction the user has authorized.
func (s *SteamService) FinalizeTxn(ctx context.Context, orderID, appID string) (err error) {
	defer s.observe("FinalizeTxn", time.Now(), &err)

	form := url.Values{}
	form.Set("orderid", orderID)
	form.Set("appid", appID)

	var env txnEnvelope[finalizeTxnParams]
	if err := s.do(ctx, "FinalizeTxn", http.MethodPost, s.microTxn(), "FinalizeTxn", 2, form, &env); err != nil {
		return err
	}
	_, err = env.normalize("FinalizeTxn")
	return err
}

// QueryTxn returns the platform's record of a transaction. transID may be
// empty, in which case the platform resolves it by order id.
func (s *SteamService) QueryTxn(ctx context.Context, orderID, transID, appID string) (snap models.StatusSnapshot, err error) {
	defer s.observe("QueryTxn", time.Now(), &err)

	q := url.Values{}
	q.Set("appid", appID)
	q.Set("orderid", orderID)
	if transID != "" {
		q.Set("transid", transID)
	}

	var env txnEnvelope[queryTxnParams]
	if err := s.do(ctx, "QueryTxn", http.MethodGet, s.microTxn(), "QueryTxn", 2, q, &env); err != nil {
		return models.StatusSnapshot{}, err
	}
	params, err := env.normalize("QueryTxn")
	if err != nil {
		return models.StatusSnapshot{}, err
	}
	return params.snapshot(), nil
}

func (s *SteamService) microTxn() string {
	if s.sandbox {
		return microTxnSandboxInterface
	}
	return microTxnInterface
}

func (s *SteamService) endpoint(iface, method string, version int) url.URL {
	u := *s.baseURL
	// trailing slash is part of the Steam method path
	u.Path = path.Join(u.Path, iface, method, "v"+strconv.Itoa(version)) + "/"
	return u
}

// do issues one request and decodes the envelope into out. It only returns
// auth and transport errors; protocol results are left to the caller.
func (s *SteamService) do(ctx context.Context, op, method, iface, name string, version int, params url.Values, out any) error {
	logger := s.logger.With("op", op)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint := s.endpoint(iface, name, version)
	params.Set("key", s.webKey)

	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		endpoint.RawQuery = params.Encode()
		req, err = http.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint.String(), strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return &SteamError{Op: op, Kind: SteamErrorTransport, Status: http.StatusBadRequest, Description: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		logger.Error("steam request failed", "err", redact(err.Error(), s.webKey))
		return &SteamError{Op: op, Kind: SteamErrorTransport, Status: http.StatusBadRequest, Description: "request failed", Err: errors.New(redact(err.Error(), s.webKey))}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SteamError{Op: op, Kind: SteamErrorTransport, Status: http.StatusBadRequest, Description: "read body", Err: err}
	}
	logger.Debug("steam raw", "status", resp.Status, "body", trim(string(b), 2000))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		logger.Error("steam rejected web key", "status", resp.StatusCode)
		return &SteamError{Op: op, Kind: SteamErrorAuth, Status: http.StatusForbidden, Description: steamInvalidWebKey}
	}

	decodeErr := json.Unmarshal(b, out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Steam sometimes answers 4xx with a regular failure envelope.
		if decodeErr == nil && len(b) > 0 {
			return nil
		}
		return &SteamError{Op: op, Kind: SteamErrorTransport, Status: http.StatusBadRequest, Description: "unexpected status " + resp.Status}
	}
	if decodeErr != nil {
		return &SteamError{Op: op, Kind: SteamErrorTransport, Status: http.StatusBadRequest, Description: "decode response", Err: decodeErr}
	}
	return nil
}

// observe records the call outcome. Platform refusals and auth failures are
// logged with the remote code and description.
func (s *SteamService) observe(op string, start time.Time, errp *error) {
	err := *errp
	if s.metrics != nil {
		s.metrics.ObserveSteamCall(op, outcomeLabel(err), time.Since(start))
	}
	var se *SteamError
	if err == nil || !errors.As(err, &se) {
		return
	}
	s.logger.Warn("steam call failed", "op", op, "kind", se.Kind, "code", se.Code, "description", se.Description)
}

func outcomeLabel(err error) string {
	var se *SteamError
	if err == nil {
		return "ok"
	}
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return "error"
}

func describe(err error) string {
	var se *SteamError
	if errors.As(err, &se) {
		return se.Description
	}
	return err.Error()
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}

// ---------- helpers ----------

func trim(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

func safeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}
