package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microtrax/internal/export"
	"microtrax/internal/models"
)

type memStore struct {
	products map[string]models.Product
	saved    int
}

func newMemStore(ps ...models.Product) *memStore {
	s := &memStore{products: map[string]models.Product{}}
	for _, p := range ps {
		s.products[p.ID] = p
	}
	return s
}

func (s *memStore) GetProduct(_ context.Context, id string) (models.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return models.Product{}, models.ErrProductNotFound
	}
	return p, nil
}

func (s *memStore) List(_ context.Context, f models.ProductFilter) ([]models.Product, error) {
	var out []models.Product
	for _, p := range s.products {
		if f.AppID != "" && p.AppID != f.AppID {
			continue
		}
		if f.ActiveOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, p models.Product) error {
	s.saved++
	s.products[p.ID] = p
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	if _, ok := s.products[id]; !ok {
		return models.ErrProductNotFound
	}
	delete(s.products, id)
	return nil
}

type invalidations struct{ ids []string }

func (i *invalidations) Invalidate(_ context.Context, ids ...string) error {
	i.ids = append(i.ids, ids...)
	return nil
}

// withParams mimics pat, which stores path params in the query with a colon prefix.
func withParams(r *http.Request, kv ...string) *http.Request {
	q := r.URL.Query()
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	r.URL.RawQuery = q.Encode()
	return r
}

func TestCurrencyHandler(t *testing.T) {
	h := &CurrencyHandler{}

	rr := httptest.NewRecorder()
	h.ListCurrencies(rr, httptest.NewRequest(http.MethodGet, "/currencies", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list []currencyView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.NotEmpty(t, list)
	assert.Equal(t, "AED", list[0].Code)

	rr = httptest.NewRecorder()
	h.GetCurrencyDefaults(rr, withParams(httptest.NewRequest(http.MethodGet, "/currencies/jpy", nil), ":code", "jpy"))
	require.Equal(t, http.StatusOK, rr.Code)
	var defaults map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &defaults))
	assert.Equal(t, "JPY", defaults["code"])
	assert.Equal(t, float64(100), defaults["min_price_increment"])

	rr = httptest.NewRecorder()
	h.GetCurrencyDefaults(rr, withParams(httptest.NewRequest(http.MethodGet, "/currencies/XXX", nil), ":code", "XXX"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestProductHandler_RejectsPriceOffIncrement(t *testing.T) {
	store := newMemStore()
	h := &ProductHandler{Store: store, DefaultCurrency: "USD"}

	rr := httptest.NewRecorder()
	h.CreateProduct(rr, httptest.NewRequest(http.MethodPost, "/admin/products",
		strings.NewReader(`{"id":"2001","app_id":"480","name":"Gems","price":150,"currency":"JPY"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Zero(t, store.saved)
}

func TestProductHandler_CreateUpdateDelete(t *testing.T) {
	store := newMemStore()
	cache := &invalidations{}
	h := &ProductHandler{Store: store, Cache: cache, DefaultCurrency: "USD"}

	rr := httptest.NewRecorder()
	h.CreateProduct(rr, httptest.NewRequest(http.MethodPost, "/admin/products",
		strings.NewReader(`{"id":1001,"app_id":"480","name":"Gold","price":199}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created productView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "USD", created.Currency)
	assert.True(t, created.Active)
	assert.Equal(t, "$1.99", created.DisplayPrice)

	rr = httptest.NewRecorder()
	h.CreateProduct(rr, httptest.NewRequest(http.MethodPost, "/admin/products",
		strings.NewReader(`{"id":"1001","app_id":"480","name":"Gold","price":199}`)))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	req := withParams(httptest.NewRequest(http.MethodPut, "/admin/products/1001", strings.NewReader(`{"price":299,"active":false}`)), ":id", "1001")
	h.UpdateProduct(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, int64(299), store.products["1001"].Price)
	assert.False(t, store.products["1001"].Active)
	assert.Equal(t, "Gold", store.products["1001"].Name)

	rr = httptest.NewRecorder()
	h.DeleteProduct(rr, withParams(httptest.NewRequest(http.MethodDelete, "/admin/products/1001", nil), ":id", "1001"))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.DeleteProduct(rr, withParams(httptest.NewRequest(http.MethodDelete, "/admin/products/1001", nil), ":id", "1001"))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, []string{"1001", "1001", "1001"}, cache.ids)
}

func TestProductHandler_ListProducts(t *testing.T) {
	store := newMemStore(
		models.Product{ID: "1001", AppID: "480", Name: "Gold", Price: 300, Currency: "JPY", Active: true},
		models.Product{ID: "1002", AppID: "480", Name: "Old", Price: 100, Currency: "USD"},
	)
	h := &ProductHandler{Store: store}

	rr := httptest.NewRecorder()
	h.ListProducts(rr, httptest.NewRequest(http.MethodGet, "/products?app_id=480", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var out []productView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "¥3", out[0].DisplayPrice)

	rr = httptest.NewRecorder()
	h.ListProducts(rr, httptest.NewRequest(http.MethodGet, "/products", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

type fakeLister struct {
	filter models.TransactionFilter
	err    error
}

func (f *fakeLister) List(_ context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	f.filter = filter
	return nil, f.err
}

func TestTransactionHandler(t *testing.T) {
	lister := &fakeLister{}
	h := &TransactionHandler{Journal: lister}

	rr := httptest.NewRecorder()
	h.ListTransactions(rr, httptest.NewRequest(http.MethodGet, "/admin/transactions?status=initiated,Authorized&app_id=480&limit=20", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
	assert.Equal(t, []models.PurchaseState{models.PurchaseInitiated, models.PurchaseAuthorized}, lister.filter.States)
	assert.Equal(t, "480", lister.filter.AppID)
	assert.Equal(t, 20, lister.filter.Limit)

	rr = httptest.NewRecorder()
	h.ListTransactions(rr, httptest.NewRequest(http.MethodGet, "/admin/transactions?status=pending", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	lister.err = errors.New("db down")
	rr = httptest.NewRecorder()
	h.ListTransactions(rr, httptest.NewRequest(http.MethodGet, "/admin/transactions", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

type fakePublisher struct {
	file export.ItemDefFile
}

func (f *fakePublisher) Publish(_ context.Context, file export.ItemDefFile) (string, error) {
	f.file = file
	return "s3://bucket/itemdef_480.json", nil
}

func TestItemDefHandler(t *testing.T) {
	store := newMemStore(models.Product{ID: "1001", AppID: "480", Name: "Gold", Price: 199, Currency: "USD", Active: true})
	pub := &fakePublisher{}
	h := &ItemDefHandler{
		Catalog:   store,
		Publisher: pub,
		Logger:    slog.Default(),
		Now:       func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) },
	}

	rr := httptest.NewRecorder()
	h.Preview(rr, httptest.NewRequest(http.MethodGet, "/admin/itemdef?app_id=480", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "itemdef_480.json")
	var doc export.ItemDefFile
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, "20240501", doc.Version)
	require.Len(t, doc.Items, 1)

	rr = httptest.NewRecorder()
	h.Publish(rr, httptest.NewRequest(http.MethodPost, "/admin/itemdef/publish?app_id=480", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(480), pub.file.AppID)

	rr = httptest.NewRecorder()
	h.Preview(rr, httptest.NewRequest(http.MethodGet, "/admin/itemdef?app_id=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
