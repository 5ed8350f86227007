package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/cart"
	"storefront-service/internal/catalog"
	"storefront-service/internal/domain"
	"storefront-service/internal/store"
	"storefront-service/internal/store/mocks"
)

// Helper for setting up tests with a chi router and handler
func setupTestChiServer(t *testing.T, ps store.ProductStorer, opts ...Option) *httptest.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	carts := cart.NewManager(cart.NewMemorySessions(), ps, cart.Options{
		TaxRate: decimal.RequireFromString("0.08"),
	}, logger)
	handler := NewHTTPHandler(catalog.NewService(ps, logger), carts, logger, opts...)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var payload *bytes.Reader
	switch b := body.(type) {
	case nil:
		payload = bytes.NewReader(nil)
	case string:
		payload = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func createViaAPI(t *testing.T, baseURL, name, price string, stock int) domain.Product {
	t.Helper()
	res := doJSON(t, http.MethodPost, baseURL+"/api/v1/products", map[string]any{
		"name":      name,
		"price":     price,
		"stock":     stock,
		"image_url": "/img/" + strings.ToLower(strings.ReplaceAll(name, " ", "-")) + ".png",
		"category":  "books",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	return decodeBody[domain.Product](t, res)
}

func TestHTTPHandler_CreateProduct_Success(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())

	res := doJSON(t, http.MethodPost, server.URL+"/api/v1/products", map[string]any{
		"name":        "  Go in Action ",
		"description": "A book",
		"price":       39.99,
		"stock":       12,
		"image_url":   "/img/go.png",
		"category":    "books",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)

	created := decodeBody[domain.Product](t, res)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Go in Action", created.Name)
	assert.Equal(t, domain.CategoryBooks, created.Category)
	assert.True(t, created.Price.Equal(decimal.RequireFromString("39.99")))
	assert.Equal(t, 12, created.Stock)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestHTTPHandler_CreateProduct_Validation(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())

	res := doJSON(t, http.MethodPost, server.URL+"/api/v1/products", map[string]any{
		"name":      "   ",
		"price":     "-1",
		"stock":     3,
		"image_url": "/img/blank.png",
		"category":  "Books",
	})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	errResp := decodeBody[ErrorResponse](t, res)
	assert.Equal(t, "validation failed", errResp.Error)
	verr := &domain.ValidationError{Fields: errResp.Fields}
	assert.True(t, verr.Has("name"))
	assert.True(t, verr.Has("price"))

	// Nothing was stored.
	list := decodeBody[ProductListResponse](t, doJSON(t, http.MethodGet, server.URL+"/api/v1/products", nil))
	assert.Zero(t, list.Pagination.TotalItems)
	assert.Empty(t, list.Data)
}

func TestHTTPHandler_CreateProduct_InvalidPayload(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "malformed json", body: `{"name":`},
		{name: "unknown field", body: `{"name":"x","price":1,"stock":1,"category":"Books","colour":"red"}`},
		{name: "trailing data", body: `{"name":"x","price":1,"stock":1,"category":"Books"}{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doJSON(t, http.MethodPost, server.URL+"/api/v1/products", tt.body)
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			errResp := decodeBody[ErrorResponse](t, res)
			assert.True(t, strings.HasPrefix(errResp.Error, "Invalid request payload"), errResp.Error)
		})
	}
}

func TestHTTPHandler_WrongTypesReportFields(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())
	p := createViaAPI(t, server.URL, "Atlas", "30.00", 3)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		fields []string
	}{
		{
			name: "price is not a number", method: http.MethodPost, path: "/api/v1/products",
			body:   `{"name":"x","price":"abc","stock":1,"image_url":"/img/x.png","category":"Books"}`,
			fields: []string{"price"},
		},
		{
			name: "fractional stock", method: http.MethodPost, path: "/api/v1/products",
			body:   `{"name":"x","price":1,"stock":1.5,"image_url":"/img/x.png","category":"Books"}`,
			fields: []string{"stock"},
		},
		{
			name: "every bad field at once", method: http.MethodPost, path: "/api/v1/products",
			body:   `{"name":7,"price":true,"stock":"many","image_url":"/img/x.png","category":"Books"}`,
			fields: []string{"name", "price", "stock"},
		},
		{
			name: "price beyond storage range", method: http.MethodPost, path: "/api/v1/products",
			body:   `{"name":"x","price":"100000000000","stock":1,"image_url":"/img/x.png","category":"Books"}`,
			fields: []string{"price"},
		},
		{
			name: "update with a text price", method: http.MethodPatch, path: "/api/v1/products/" + p.ID,
			body:   `{"price":"cheap"}`,
			fields: []string{"price"},
		},
		{
			name: "fractional stock delta", method: http.MethodPatch, path: "/api/v1/products/" + p.ID + "/stock",
			body:   `{"delta":0.5}`,
			fields: []string{"delta"},
		},
		{
			name: "cart quantity as text", method: http.MethodPost, path: "/api/v1/carts/s-types/items",
			body:   `{"product_id":"` + p.ID + `","quantity":"two"}`,
			fields: []string{"quantity"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doJSON(t, tt.method, server.URL+tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, res.StatusCode)
			errResp := decodeBody[ErrorResponse](t, res)
			assert.Equal(t, "validation failed", errResp.Error)
			verr := &domain.ValidationError{Fields: errResp.Fields}
			assert.Equal(t, tt.fields, verr.FieldNames())
		})
	}

	got := decodeBody[domain.Product](t, doJSON(t, http.MethodGet, server.URL+"/api/v1/products/"+p.ID, nil))
	assert.True(t, got.Price.Equal(decimal.RequireFromString("30")))
	assert.Equal(t, 3, got.Stock)
}

func TestHTTPHandler_GetUpdateDeleteProduct(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())
	p := createViaAPI(t, server.URL, "Lamp", "25.00", 4)
	url := server.URL + "/api/v1/products/" + p.ID

	res := doJSON(t, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, p.ID, decodeBody[domain.Product](t, res).ID)

	res = doJSON(t, http.MethodPatch, url, map[string]any{"price": "19.50", "category": "home"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	updated := decodeBody[domain.Product](t, res)
	assert.Equal(t, "Lamp", updated.Name)
	assert.Equal(t, "19.5", updated.Price.String())
	assert.Equal(t, domain.CategoryHome, updated.Category)

	res = doJSON(t, http.MethodPut, url, map[string]any{"stock": -2})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = doJSON(t, http.MethodDelete, url, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = doJSON(t, http.MethodDelete, url, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res = doJSON(t, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHTTPHandler_ListProducts_Pagination(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())
	for i := 1; i <= 25; i++ {
		createViaAPI(t, server.URL, fmt.Sprintf("Book %02d", i), "10", i%3)
	}

	res := doJSON(t, http.MethodGet, server.URL+"/api/v1/products?page=2&limit=10", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	list := decodeBody[ProductListResponse](t, res)
	require.Len(t, list.Data, 10)
	assert.Equal(t, "Book 11", list.Data[0].Name)
	assert.Equal(t, PaginationInfo{Page: 2, Limit: 10, Offset: 10, TotalItems: 25, TotalPages: 3}, list.Pagination)

	res = doJSON(t, http.MethodGet, server.URL+"/api/v1/products?in_stock=true&sort_by=name&sort_order=DESC&limit=100", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	list = decodeBody[ProductListResponse](t, res)
	assert.Equal(t, 17, list.Pagination.TotalItems)
	assert.Equal(t, "Book 25", list.Data[0].Name)
	for _, p := range list.Data {
		assert.Positive(t, p.Stock)
	}

	res = doJSON(t, http.MethodGet, server.URL+"/api/v1/products?q=book%2007", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	list = decodeBody[ProductListResponse](t, res)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "Book 07", list.Data[0].Name)
}

func TestHTTPHandler_ListProducts_InvalidQuery(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())

	tests := []struct {
		query string
		field string
	}{
		{query: "limit=abc", field: "limit"},
		{query: "page=-1", field: "page"},
		{query: "min_price=cheap", field: "min_price"},
		{query: "min_price=10&max_price=5", field: "min_price"},
		{query: "in_stock=maybe", field: "in_stock"},
		{query: "sort_by=rating", field: "sort_by"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := doJSON(t, http.MethodGet, server.URL+"/api/v1/products?"+tt.query, nil)
			require.Equal(t, http.StatusBadRequest, res.StatusCode)
			errResp := decodeBody[ErrorResponse](t, res)
			verr := &domain.ValidationError{Fields: errResp.Fields}
			assert.True(t, verr.Has(tt.field), "fields: %v", verr.FieldNames())
		})
	}
}

func TestHTTPHandler_RecentAndCategories(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())
	createViaAPI(t, server.URL, "Old", "1", 1)
	createViaAPI(t, server.URL, "New", "1", 1)

	res := doJSON(t, http.MethodGet, server.URL+"/api/v1/products/recent?limit=1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	recent := decodeBody[[]domain.Product](t, res)
	require.Len(t, recent, 1)
	assert.Equal(t, "New", recent[0].Name)

	res = doJSON(t, http.MethodGet, server.URL+"/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody[struct {
		Data []domain.Category `json:"data"`
	}](t, res)
	assert.Equal(t, domain.Categories(), body.Data)
}

func TestHTTPHandler_AdjustStock(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())
	p := createViaAPI(t, server.URL, "Ball", "5", 3)
	url := server.URL + "/api/v1/products/" + p.ID + "/stock"

	res := doJSON(t, http.MethodPatch, url, map[string]any{"delta": 7})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 10, decodeBody[domain.Product](t, res).Stock)

	res = doJSON(t, http.MethodPatch, url, map[string]any{"delta": -11})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res = doJSON(t, http.MethodPatch, url, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = doJSON(t, http.MethodPatch, server.URL+"/api/v1/products/missing/stock", map[string]any{"delta": 1})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHTTPHandler_StoreError(t *testing.T) {
	mockStore := new(mocks.MockProductStorer)
	server := setupTestChiServer(t, mockStore)

	mockStore.On("GetProductByID", mock.Anything, "p-1").Return(nil, errors.New("connection reset")).Once()

	res := doJSON(t, http.MethodGet, server.URL+"/api/v1/products/p-1", nil)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	errResp := decodeBody[ErrorResponse](t, res)
	assert.Equal(t, "Failed to retrieve product", errResp.Error)

	mockStore.AssertExpectations(t)
}

func TestHTTPHandler_CartFlow(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())
	p := createViaAPI(t, server.URL, "Mug", "10.00", 5)
	cartURL := server.URL + "/api/v1/carts/s-1"

	res := doJSON(t, http.MethodPost, cartURL+"/items", map[string]any{"product_id": p.ID, "quantity": 3})
	require.Equal(t, http.StatusOK, res.StatusCode)
	added := decodeBody[AddCartItemResponse](t, res)
	assert.Equal(t, 3, added.Line.Quantity)
	assert.Equal(t, "30.00", added.Cart.Subtotal)

	res = doJSON(t, http.MethodPut, cartURL+"/items/"+p.ID, map[string]any{"quantity": 10})
	require.Equal(t, http.StatusOK, res.StatusCode)
	updated := decodeBody[CartResponse](t, res)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, 5, updated.Items[0].Quantity, "clamped to stock")
	assert.Equal(t, "50.00", updated.Subtotal)
	assert.Equal(t, "4.00", updated.Tax)
	assert.Equal(t, "54.00", updated.Total)
	assert.Equal(t, "USD", updated.Currency)

	res = doJSON(t, http.MethodPost, cartURL+"/revalidate", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, decodeBody[struct {
		Valid bool `json:"valid"`
	}](t, res).Valid)

	res = doJSON(t, http.MethodPost, cartURL+"/checkout", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	quote := decodeBody[CheckoutResponse](t, res)
	assert.NotEmpty(t, quote.Reference)
	assert.Equal(t, "54.00", quote.Cart.Total)

	res = doJSON(t, http.MethodGet, cartURL, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, decodeBody[CartResponse](t, res).Items)

	res = doJSON(t, http.MethodPost, cartURL+"/checkout", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, "empty cart")
}

func TestHTTPHandler_AddCartItem_HugeQuantityKeepsLine(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())
	p := createViaAPI(t, server.URL, "Pen", "10.00", 5)
	cartURL := server.URL + "/api/v1/carts/s-huge"

	res := doJSON(t, http.MethodPost, cartURL+"/items", map[string]any{"product_id": p.ID, "quantity": 3})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = doJSON(t, http.MethodPost, cartURL+"/items", `{"product_id":"`+p.ID+`","quantity":9223372036854775807}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	added := decodeBody[AddCartItemResponse](t, res)
	assert.Equal(t, 5, added.Line.Quantity)
	assert.Equal(t, "54.00", added.Cart.Total)

	got := decodeBody[CartResponse](t, doJSON(t, http.MethodGet, cartURL, nil))
	require.Len(t, got.Items, 1)
	assert.Equal(t, 5, got.Items[0].Quantity)
	assert.Equal(t, "50.00", got.Subtotal)
}

func TestHTTPHandler_CartErrors(t *testing.T) {
	server := setupTestChiServer(t, store.NewMemoryStore())
	soldOut := createViaAPI(t, server.URL, "Rare", "99", 0)
	p := createViaAPI(t, server.URL, "Cap", "8", 2)
	cartURL := server.URL + "/api/v1/carts/s-2"

	res := doJSON(t, http.MethodPost, cartURL+"/items", map[string]any{"product_id": soldOut.ID})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res = doJSON(t, http.MethodPost, cartURL+"/items", map[string]any{"product_id": "nope"})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = doJSON(t, http.MethodPost, cartURL+"/items", map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = doJSON(t, http.MethodPut, cartURL+"/items/"+p.ID, map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusNotFound, res.StatusCode, "line not in cart")

	res = doJSON(t, http.MethodPost, cartURL+"/items", map[string]any{"product_id": p.ID, "quantity": 2})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = doJSON(t, http.MethodPatch, server.URL+"/api/v1/products/"+p.ID+"/stock", map[string]any{"delta": -1})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = doJSON(t, http.MethodPost, cartURL+"/checkout", nil)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	errResp := decodeBody[ErrorResponse](t, res)
	require.Len(t, errResp.Issues, 1)
	assert.Equal(t, 2, errResp.Issues[0].Requested)
	assert.Equal(t, 1, errResp.Issues[0].Available)

	res = doJSON(t, http.MethodPost, cartURL+"/sync", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	synced := decodeBody[struct {
		Cart     CartResponse        `json:"cart"`
		Adjusted []domain.StockIssue `json:"adjusted"`
	}](t, res)
	assert.Len(t, synced.Adjusted, 1)
	assert.Equal(t, 1, synced.Cart.Items[0].Quantity)

	res = doJSON(t, http.MethodDelete, cartURL+"/items/"+p.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, decodeBody[CartResponse](t, res).Items)
}

func TestHTTPHandler_HealthAndRoot(t *testing.T) {
	healthy := setupTestChiServer(t, store.NewMemoryStore())
	res := doJSON(t, http.MethodGet, healthy.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = doJSON(t, http.MethodGet, healthy.URL+"/api", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "API is working!", decodeBody[map[string]string](t, res)["message"])

	down := setupTestChiServer(t, store.NewMemoryStore(), WithReadinessCheck(func(context.Context) error {
		return errors.New("database unreachable")
	}))
	res = doJSON(t, http.MethodGet, down.URL+"/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestHTTPHandler_Routes(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ps := store.NewMemoryStore()
	carts := cart.NewManager(cart.NewMemorySessions(), ps, cart.Options{}, logger)
	server := httptest.NewServer(NewHTTPHandler(catalog.NewService(ps, logger), carts, logger).Routes())
	defer server.Close()

	res := doJSON(t, http.MethodGet, server.URL+"/no/such/route", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Contains(t, decodeBody[ErrorResponse](t, res).Error, "/no/such/route")

	res = doJSON(t, http.MethodGet, server.URL+"/api/v1/products/missing", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("Content-Type"))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "HTTP request completed with client error", entry.Message)
	assert.Equal(t, http.StatusNotFound, entry.Data["status_code"])
}
