package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront-service/internal/cart"
	"storefront-service/internal/catalog"
	"storefront-service/internal/domain"
)

const maxBodyBytes = 1 << 20

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	catalog *catalog.Service
	carts   *cart.Manager
	log     logrus.FieldLogger
	ready   func(ctx context.Context) error
}

// Option customizes an HTTPHandler.
type Option func(*HTTPHandler)

// WithReadinessCheck makes /healthz report 503 while check fails.
func WithReadinessCheck(check func(ctx context.Context) error) Option {
	return func(h *HTTPHandler) { h.ready = check }
}

// NewHTTPHandler creates a new HTTPHandler with dependencies.
func NewHTTPHandler(cs *catalog.Service, cm *cart.Manager, log logrus.FieldLogger, opts ...Option) *HTTPHandler {
	h := &HTTPHandler{
		catalog: cs,
		carts:   cm,
		log:     log.WithField("component", "http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// --- Helpers ---

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
	Issues []domain.StockIssue `json:"issues,omitempty"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	if payload == nil {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already out; nothing useful can be sent.
		logrus.WithError(err).Error("failed to encode JSON response")
	}
}

// respondWithServiceError maps a catalog or cart failure to a status code.
// Anything unrecognized is logged and reported as a 500 mentioning op.
func (h *HTTPHandler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var verr *domain.ValidationError
	var stockErr *cart.StockChangedError

	switch {
	case errors.As(err, &verr):
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.As(err, &stockErr):
		respondWithJSON(w, http.StatusConflict, ErrorResponse{Error: domain.ErrStockChanged.Error(), Issues: stockErr.Issues})
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrOutOfStock), errors.Is(err, domain.ErrInsufficientStock):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		h.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"op":         op,
		}).WithError(err).Error("request failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to "+op)
	}
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
// Values of the wrong type for a known field come back as a
// *domain.ValidationError naming every such field.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		if fields := fieldTypeErrors(data, dst); len(fields) > 0 {
			return &domain.ValidationError{Fields: fields}
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// fieldTypeErrors decodes each member of the JSON object in data on its own
// against the matching field of dst and reports the ones that do not fit.
// It returns nil when data is not an object.
func fieldTypeErrors(data []byte, dst any) []domain.FieldError {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil
	}
	rt := reflect.TypeOf(dst)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return nil
	}

	fieldTypes := make(map[string]reflect.Type, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" || !f.IsExported() {
			continue
		}
		fieldTypes[name] = f.Type
	}

	var fields []domain.FieldError
	for _, name := range slices.Sorted(maps.Keys(members)) {
		ft, ok := fieldTypes[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(members[name], reflect.New(ft).Interface()); err != nil {
			fields = append(fields, domain.FieldError{Field: name, Message: typeMessage(ft)})
		}
	}
	return fields
}

func typeMessage(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == decimalType:
		return "must be a decimal number"
	case t.Kind() >= reflect.Int && t.Kind() <= reflect.Int64:
		return "must be an integer"
	case t.Kind() == reflect.String:
		return "must be a string"
	case t.Kind() == reflect.Bool:
		return "must be true or false"
	default:
		return "is invalid"
	}
}

// respondWithDecodeError reports a request body that could not be decoded.
func (h *HTTPHandler) respondWithDecodeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		h.respondWithServiceError(w, r, err, op)
		return
	}
	respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
}

func queryInt(values map[string][]string, key string) (int, error) {
	raw := strings.TrimSpace(first(values[key]))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(key, "must be an integer")
	}
	return n, nil
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// --- Product Handlers ---

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var input catalog.CreateProductInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.respondWithDecodeError(w, r, err, "create product")
		return
	}

	created, err := h.catalog.Create(r.Context(), input)
	if err != nil {
		h.respondWithServiceError(w, r, err, "create product")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

// PaginationInfo describes where a page sits in the full listing.
type PaginationInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Offset     int `json:"offset"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// ProductListResponse is the body of GET /products.
type ProductListResponse struct {
	Data       []domain.Product `json:"data"`
	Pagination PaginationInfo   `json:"pagination"`
}

func parseListQuery(values map[string][]string) (catalog.ListQuery, error) {
	var q catalog.ListQuery
	var fields []domain.FieldError
	collect := func(err error) {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			fields = append(fields, verr.Fields...)
		}
	}

	limit, err := queryInt(values, "limit")
	collect(err)
	offset, err := queryInt(values, "offset")
	collect(err)
	page, err := queryInt(values, "page")
	collect(err)

	if page < 0 {
		fields = append(fields, domain.FieldError{Field: "page", Message: "must not be negative"})
	}
	if page > 0 {
		size := limit
		if size <= 0 {
			size = catalog.DefaultPageSize
		}
		if size > catalog.MaxPageSize {
			size = catalog.MaxPageSize
		}
		offset = (page - 1) * size
	}
	q.Limit = limit
	q.Offset = offset

	for _, key := range []string{"min_price", "max_price"} {
		raw := strings.TrimSpace(first(values[key]))
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			fields = append(fields, domain.FieldError{Field: key, Message: "must be a decimal number"})
			continue
		}
		if key == "min_price" {
			q.MinPrice = &d
		} else {
			q.MaxPrice = &d
		}
	}

	if raw := strings.TrimSpace(first(values["in_stock"])); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			fields = append(fields, domain.FieldError{Field: "in_stock", Message: "must be true or false"})
		}
		q.InStockOnly = b
	}

	q.Search = first(values["search"])
	if q.Search == "" {
		q.Search = first(values["q"])
	}
	q.Category = first(values["category"])
	q.SortBy = first(values["sort_by"])
	q.SortOrder = first(values["sort_order"])

	if len(fields) > 0 {
		return q, &domain.ValidationError{Fields: fields}
	}
	return q, nil
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query, err := parseListQuery(r.URL.Query())
	if err != nil {
		h.respondWithServiceError(w, r, err, "list products")
		return
	}

	page, err := h.catalog.List(r.Context(), query)
	if err != nil {
		h.respondWithServiceError(w, r, err, "retrieve products")
		return
	}

	totalPages := 0
	if page.Total > 0 {
		totalPages = (page.Total + page.Limit - 1) / page.Limit
	}
	respondWithJSON(w, http.StatusOK, ProductListResponse{
		Data: page.Items,
		Pagination: PaginationInfo{
			Page:       page.Offset/page.Limit + 1,
			Limit:      page.Limit,
			Offset:     page.Offset,
			TotalItems: page.Total,
			TotalPages: totalPages,
		},
	})
}

func (h *HTTPHandler) GetRecentProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query(), "limit")
	if err != nil {
		h.respondWithServiceError(w, r, err, "fetch recent products")
		return
	}

	products, err := h.catalog.Recent(r.Context(), limit)
	if err != nil {
		h.respondWithServiceError(w, r, err, "fetch recent products")
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	respondWithJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) GetProductByID(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	product, err := h.catalog.Get(r.Context(), productID)
	if err != nil {
		h.respondWithServiceError(w, r, err, "retrieve product")
		return
	}
	respondWithJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	var input catalog.UpdateProductInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.respondWithDecodeError(w, r, err, "update product")
		return
	}

	updated, err := h.catalog.Update(r.Context(), productID, input)
	if err != nil {
		h.respondWithServiceError(w, r, err, "update product")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

// StockAdjustmentInput is the body of PATCH /products/{productId}/stock.
type StockAdjustmentInput struct {
	Delta *int `json:"delta"`
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	var input StockAdjustmentInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.respondWithDecodeError(w, r, err, "adjust stock")
		return
	}
	if input.Delta == nil {
		h.respondWithServiceError(w, r, domain.NewValidationError("delta", "is required"), "adjust stock")
		return
	}

	updated, err := h.catalog.Restock(r.Context(), productID, *input.Delta)
	if err != nil {
		h.respondWithServiceError(w, r, err, "adjust stock")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	if err := h.catalog.Delete(r.Context(), productID); err != nil {
		h.respondWithServiceError(w, r, err, "delete product")
		return
	}
	respondWithJSON(w, http.StatusNoContent, nil)
}

// --- Category Handlers ---

func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, struct {
		Data []domain.Category `json:"data"`
	}{Data: h.catalog.Categories()})
}

// --- Health ---

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.log.WithError(err).Warn("readiness check failed")
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) APIRoot(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "API is working!"})
}

// --- Route Registration ---

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/api", h.APIRoot)

	r.Get("/api/v1/categories", h.ListCategories)

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Post("/", h.CreateProduct)
		r.Get("/", h.ListProducts)
		// Registered before {productId} so "recent" is not taken as an id.
		r.Get("/recent", h.GetRecentProducts)

		r.Route("/{productId}", func(r chi.Router) {
			r.Get("/", h.GetProductByID)
			r.Patch("/", h.UpdateProduct)
			r.Put("/", h.UpdateProduct)
			r.Delete("/", h.DeleteProduct)
			r.Patch("/stock", h.AdjustStock)
		})
	})

	r.Route("/api/v1/carts/{sessionId}", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/items", h.AddCartItem)
		r.Put("/items/{productId}", h.UpdateCartItem)
		r.Delete("/items/{productId}", h.RemoveCartItem)
		r.Post("/revalidate", h.RevalidateCart)
		r.Post("/sync", h.SyncCart)
		r.Post("/checkout", h.Checkout)
	})
}

// Routes returns the full HTTP handler with the standard middleware stack.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
	h.RegisterRoutes(r)
	return r
}
