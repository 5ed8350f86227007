package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"storefront-service/internal/cart"
	"storefront-service/internal/domain"
	"storefront-service/internal/pricing"
)

// CartLine is one line of a cart as rendered over HTTP.
type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	ImageURL  string          `json:"image_url"`
	Category  domain.Category `json:"category"`
	Price     string          `json:"price"`
	Quantity  int             `json:"quantity"`
	Stock     int             `json:"stock"`
	LineTotal string          `json:"line_total"`
	AddedAt   time.Time       `json:"added_at"`
}

// CartResponse is a cart with presentation-rounded totals.
type CartResponse struct {
	SessionID string     `json:"session_id"`
	Items     []CartLine `json:"items"`
	ItemCount int        `json:"item_count"`
	Quantity  int        `json:"quantity"`
	Subtotal  string     `json:"subtotal"`
	TaxRate   string     `json:"tax_rate"`
	Tax       string     `json:"tax"`
	Total     string     `json:"total"`
	Currency  string     `json:"currency"`
}

func newCartResponse(v cart.View) CartResponse {
	lines := make([]CartLine, 0, len(v.Items))
	for _, item := range v.Items {
		lines = append(lines, CartLine{
			ProductID: item.Product.ID,
			Name:      item.Product.Name,
			ImageURL:  item.Product.ImageURL,
			Category:  item.Product.Category,
			Price:     pricing.Format(item.Product.Price),
			Quantity:  item.Quantity,
			Stock:     item.Product.Stock,
			LineTotal: pricing.Format(pricing.LineTotal(item)),
			AddedAt:   item.AddedAt,
		})
	}
	s := v.Summary
	return CartResponse{
		SessionID: v.SessionID,
		Items:     lines,
		ItemCount: s.ItemCount,
		Quantity:  s.Quantity,
		Subtotal:  pricing.Format(s.Subtotal),
		TaxRate:   s.TaxRate.String(),
		Tax:       pricing.Format(s.Tax),
		Total:     pricing.Format(s.Total),
		Currency:  v.Currency,
	}
}

// AddCartItemInput is the body of POST /carts/{sessionId}/items.
// Quantity defaults to 1.
type AddCartItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

// AddCartItemResponse reports the effective line after clamping.
type AddCartItemResponse struct {
	Line CartLine     `json:"line"`
	Cart CartResponse `json:"cart"`
}

// UpdateCartItemInput is the body of PUT /carts/{sessionId}/items/{productId}.
type UpdateCartItemInput struct {
	Quantity *int `json:"quantity"`
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.Get(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.respondWithServiceError(w, r, err, "retrieve cart")
		return
	}
	respondWithJSON(w, http.StatusOK, newCartResponse(view))
}

func (h *HTTPHandler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var input AddCartItemInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.respondWithDecodeError(w, r, err, "add to cart")
		return
	}
	if input.ProductID == "" {
		h.respondWithServiceError(w, r, domain.NewValidationError("product_id", "is required"), "add to cart")
		return
	}
	quantity := 1
	if input.Quantity != nil {
		quantity = *input.Quantity
	}

	line, view, err := h.carts.AddItem(r.Context(), chi.URLParam(r, "sessionId"), input.ProductID, quantity)
	if err != nil {
		h.respondWithServiceError(w, r, err, "add to cart")
		return
	}

	resp := AddCartItemResponse{Cart: newCartResponse(view)}
	for _, l := range resp.Cart.Items {
		if l.ProductID == line.Product.ID {
			resp.Line = l
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var input UpdateCartItemInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.respondWithDecodeError(w, r, err, "update cart")
		return
	}
	if input.Quantity == nil {
		h.respondWithServiceError(w, r, domain.NewValidationError("quantity", "is required"), "update cart")
		return
	}

	view, err := h.carts.UpdateItem(r.Context(), chi.URLParam(r, "sessionId"), chi.URLParam(r, "productId"), *input.Quantity)
	if err != nil {
		h.respondWithServiceError(w, r, err, "update cart")
		return
	}
	respondWithJSON(w, http.StatusOK, newCartResponse(view))
}

func (h *HTTPHandler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.RemoveItem(r.Context(), chi.URLParam(r, "sessionId"), chi.URLParam(r, "productId"))
	if err != nil {
		h.respondWithServiceError(w, r, err, "remove from cart")
		return
	}
	respondWithJSON(w, http.StatusOK, newCartResponse(view))
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.Clear(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.respondWithServiceError(w, r, err, "clear cart")
		return
	}
	respondWithJSON(w, http.StatusOK, newCartResponse(view))
}

func (h *HTTPHandler) RevalidateCart(w http.ResponseWriter, r *http.Request) {
	issues, err := h.carts.Revalidate(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.respondWithServiceError(w, r, err, "revalidate cart")
		return
	}
	respondWithJSON(w, http.StatusOK, struct {
		Valid  bool                `json:"valid"`
		Issues []domain.StockIssue `json:"issues"`
	}{Valid: len(issues) == 0, Issues: issues})
}

func (h *HTTPHandler) SyncCart(w http.ResponseWriter, r *http.Request) {
	view, adjusted, err := h.carts.Sync(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.respondWithServiceError(w, r, err, "sync cart")
		return
	}
	respondWithJSON(w, http.StatusOK, struct {
		Cart     CartResponse        `json:"cart"`
		Adjusted []domain.StockIssue `json:"adjusted"`
	}{Cart: newCartResponse(view), Adjusted: adjusted})
}

// CheckoutResponse is the priced quote returned by a successful checkout.
type CheckoutResponse struct {
	Reference string       `json:"reference"`
	QuotedAt  time.Time    `json:"quoted_at"`
	Cart      CartResponse `json:"cart"`
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	quote, err := h.carts.Checkout(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.respondWithServiceError(w, r, err, "check out")
		return
	}
	respondWithJSON(w, http.StatusOK, CheckoutResponse{
		Reference: quote.Reference,
		QuotedAt:  quote.QuotedAt,
		Cart:      newCartResponse(quote.View),
	})
}
