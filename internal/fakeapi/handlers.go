package fakeapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) listCart(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	respondJSON(w, http.StatusOK, s.CartRows(userID))
}

func (s *Server) addCartRow(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req domain.CartItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be positive")
		return
	}
	if !req.Size.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_size", "size must be S, M or L")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[req.ProductID]
	if !ok {
		respondError(w, http.StatusNotFound, remote.CodeNotFound, "product not found")
		return
	}

	row := &domain.CartItem{
		CartRowID:     uuid.NewString(),
		ProductID:     p.ID,
		Name:          p.Name,
		UnitPrice:     p.Price,
		Quantity:      req.Quantity,
		ImageRef:      req.ImageRef,
		Size:          req.Size,
		OriginalPrice: req.OriginalPrice,
	}
	s.carts[userID] = append(s.carts[userID], row)
	s.rowOwner[row.CartRowID] = userID

	respondJSON(w, http.StatusCreated, row)
}

func (s *Server) patchCartRow(w http.ResponseWriter, r *http.Request) {
	rowID := chi.URLParam(r, "rowID")

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be positive")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.findRow(rowID)
	if row == nil {
		respondError(w, http.StatusNotFound, remote.CodeNotFound, "cart row not found")
		return
	}
	row.Quantity = req.Quantity
	respondJSON(w, http.StatusOK, row)
}

func (s *Server) deleteCartRow(w http.ResponseWriter, r *http.Request) {
	rowID := chi.URLParam(r, "rowID")

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.rowOwner[rowID]
	if !ok {
		respondError(w, http.StatusNotFound, remote.CodeNotFound, "cart row not found")
		return
	}
	rows := s.carts[userID]
	for i, row := range rows {
		if row.CartRowID == rowID {
			s.carts[userID] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	delete(s.rowOwner, rowID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCartLocked(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearCartLocked(userID string) {
	for _, row := range s.carts[userID] {
		delete(s.rowOwner, row.CartRowID)
	}
	delete(s.carts, userID)
}

func (s *Server) findRow(rowID string) *domain.CartItem {
	userID, ok := s.rowOwner[rowID]
	if !ok {
		return nil
	}
	for _, row := range s.carts[userID] {
		if row.CartRowID == rowID {
			return row
		}
	}
	return nil
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		respondError(w, http.StatusNotFound, remote.CodeNotFound, "product not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) checkCoupon(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	userID := r.URL.Query().Get("user_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[code]
	switch {
	case !ok:
		respondJSON(w, http.StatusOK, domain.CouponCheck{Status: domain.CouponCheckNotFound})
	case s.couponUsers[c.ID][userID]:
		respondJSON(w, http.StatusOK, domain.CouponCheck{Status: domain.CouponCheckAlreadyUsed})
	case c.RemainingUses <= 0:
		respondJSON(w, http.StatusOK, domain.CouponCheck{Status: domain.CouponCheckExhausted})
	default:
		coupon := *c
		respondJSON(w, http.StatusOK, domain.CouponCheck{Status: domain.CouponCheckOK, Coupon: &coupon})
	}
}

func (s *Server) consumeCoupon(w http.ResponseWriter, r *http.Request) {
	couponID := chi.URLParam(r, "couponID")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.coupons {
		if c.ID == couponID {
			if c.RemainingUses > 0 {
				c.RemainingUses--
			}
			respondJSON(w, http.StatusOK, c)
			return
		}
	}
	respondError(w, http.StatusNotFound, remote.CodeNotFound, "coupon not found")
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	key := r.Header.Get("Idempotency-Key")

	var req domain.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "empty_order", "order has no items")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.idempotency[key]; ok && key != "" {
		respondJSON(w, http.StatusOK, s.orders[existing])
		return
	}

	o := &domain.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Address:   req.Address,
		Total:     req.Total,
		Status:    domain.OrderStatusProcessing,
		CouponID:  req.CouponID,
		CreatedAt: s.now(),
		NoteRef:   req.NoteRef,
	}
	s.orders[o.ID] = o
	s.orderItems[o.ID] = req.Items
	if key != "" {
		s.idempotency[key] = o.ID
	}
	if req.CouponID != "" {
		if s.couponUsers[req.CouponID] == nil {
			s.couponUsers[req.CouponID] = make(map[string]bool)
		}
		s.couponUsers[req.CouponID][userID] = true
	}
	s.clearCartLocked(userID)

	respondJSON(w, http.StatusCreated, o)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		respondError(w, http.StatusNotFound, remote.CodeNotFound, "order not found")
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) listOrderItems(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		respondError(w, http.StatusNotFound, remote.CodeNotFound, "order not found")
		return
	}
	items := s.orderItems[orderID]
	if items == nil {
		items = []domain.OrderLineItem{}
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		respondError(w, http.StatusNotFound, remote.CodeNotFound, "order not found")
		return
	}
	if !o.Cancellable() {
		respondError(w, http.StatusConflict, remote.CodeNotCancellable, "order cannot be cancelled")
		return
	}
	o.Status = domain.OrderStatusCancelled
	respondJSON(w, http.StatusOK, o)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Logger.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, remote.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
