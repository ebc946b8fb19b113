// Package fakeapi is an in-memory commerce API with the same routes the remote
// client calls. It backs tests and the CLI's local simulation mode.
package fakeapi

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type Server struct {
	mu          sync.Mutex
	products    map[string]*domain.Product
	carts       map[string][]*domain.CartItem // userID -> rows
	rowOwner    map[string]string             // cartRowID -> userID
	coupons     map[string]*domain.Coupon     // code -> coupon
	couponUsers map[string]map[string]bool    // couponID -> users who used it
	orders      map[string]*domain.Order
	orderItems  map[string][]domain.OrderLineItem
	idempotency map[string]string // idempotency key -> orderID

	down  atomic.Bool
	calls sync.Map // route pattern -> *atomic.Int64
	now   func() time.Time
}

func New() *Server {
	return &Server{
		products:    make(map[string]*domain.Product),
		carts:       make(map[string][]*domain.CartItem),
		rowOwner:    make(map[string]string),
		coupons:     make(map[string]*domain.Coupon),
		couponUsers: make(map[string]map[string]bool),
		orders:      make(map[string]*domain.Order),
		orderItems:  make(map[string][]domain.OrderLineItem),
		idempotency: make(map[string]string),
		now:         time.Now,
	}
}

// Handler returns the chi router serving the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.countCalls)
	r.Use(s.availability)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/cart", s.listCart)
		r.Post("/cart", s.addCartRow)
		r.Delete("/cart", s.clearCart)
		r.Get("/orders", s.listOrders)
		r.Post("/orders", s.placeOrder)
	})
	r.Route("/cart/{rowID}", func(r chi.Router) {
		r.Patch("/", s.patchCartRow)
		r.Delete("/", s.deleteCartRow)
	})
	r.Get("/products/{productID}", s.getProduct)
	r.Get("/coupons/check", s.checkCoupon)
	r.Patch("/coupons/{couponID}/consume", s.consumeCoupon)
	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/", s.getOrder)
		r.Get("/items", s.listOrderItems)
		r.Patch("/cancel", s.cancelOrder)
	})
	return r
}

// SetDown makes every route answer 503 until cleared.
func (s *Server) SetDown(down bool) {
	s.down.Store(down)
}

// Calls returns how many requests hit the route pattern, e.g. "/products/{productID}".
func (s *Server) Calls(pattern string) int64 {
	v, ok := s.calls.Load(pattern)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func (s *Server) availability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.down.Load() && r.URL.Path != "/health" {
			respondError(w, http.StatusServiceUnavailable, "unavailable", "service unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		v, _ := s.calls.LoadOrStore(pattern, new(atomic.Int64))
		v.(*atomic.Int64).Add(1)
	})
}

// AddProduct registers a product with per-size stock.
func (s *Server) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stock := make(map[domain.Size]int, len(p.Stock))
	for k, v := range p.Stock {
		stock[k] = v
	}
	p.Stock = stock
	s.products[p.ID] = &p
}

// SetStock overwrites the stock count of one size.
func (s *Server) SetStock(productID string, size domain.Size, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		p.Stock[size] = count
	}
}

// AddCoupon registers a coupon code.
func (s *Server) AddCoupon(c domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.Code] = &c
}

// Coupon returns a copy of the coupon registered under code.
func (s *Server) Coupon(code string) (domain.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[code]
	if !ok {
		return domain.Coupon{}, false
	}
	return *c, true
}

// SeedOrder inserts an order as if it had been placed earlier.
func (s *Server) SeedOrder(o domain.Order, items ...domain.OrderLineItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	s.orders[o.ID] = &o
	s.orderItems[o.ID] = items
}

// SetOrderStatus moves an order to status, the way the back office would.
func (s *Server) SetOrderStatus(orderID string, status domain.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.Status = status
	}
}

// SetOrderPaid marks an order paid or unpaid.
func (s *Server) SetOrderPaid(orderID string, paid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.Paid = paid
	}
}

// Order returns a copy of an order.
func (s *Server) Order(orderID string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// CartRows returns a copy of the user's cart rows.
func (s *Server) CartRows(userID string) []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]domain.CartItem, 0, len(s.carts[userID]))
	for _, r := range s.carts[userID] {
		rows = append(rows, *r)
	}
	return rows
}
