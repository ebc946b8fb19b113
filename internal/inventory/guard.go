// Package inventory checks requested cart quantities against authoritative stock.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/rs/zerolog"
)

// ProductSource fetches a product with its per-size stock counts.
type ProductSource interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// Decision is the outcome of a quantity check. Available is meaningful only when
// the stock lookup succeeded.
type Decision struct {
	Approved  bool
	Available int
}

type Guard struct {
	products ProductSource
	log      zerolog.Logger
}

func NewGuard(products ProductSource) *Guard {
	return &Guard{
		products: products,
		log:      log.WithComponent("inventory"),
	}
}

// CheckQuantityChange approves requestedTotal units of productID in size when the
// remote stock covers it. requestedTotal is the cart's full quantity after the change,
// not the delta.
//
// The guard fails closed: when stock cannot be fetched the change is rejected and
// the fetch error is returned alongside the rejection.
func (g *Guard) CheckQuantityChange(ctx context.Context, productID string, size domain.Size, requestedTotal int) (Decision, error) {
	product, err := g.products.GetProduct(ctx, productID)
	if err != nil {
		metrics.InventoryRejections.WithLabelValues("unverifiable").Inc()
		g.log.Warn().Err(err).Str("product_id", productID).Str("size", string(size)).
			Msg("stock lookup failed, rejecting quantity change")
		if errors.Is(err, domain.ErrProductNotFound) {
			return Decision{}, err
		}
		return Decision{}, fmt.Errorf("check stock for %s: %w", productID, err)
	}

	available := product.Available(size)
	if requestedTotal > available {
		metrics.InventoryRejections.WithLabelValues("insufficient_stock").Inc()
		g.log.Debug().Str("product_id", productID).Str("size", string(size)).
			Int("requested", requestedTotal).Int("available", available).
			Msg("quantity change rejected")
		return Decision{Approved: false, Available: available}, nil
	}
	return Decision{Approved: true, Available: available}, nil
}
