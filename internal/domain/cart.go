package domain

// GuestUserID scopes state for a visitor who has not signed in.
const GuestUserID = "guest"

// Size is a garment size offered per product.
type Size string

const (
	SizeS Size = "S"
	SizeM Size = "M"
	SizeL Size = "L"
)

// Valid reports whether s is one of the sizes the storefront sells.
func (s Size) Valid() bool {
	return s == SizeS || s == SizeM || s == SizeL
}

// CartItem is a single cart row. CartRowID is assigned by the remote API on creation.
type CartItem struct {
	CartRowID     string `json:"cart_row_id"`
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	UnitPrice     int64  `json:"unit_price"`
	Quantity      int    `json:"quantity"`
	ImageRef      string `json:"image_ref,omitempty"`
	Size          Size   `json:"size"`
	OriginalPrice *int64 `json:"original_price,omitempty"`
}

// CartSummary is derived from a set of cart rows and never stored on its own.
type CartSummary struct {
	Items      []CartItem `json:"items"`
	TotalItems int        `json:"total_items"`
	TotalPrice int64      `json:"total_price"`
}

// Summarize recomputes totals from items. The returned summary owns a copy of items.
func Summarize(items []CartItem) CartSummary {
	s := CartSummary{Items: make([]CartItem, len(items))}
	copy(s.Items, items)
	for _, item := range items {
		s.TotalItems += item.Quantity
		s.TotalPrice += item.UnitPrice * int64(item.Quantity)
	}
	return s
}

// QuantityOf returns how many units of productID in size are already in the cart.
func (s CartSummary) QuantityOf(productID string, size Size) int {
	total := 0
	for _, item := range s.Items {
		if item.ProductID == productID && item.Size == size {
			total += item.Quantity
		}
	}
	return total
}

// Find returns the row with the given id.
func (s CartSummary) Find(cartRowID string) (CartItem, bool) {
	for _, item := range s.Items {
		if item.CartRowID == cartRowID {
			return item, true
		}
	}
	return CartItem{}, false
}

// FindProduct returns the first row holding productID in size.
func (s CartSummary) FindProduct(productID string, size Size) (CartItem, bool) {
	for _, item := range s.Items {
		if item.ProductID == productID && item.Size == size {
			return item, true
		}
	}
	return CartItem{}, false
}
