package domain

// Product is the slice of the remote catalog the engine needs: per-size stock counts.
type Product struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Price int64        `json:"price"`
	Stock map[Size]int `json:"stock"`
}

// Available returns the stock count for size, zero when the size is not offered.
func (p Product) Available(size Size) int {
	return p.Stock[size]
}
