package domain

import (
	"sort"
	"time"
)

// Line is one product's presence in a collection: a product id and a quantity.
// A quantity of zero means "absent"; collections never persist zero-quantity lines.
type Line struct {
	ID  string `json:"id"`
	Qty int    `json:"qty"`
}

// Snapshot is the authoritative server copy of a collection. UpdatedAt is
// informational only; conflicts resolve last-write-wins.
type Snapshot struct {
	Items     []Line    `json:"items"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProductRef is the minimal catalog projection the engine trusts for existence
// and pricing. It is never cached beyond a single resolution cycle.
type ProductRef struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Price   int64  `json:"price"` // minor units
	ShopID  string `json:"shopId"`
	OwnerID string `json:"ownerId"`
}

// CryptoPaymentRef is the reference/amount pair the server issues for a manual
// crypto transfer, carried into the off-band proof submission hand-off.
type CryptoPaymentRef struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	OrderID   string `json:"orderId"`
}

// NormalizeLines merges duplicate ids by summing quantities, drops lines with
// an empty id or a non-positive resulting quantity, and preserves first-seen
// order. The result never contains two lines with the same id.
func NormalizeLines(lines []Line) []Line {
	merged := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.ID == "" {
			continue
		}
		if _, seen := merged[l.ID]; !seen {
			order = append(order, l.ID)
		}
		merged[l.ID] += l.Qty
	}

	out := make([]Line, 0, len(order))
	for _, id := range order {
		if merged[id] <= 0 {
			continue
		}
		out = append(out, Line{ID: id, Qty: merged[id]})
	}
	return out
}

// SortLines orders lines by id for stable snapshots.
func SortLines(lines []Line) {
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
}

// HasPositiveLine reports whether at least one line carries a positive quantity.
func HasPositiveLine(lines []Line) bool {
	for _, l := range lines {
		if l.Qty > 0 {
			return true
		}
	}
	return false
}
