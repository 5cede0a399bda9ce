package domain

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
// Total is always ItemSubtotal + Tax + Shipping.
type OrderTotals struct {
	ItemSubtotal int64
	Tax          int64
	Shipping     int64
	Total        int64
}

// Balanced reports whether Total matches the sum of its components.
func (t OrderTotals) Balanced() bool {
	return t.Total == t.ItemSubtotal+t.Tax+t.Shipping
}
