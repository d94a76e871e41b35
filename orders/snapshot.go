package orders

// LineItem is a single dish line on an order.
type LineItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// RestaurantGroup groups an order's line items by restaurant, in the
// order the restaurants appear on the receipt.
type RestaurantGroup struct {
	RestaurantID   string     `json:"restaurant_id"`
	RestaurantName string     `json:"restaurant_name"`
	Items          []LineItem `json:"items"`
}

// Address is the delivery address on an order.
type Address struct {
	Street    string  `json:"street"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// PaymentInfo describes how the order was paid. Guest tracking only ever
// reads it for display, so it carries no credentials.
type PaymentInfo struct {
	Method string `json:"method"`
	Paid   bool   `json:"paid"`
}

// Snapshot is the full client-side representation of one order as
// returned by the order resource endpoint. Snapshots are replaced
// wholesale on every fetch or push update, never mutated field by field.
type Snapshot struct {
	OrderID          string            `json:"order_id"`
	Status           Status            `json:"status"`
	TotalAmount      float64           `json:"total_amount"`
	Items            []LineItem        `json:"items"`
	RestaurantGroups []RestaurantGroup `json:"restaurant_groups"`
	DeliveryAddress  Address           `json:"delivery_address"`
	Payment          PaymentInfo       `json:"payment"`
}

// WithStatus returns a copy of the snapshot carrying the new status.
// Used when a push message reports a transition without a full payload.
func (s *Snapshot) WithStatus(status Status) *Snapshot {
	cp := *s
	cp.Status = status
	return &cp
}
