package validation

// Line is a single order line as submitted by the till UI.
type Line struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	PriceUnit float64 `json:"price_unit" validate:"gte=0"`
	Discount  float64 `json:"discount,omitempty" validate:"gte=0,lte=100"`
}

// Payment is one tender against the order.
type Payment struct {
	MethodID int64   `json:"method_id" validate:"required,gt=0"`
	Amount   float64 `json:"amount" validate:"required"`
}

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	SessionID   int64     `json:"session_id" validate:"required,gt=0"`
	UserID      int64     `json:"user_id" validate:"required,gt=0"`
	Lines       []Line    `json:"lines" validate:"required,min=1,dive"`
	Payments    []Payment `json:"payments" validate:"dive"`
	AmountTotal float64   `json:"amount_total" validate:"required"`
	AmountTax   float64   `json:"amount_tax" validate:"gte=0"`
	PartnerID   int64     `json:"partner_id,omitempty"`
}
