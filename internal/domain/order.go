package domain

import "strings"

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderState is the exchange-agnostic order lifecycle status.
type OrderState string

const (
	OrderNew             OrderState = "new"
	OrderPartiallyFilled OrderState = "partially-filled"
	OrderFilled          OrderState = "filled"
	OrderCanceled        OrderState = "canceled"
	OrderRejected        OrderState = "rejected"
	OrderExpired         OrderState = "expired"
	OrderUnknown         OrderState = "unknown"
)

// NormalizeOrderState maps Binance (FILLED, PARTIALLY_FILLED), BitMEX (Filled,
// PartiallyFilled) and Bybit (Cancelled, PartiallyFilledCanceled) spellings.
func NormalizeOrderState(raw string) OrderState {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(raw))
	switch key {
	case "new", "created", "untriggered":
		return OrderNew
	case "partiallyfilled":
		return OrderPartiallyFilled
	case "filled":
		return OrderFilled
	case "canceled", "cancelled", "partiallyfilledcanceled", "deactivated":
		return OrderCanceled
	case "rejected":
		return OrderRejected
	case "expired":
		return OrderExpired
	}
	return OrderUnknown
}

// OrderStatus is an immutable snapshot returned by every order call.
// AvgPrice is zero until the exchange reports a fill price.
type OrderStatus struct {
	OrderID  string     `json:"order_id"`
	Status   OrderState `json:"status"`
	AvgPrice float64    `json:"avg_price"`
}

func (o *OrderStatus) Filled() bool { return o != nil && o.Status == OrderFilled }

type OrderRequest struct {
	Contract    Contract
	Side        OrderSide
	Type        OrderType
	Quantity    float64
	Price       float64 // ignored for market orders, zero means none
	TimeInForce string
}
