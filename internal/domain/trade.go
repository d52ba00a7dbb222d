package domain

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// EntrySide is the order side that opens a position on this side.
func (s Side) EntrySide() OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide is the order side that closes a position on this side.
func (s Side) ExitSide() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade is one position opened by a strategy.
type Trade struct {
	ID           string      `json:"id"`
	Time         int64       `json:"time"`
	Contract     Contract    `json:"contract"`
	StrategyID   string      `json:"strategy_id"`
	Side         Side        `json:"side"`
	EntryPrice   *float64    `json:"entry_price"`
	ExitPrice    *float64    `json:"exit_price,omitempty"`
	Status       TradeStatus `json:"status"`
	PnL          float64     `json:"pnl"`
	Quantity     float64     `json:"quantity"`
	EntryOrderID string      `json:"entry_order_id"`
	ExitOrderID  string      `json:"exit_order_id,omitempty"`
	FillStale    bool        `json:"fill_stale"`
	ClosedAt     int64       `json:"closed_at,omitempty"`
}

func (t *Trade) HasEntry() bool { return t.EntryPrice != nil }

func (t *Trade) SetEntry(price float64) {
	p := price
	t.EntryPrice = &p
	t.FillStale = false
}

// MarkPrice picks the side of the book a position would exit against.
func (t *Trade) MarkPrice(q BidAsk) float64 {
	if t.Side == SideShort {
		return q.Ask
	}
	return q.Bid
}

// UpdatePnL recomputes PnL for an open trade. It is a no-op until the entry
// price is known or when the mark is unknown.
func (t *Trade) UpdatePnL(mark float64) {
	if t.Status != TradeOpen || t.EntryPrice == nil || mark <= 0 {
		return
	}
	t.PnL = t.Contract.PnL(t.Side, *t.EntryPrice, mark, t.Quantity)
}

// Close freezes the trade at exit. exit may be zero when the fill price is unknown.
func (t *Trade) Close(exit float64, orderID string, at int64) {
	if exit > 0 {
		t.UpdatePnL(exit)
		p := exit
		t.ExitPrice = &p
	}
	t.ExitOrderID = orderID
	t.Status = TradeClosed
	t.ClosedAt = at
}

// Copy returns a value that shares no pointers with t.
func (t *Trade) Copy() Trade {
	c := *t
	if t.EntryPrice != nil {
		p := *t.EntryPrice
		c.EntryPrice = &p
	}
	if t.ExitPrice != nil {
		p := *t.ExitPrice
		c.ExitPrice = &p
	}
	return c
}
