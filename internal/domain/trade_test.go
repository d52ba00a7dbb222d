package domain

import (
	"math"
	"testing"
)

func newTestTrade(side Side) *Trade {
	return &Trade{
		ID:       "t1",
		Contract: Contract{Symbol: "BTCUSDT", Settlement: SettlementLinear, Multiplier: 1},
		Side:     side,
		Status:   TradeOpen,
		Quantity: 2,
	}
}

func TestTrade_UpdatePnLWaitsForEntry(t *testing.T) {
	trade := newTestTrade(SideLong)
	trade.UpdatePnL(110)
	if trade.PnL != 0 || trade.HasEntry() {
		t.Fatalf("PnL computed without entry: %+v", trade)
	}

	trade.FillStale = true
	trade.SetEntry(100)
	if trade.FillStale {
		t.Error("entry fill must clear the stale flag")
	}
	trade.UpdatePnL(110)
	if trade.PnL != 20 {
		t.Errorf("PnL = %v, want 20", trade.PnL)
	}
}

func TestTrade_MarkPrice(t *testing.T) {
	q := BidAsk{Bid: 99, Ask: 101}
	if got := newTestTrade(SideLong).MarkPrice(q); got != 99 {
		t.Errorf("long mark = %v", got)
	}
	if got := newTestTrade(SideShort).MarkPrice(q); got != 101 {
		t.Errorf("short mark = %v", got)
	}
}

func TestTrade_CloseFreezesPnL(t *testing.T) {
	trade := newTestTrade(SideShort)
	trade.SetEntry(100)
	trade.Close(95, "exit-1", 1234)

	if trade.Status != TradeClosed || trade.ExitOrderID != "exit-1" || trade.ClosedAt != 1234 {
		t.Fatalf("unexpected trade after close: %+v", trade)
	}
	if math.Abs(trade.PnL-10) > 1e-12 {
		t.Errorf("PnL = %v, want 10", trade.PnL)
	}

	trade.UpdatePnL(50)
	if math.Abs(trade.PnL-10) > 1e-12 {
		t.Errorf("closed trade PnL moved to %v", trade.PnL)
	}
}

func TestTrade_CloseWithoutExitPriceKeepsLastPnL(t *testing.T) {
	trade := newTestTrade(SideLong)
	trade.SetEntry(100)
	trade.UpdatePnL(104)
	trade.Close(0, "exit-1", 1)

	if trade.ExitPrice != nil {
		t.Error("exit price set without a fill")
	}
	if trade.PnL != 8 {
		t.Errorf("PnL = %v, want 8", trade.PnL)
	}
}

func TestTrade_CopySharesNoPointers(t *testing.T) {
	trade := newTestTrade(SideLong)
	trade.SetEntry(100)

	c := trade.Copy()
	*c.EntryPrice = 1
	if *trade.EntryPrice != 100 {
		t.Error("copy shares the entry price pointer")
	}
}

func TestSignal_Side(t *testing.T) {
	if SignalLong.Side() != SideLong || SignalShort.Side() != SideShort || SignalNone.Side() != "" {
		t.Error("unexpected signal to side mapping")
	}
	if SideLong.EntrySide() != OrderSideBuy || SideLong.ExitSide() != OrderSideSell {
		t.Error("long order sides")
	}
	if SideShort.EntrySide() != OrderSideSell || SideShort.ExitSide() != OrderSideBuy {
		t.Error("short order sides")
	}
}
