package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/OrWestSide/crypto-trading/internal/infrastructure/storage"
)

func main() {
	path := flag.String("db", "workspace.db", "path to the workspace database")
	limit := flag.Int("limit", 20, "number of trades to show")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*path)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	strategies, err := store.ListStrategies(ctx)
	if err != nil {
		fmt.Printf("Failed to list strategies: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d strategies:\n", len(strategies))
	for _, s := range strategies {
		fmt.Printf("- Strategy ID: %s, Exchange: %s, Symbol: %s, Kind: %s, Timeframe: %s\n",
			s.ID, s.Params["exchange"], s.Params["symbol"], s.Params["strategy"], s.Params["timeframe"])
	}

	trades, err := store.ListTrades(ctx, *limit)
	if err != nil {
		fmt.Printf("Failed to list trades: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Last %d trades:\n", len(trades))
	for _, t := range trades {
		entry := "pending"
		if t.EntryPrice != nil {
			entry = t.Contract.FormatPrice(*t.EntryPrice)
		}
		stale := ""
		if t.FillStale {
			stale = " ⚠️ fill not confirmed"
		}
		fmt.Printf("- %s %s %s %s qty=%s entry=%s status=%s pnl=%f%s\n",
			t.ID, t.Contract.Exchange, t.Contract.Symbol, t.Side,
			t.Contract.FormatQuantity(t.Quantity), entry, t.Status, t.PnL, stale)
	}
}
