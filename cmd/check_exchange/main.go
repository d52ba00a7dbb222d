package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/config"
	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/exchange"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	name := flag.String("exchange", "binance", "exchange to check")
	symbol := flag.String("symbol", "BTCUSDT", "contract to quote")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var exCfg *config.ExchangeConfig
	for i := range cfg.Exchanges {
		if cfg.Exchanges[i].Name == *name {
			exCfg = &cfg.Exchanges[i]
		}
	}
	if exCfg == nil {
		fmt.Printf("Exchange %s is not configured\n", *name)
		os.Exit(1)
	}

	fmt.Printf("Testing %s interaction (testnet=%v)...\n", exCfg.Name, exCfg.Testnet)
	if len(exCfg.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", exCfg.APIKey[:4])
	}

	connector, err := exchange.New(exCfg.Name, exCfg.APIKey, exCfg.APISecret, exCfg.Testnet, zap.NewNop(),
		exchange.WithEndpoints(exCfg.RESTEndpoint, exCfg.WSEndpoint))
	if err != nil {
		fmt.Printf("Failed to create connector: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2. Contracts (public)
	if err := connector.Start(ctx); err != nil {
		fmt.Printf("❌ Failed to load contracts: %v\n", err)
		os.Exit(1)
	}
	defer connector.Close()
	fmt.Printf("✅ Contracts loaded: %d\n", len(connector.ListContracts()))

	contract, ok := connector.Contract(*symbol)
	if !ok {
		fmt.Printf("❌ Unknown contract %s\n", *symbol)
	} else {
		fmt.Printf("✅ %s: tick=%s lot=%s settlement=%s multiplier=%g\n",
			contract.Symbol, contract.FormatPrice(contract.TickSize), contract.FormatQuantity(contract.LotSize),
			contract.Settlement, contract.Multiplier)
		checkQuote(ctx, connector, contract)
	}

	// 3. Balances (signed)
	balances, err := connector.ListBalances(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get balances: %v\n", err)
		return
	}
	for asset, b := range balances {
		fmt.Printf("✅ Balance %s: wallet=%f margin=%f upnl=%f\n", asset, b.WalletBalance, b.MarginBalance, b.UnrealizedPnL)
	}
}

func checkQuote(ctx context.Context, connector domain.Connector, contract domain.Contract) {
	quote, err := connector.GetBidAsk(ctx, contract)
	if err != nil {
		fmt.Printf("❌ Failed to get bid/ask: %v\n", err)
		return
	}
	fmt.Printf("✅ Bid/Ask (%s): %s / %s\n", contract.Symbol, contract.FormatPrice(quote.Bid), contract.FormatPrice(quote.Ask))

	candles, err := connector.GetHistoricalCandles(ctx, contract, connector.SupportedTimeframes()[0])
	if err != nil {
		fmt.Printf("❌ Failed to get candles: %v\n", err)
		return
	}
	if len(candles) > 0 {
		last := candles[len(candles)-1]
		fmt.Printf("✅ Candles: %d, last %s close=%f\n", len(candles), time.UnixMilli(last.Time).UTC().Format(time.RFC3339), last.Close)
	}
}
