package exchange

import (
	"sync"

	"github.com/OrWestSide/crypto-trading/internal/domain"
)

// PriceCache holds the last streamed bid/ask per symbol. Updates may carry
// only one side; the other side keeps its previous value.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]domain.BidAsk
}

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]domain.BidAsk)}
}

// Update merges the non-nil sides and returns the resulting quote.
func (c *PriceCache) Update(symbol string, bid, ask *float64) domain.BidAsk {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.prices[symbol]
	if bid != nil {
		q.Bid = *bid
	}
	if ask != nil {
		q.Ask = *ask
	}
	c.prices[symbol] = q
	return q
}

func (c *PriceCache) Get(symbol string) (domain.BidAsk, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.prices[symbol]
	return q, ok
}

func (c *PriceCache) Snapshot() map[string]domain.BidAsk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.BidAsk, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}
