package domain

import "math"

// settlementMath holds the two formulas that differ between settlement kinds.
type settlementMath struct {
	// longPnL is the PnL of a long position; shorts use the negated value.
	longPnL func(entry, mark, multiplier, quantity float64) float64
	// contracts converts an amount of the settlement asset into a contract count at price.
	contracts func(margin, price, multiplier float64) float64
}

func linearPnL(entry, mark, multiplier, quantity float64) float64 {
	return (mark - entry) * multiplier * quantity
}

func linearContracts(margin, price, multiplier float64) float64 {
	return margin / (math.Abs(multiplier) * price)
}

var settlementTable = map[SettlementKind]settlementMath{
	SettlementLinear: {
		longPnL:   linearPnL,
		contracts: linearContracts,
	},
	SettlementInverse: {
		longPnL: func(entry, mark, multiplier, quantity float64) float64 {
			return (1/entry - 1/mark) * multiplier * quantity
		},
		contracts: func(margin, price, multiplier float64) float64 {
			return margin / (math.Abs(multiplier) / price)
		},
	},
	SettlementQuanto: {
		longPnL:   linearPnL,
		contracts: linearContracts,
	},
}

func (c Contract) settlement() settlementMath {
	if m, ok := settlementTable[c.Settlement]; ok {
		return m
	}
	return settlementTable[SettlementLinear]
}

// PnL returns the unrealized PnL of a position of quantity contracts, in the
// contract's settlement asset. Zero when either price is unknown.
func (c Contract) PnL(side Side, entry, mark, quantity float64) float64 {
	if entry <= 0 || mark <= 0 {
		return 0
	}
	pnl := c.settlement().longPnL(entry, mark, c.multiplier(), quantity)
	if side == SideShort {
		return -pnl
	}
	return pnl
}

// ContractsFor converts margin (settlement asset units) into an unrounded contract count.
func (c Contract) ContractsFor(margin, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return c.settlement().contracts(margin, price, c.multiplier())
}
