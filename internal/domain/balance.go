package domain

// Balance is a point-in-time margin snapshot for one asset, in whole units of
// that asset whatever minor unit the exchange reports in.
type Balance struct {
	Asset             string  `json:"asset"`
	InitialMargin     float64 `json:"initial_margin"`
	MaintenanceMargin float64 `json:"maintenance_margin"`
	MarginBalance     float64 `json:"margin_balance"`
	WalletBalance     float64 `json:"wallet_balance"`
	UnrealizedPnL     float64 `json:"unrealized_pnl"`
}
