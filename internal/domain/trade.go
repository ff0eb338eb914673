package domain

// Trade sides for the trade log.
const (
	TradeSideLong  = "long"
	TradeSideShort = "short"
)

// Trade actions for the trade log.
const (
	TradeActionOpen  = "open"
	TradeActionClose = "close"
)

// TradeLogEntry is one executed position change, as persisted.
type TradeLogEntry struct {
	TxSignature string
	Identity    string
	DisplayName string
	Market      string
	Action      string // open | close
	Side        string // long | short
	SizeBase    int64  // signed base units, 1e6 scale
	PriceFixed  uint64 // 1e6 fixed-point execution reference price
	PnlFixed    int64  // realized pnl on close, 0 on open
	TimestampMs int64
}
