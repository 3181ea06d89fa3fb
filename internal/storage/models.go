package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Observation is a persisted clean price sample. Prices are stored as
// exact decimals; the validation core works in floats and converts at the
// storage boundary.
type Observation struct {
	Symbol    string
	Price     decimal.Decimal
	Volume    *decimal.Decimal
	Change24h *decimal.Decimal
	Currency  string
	TS        time.Time
	Source    string
	CreatedAt time.Time
}

// BlockedRecord captures a symbol excluded from a collection cycle for
// auditing. Reason is the stuck-feed reason where one applies, otherwise
// the generic data-quality marker.
type BlockedRecord struct {
	ID        int64
	Bucket    time.Time
	Symbol    string
	Reason    string
	CreatedAt time.Time
}
