package quota

import "errors"

var (
	// ErrQuotaExceeded is returned when a key's balance cannot cover a consumption.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnknownLedger is returned when a ledger name is not configured.
	ErrUnknownLedger = errors.New("unknown ledger")
)
