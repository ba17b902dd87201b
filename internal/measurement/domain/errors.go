package measurement

import "errors"

var (
	ErrCatalogUnavailable = errors.New("measurement: catalog unavailable")
	ErrGateUnavailable    = errors.New("measurement: gate unavailable")
	ErrFetch              = errors.New("measurement: fetch failed")
	ErrInvalidDivisor     = errors.New("measurement: unit divisor must be > 0")
)
