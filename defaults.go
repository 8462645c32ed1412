package tiercache

import "time"

const (
	defaultLockTTL      = 30 * time.Second
	defaultScanBatch    = 100
	defaultFlightWait   = 5 * time.Second
	defaultFlightPoll   = 50 * time.Millisecond
	defaultGenSweep     = time.Hour
	defaultGenRetention = 24 * time.Hour
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
