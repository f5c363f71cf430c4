package clientdata

import "time"

// Defaults for the price history cache.
// TTL is added to time.Now() when storing to calculate expires_at.
const (
	// Daily closes only change once per session
	TTLPriceHistory = 6 * time.Hour

	// How long past expires_at an entry may still be served when the provider fails.
	// Cleanup removes rows older than this.
	MaxStalePriceHistory = 72 * time.Hour
)
