package constants

import "time"

const (

	// ResponseCacheTTL is how long an API response is served from cache
	ResponseCacheTTL = 1 * time.Second
	// MinRequestInterval is the local pacing floor between dispatches
	MinRequestInterval = 500 * time.Millisecond
	// RequestTimeout is the timeout on the underlying HTTP transport
	RequestTimeout = 10 * time.Second
	// RateLimitDefaultDelay is used when a 429 carries no Retry-After header
	RateLimitDefaultDelay = 1 * time.Second
	// RateLimitMinDelay is the clamp floor for a server-directed cooldown
	RateLimitMinDelay = 500 * time.Millisecond
	// RateLimitMaxDelay is the clamp ceiling for a server-directed cooldown
	RateLimitMaxDelay = 2 * time.Second
	// BackoffFactor is the multiplicative growth of the local backoff
	BackoffFactor = 1.05
	// BackoffInitial is the local backoff after the first failure
	BackoffInitial = 100 * time.Millisecond
	// BackoffCap is the ceiling of the local backoff
	BackoffCap = 2 * time.Second
	// RateLimitRetries is how many times a single request waits out a 429
	RateLimitRetries = 3

	// DiceFaces is the number of faces on a die
	DiceFaces = 6
	// MaxConsecutiveDoubles is the doubles ceiling that forfeits the turn
	MaxConsecutiveDoubles = 3
	// RollHistorySize is the size of the roll ring buffer
	RollHistorySize = 10

	// BalanceFreshnessWindow suppresses identical re-writes inside it
	BalanceFreshnessWindow = 3 * time.Second
	// BalanceRefreshFloor is the hard floor between bulk refresh sweeps
	BalanceRefreshFloor = 5 * time.Second
	// BalanceSyncInterval is the authoritative pull-sync interval
	BalanceSyncInterval = 5 * time.Second

	// PollInterval is the snapshot poll interval of the delivery loop
	PollInterval = 2 * time.Second
	// ReconnectInterval is the fixed backoff between reconnect attempts
	ReconnectInterval = 5 * time.Second
	// MaxReconnectAttempts bounds reconnect attempts before giving up
	MaxReconnectAttempts = 10

	// DeckMetadataRefreshInterval is the deck mirror refresh interval
	DeckMetadataRefreshInterval = 45 * time.Second
)
