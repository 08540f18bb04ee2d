package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits bounds what a single plugin runtime may consume.
type Limits struct {
	// Storage
	StorageMaxKeyLength int
	StorageMaxValueSize int64
	StorageMaxTotalSize int64

	// Network
	HTTPMaxBodySize     int64
	HTTPTimeout         time.Duration
	HTTPRequestsPerSec  float64
	HTTPBurst           int
	HTTPMaxRequestBytes int64

	// Filesystem
	FSMaxReadSize int64
	FSMaxList     int

	// Console and server reads
	ConsoleMaxCommandLength int
	LogMaxLines             int
	LogMaxLineBytes         int
	LogMaxBytes             int64

	// Processes
	ProcessMaxOutput  int64
	ProcessTimeout    time.Duration
	ProcessMaxRunning int

	// Script calls
	HookTimeout        time.Duration
	APICallTimeout     time.Duration
	ElementReadTimeout time.Duration
}

// DefaultLimits returns the limits used when configuration sets none.
func DefaultLimits() Limits {
	return Limits{
		StorageMaxKeyLength: 256,
		StorageMaxValueSize: 1 << 20,  // 1 MiB
		StorageMaxTotalSize: 10 << 20, // 10 MiB

		HTTPMaxBodySize:     5 << 20, // 5 MiB
		HTTPTimeout:         30 * time.Second,
		HTTPRequestsPerSec:  5,
		HTTPBurst:           10,
		HTTPMaxRequestBytes: 1 << 20,

		FSMaxReadSize: 16 << 20,
		FSMaxList:     10_000,

		ConsoleMaxCommandLength: 1024,
		LogMaxLines:             1000,
		LogMaxLineBytes:         4096,
		LogMaxBytes:             256 << 10, // 256 KiB

		ProcessMaxOutput:  1 << 20,
		ProcessTimeout:    60 * time.Second,
		ProcessMaxRunning: 8,

		HookTimeout:        10 * time.Second,
		APICallTimeout:     10 * time.Second,
		ElementReadTimeout: 5 * time.Second,
	}
}

// RateLimiters hands out one token bucket per plugin.
type RateLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewRateLimiters creates per-plugin limiters allowing perSec events with the
// given burst. perSec <= 0 disables limiting.
func NewRateLimiters(perSec float64, burst int) *RateLimiters {
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiters{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether pluginID may perform one more event now.
func (r *RateLimiters) Allow(pluginID string) bool {
	return r.get(pluginID).Allow()
}

// Forget drops the limiter for pluginID.
func (r *RateLimiters) Forget(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, pluginID)
}

func (r *RateLimiters) get(pluginID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[pluginID]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[pluginID] = l
	}
	return l
}
