package spatial

import "time"

// Pipeline defaults
const (
	// DefaultBufferCapacity is the per-source ring size in samples (one second at 48 kHz)
	DefaultBufferCapacity = 48000

	// DefaultQuantum is the number of frames pumped into a slot per cycle
	DefaultQuantum = 480

	// DefaultSampleRate is the only host sample rate that gets spatialized
	DefaultSampleRate = 48000

	// DefaultChannels is the only host channel layout that gets spatialized
	DefaultChannels = 2

	// DefaultStarvationThreshold is the number of consecutive empty cycles before eviction
	DefaultStarvationThreshold = 5

	DefaultLockTimeout      = 2 * time.Millisecond
	DefaultReadyTimeout     = 100 * time.Millisecond
	DefaultDestroyTimeout   = 200 * time.Millisecond
	DefaultTombstoneTTL     = 10 * time.Second
	DefaultReconnectInitial = 100 * time.Millisecond
	DefaultReconnectMax     = 10 * time.Second
)

const (
	// reconnectJitterPercentMax adds up to this percentage of the backoff as jitter
	reconnectJitterPercentMax = 20

	// maxBackoffExponent caps 1<<n so the shift cannot overflow
	maxBackoffExponent = 16

	destroyPollInterval = time.Millisecond

	// maxStateHistory bounds the transition log kept for status reporting
	maxStateHistory = 32

	// warnBurst and warnInterval bound warning logs emitted from the producer path
	warnBurst    = 5
	warnInterval = time.Second
)

// EvictionReason says why a source lost its slot.
type EvictionReason string

const (
	EvictCapacity   EvictionReason = "capacity"
	EvictStarved    EvictionReason = "starved"
	EvictTeardown   EvictionReason = "teardown"
	EvictDisconnect EvictionReason = "disconnect"
)
