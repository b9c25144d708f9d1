// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Label values shared by the collectors.
const (
	// StatusSuccess marks a successful operation.
	StatusSuccess = "success"
	// StatusError marks a failed operation.
	StatusError = "error"

	// SideProducer labels lock timeouts on the render callback path.
	SideProducer = "producer"
	// SideWorker labels lock timeouts on the pump worker path.
	SideWorker = "worker"
)

// Histogram bucket configuration.
const (
	// BucketStart100us is the starting bucket for 0.1ms histograms (0.1ms to ~400ms range).
	BucketStart100us = 0.0001
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)

// ShutdownTimeout bounds the graceful shutdown of servers exposing metrics.
const ShutdownTimeout = 5 * time.Second
