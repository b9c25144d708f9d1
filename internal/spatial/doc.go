// Package spatial buffers per-source, per-sample positioned audio produced
// on real-time render callbacks and forwards it to a limited pool of
// platform spatial render slots.
//
// # Components
//
//   - Source: per-source ring buffer of mono samples with a parallel
//     position ring. Written by the producer, read by the pump worker.
//   - SlotPool: the finite set of render slots. Its usable count may change
//     at any time through the CapacityNotifier.
//   - AdmissionQueue: FIFO of sources that currently own a slot. Admission
//     is bounded by the usable count, shrink evicts from the tail.
//   - PumpWorker: one goroutine that connects to a Renderer, waits on its
//     quantum clock and copies one quantum per admitted source into a slot.
//   - CapacityNotifier: receives capacity changes from the renderer on any
//     goroutine.
//   - Engine: owns all of the above and exposes the producer-facing API.
//
// # Concurrency
//
// The producer never waits on the worker. It takes its own source lock with
// a bounded wait and, only while admitting, the queue lock. Lock order is
// always queue lock before source lock. The usable slot count is the only
// value written from uncontrolled goroutines and is an atomic.
//
// A producer call that cannot be absorbed (format not supported, unknown
// source, queue full, lock timeout) returns a pass-through disposition so the
// host keeps the audio unspatialized. Nothing on the producer path fails hard.
package spatial
