// Package eventbus provides a bounded, single-consumer event channel.
//
// A Bus accepts events from any number of producers but delivers them to at
// most one consumer at a time. The consumer attaches by arming the bus, which
// returns a Stream. While no stream is armed, emitted events are dropped.
//
// # Lifecycle
//
//	stream, err := bus.Arm()
//	if err != nil {
//	    return err // a second consumer is already attached
//	}
//	defer func() { err = stream.Close(err) }()
//
//	for ev := range stream.All(ctx) {
//	    handle(ev)
//	}
//
// Closing a stream ends its iteration and disarms the bus. A closed stream is
// never restartable: arming again creates a new, empty stream.
//
// # Backpressure
//
// Each stream has a fixed capacity (DefaultCapacity unless configured). When
// the armed stream is full, Emit blocks until the consumer frees a slot or the
// stream is closed.
//
// # Invariants
//
// Arming an already armed bus, and closing a stream with pending events on a
// clean exit, both return ErrInvariantViolation. These signal caller bugs, not
// runtime conditions.
package eventbus
