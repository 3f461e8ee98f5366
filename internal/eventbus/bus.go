package eventbus

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
)

// DefaultCapacity is the number of pending events a stream holds before
// producers block.
const DefaultCapacity = 1000

// ErrInvariantViolation is returned when the single-consumer contract is broken.
// Use errors.Is() to detect it.
var ErrInvariantViolation = errors.New("eventbus: invariant violation")

// Bus is a bounded event channel restricted to one armed consumer.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Bus[T any] struct {
	capacity int

	mu     sync.Mutex
	stream *Stream[T]
}

// New creates an unarmed bus. A capacity of zero or less selects DefaultCapacity.
func New[T any](capacity int) *Bus[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus[T]{capacity: capacity}
}

// Capacity returns the per-stream buffer size.
func (b *Bus[T]) Capacity() int {
	return b.capacity
}

// Arm attaches a consumer and returns its stream.
//
// Returns:
//   - *Stream[T]: A fresh, empty stream
//   - error: ErrInvariantViolation if a stream is already armed
func (b *Bus[T]) Arm() (*Stream[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream != nil {
		return nil, fmt.Errorf("%w: event stream already armed", ErrInvariantViolation)
	}

	s := &Stream[T]{
		bus:    b,
		ch:     make(chan T, b.capacity),
		closed: make(chan struct{}),
	}
	b.stream = s
	return s, nil
}

// Armed reports whether a consumer is attached.
func (b *Bus[T]) Armed() bool {
	return b.current() != nil
}

// Len returns the number of events waiting in the armed stream.
// It is zero while the bus is unarmed.
func (b *Bus[T]) Len() int {
	s := b.current()
	if s == nil {
		return 0
	}
	return len(s.ch)
}

// Emit delivers v to the armed stream.
//
// When no stream is armed the event is dropped and Emit returns false
// immediately. When the armed stream is full, Emit blocks until space is
// available or the stream is closed.
//
// Returns:
//   - bool: true if the event was queued for the consumer
func (b *Bus[T]) Emit(v T) bool {
	s := b.current()
	if s == nil {
		return false
	}
	return s.push(v)
}

func (b *Bus[T]) current() *Stream[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stream
}

// disarm detaches s if it is still the armed stream.
func (b *Bus[T]) disarm(s *Stream[T]) {
	b.mu.Lock()
	if b.stream == s {
		b.stream = nil
	}
	b.mu.Unlock()
}

// Stream is the consumer side of an armed bus.
//
// Thread Safety:
//   - Next and All are intended for a single consumer goroutine.
//   - Close is safe to call from any goroutine, and more than once.
type Stream[T any] struct {
	bus    *Bus[T]
	ch     chan T
	closed chan struct{}
	once   sync.Once

	// mu guards closing; inflight counts producers inside push so Close
	// can wait for them before checking for pending events.
	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

func (s *Stream[T]) push(v T) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case s.ch <- v:
		return true
	case <-s.closed:
		return false
	}
}

// Next blocks until an event is available, the stream is closed, or ctx is done.
//
// Returns:
//   - T: The next event (zero value when ok is false)
//   - bool: false once the stream is closed or ctx is cancelled
func (s *Stream[T]) Next(ctx context.Context) (T, bool) {
	var zero T

	select {
	case <-s.closed:
		return zero, false
	default:
	}

	select {
	case v := <-s.ch:
		return v, true
	case <-s.closed:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// All returns an iterator over events until the stream closes or ctx is done.
func (s *Stream[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := s.Next(ctx)
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Pending returns the number of events not yet consumed.
func (s *Stream[T]) Pending() int {
	return len(s.ch)
}

// Close ends iteration and disarms the bus.
//
// exitErr describes how the consumer is leaving. On a clean exit (nil) the
// stream must be empty; pending events yield ErrInvariantViolation. On an
// error exit no check is made. The bus is disarmed in both cases.
//
// Returns:
//   - error: ErrInvariantViolation on a clean close with pending events,
//     otherwise exitErr unchanged
func (s *Stream[T]) Close(exitErr error) error {
	err := exitErr
	s.once.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.closed)
		// Producers blocked on a full stream wake on closed; any that won
		// the race to send are counted below.
		s.inflight.Wait()

		if exitErr == nil {
			if n := len(s.ch); n > 0 {
				err = fmt.Errorf("%w: event stream closed with %d pending events", ErrInvariantViolation, n)
			}
		}
		s.bus.disarm(s)
	})
	return err
}
