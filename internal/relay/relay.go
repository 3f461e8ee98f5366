package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nerrad567/owfs-core/internal/eventbus"
	"github.com/nerrad567/owfs-core/internal/journal"
	"github.com/nerrad567/owfs-core/internal/service"
)

// Logger is the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Sink receives relayed events.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev service.Event) error
}

// Stats counts relay activity.
type Stats struct {
	Events   uint64 `json:"events"`
	Failures uint64 `json:"failures"`
}

// Relay fans events out to sinks.
type Relay struct {
	sinks  []Sink
	logger Logger

	events   atomic.Uint64
	failures atomic.Uint64
}

// New returns a relay delivering to sinks in the given order. Nil sinks
// are skipped so optional integrations can be passed unconditionally.
func New(sinks ...Sink) *Relay {
	r := &Relay{logger: noopLogger{}}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// SetLogger sets the logger for sink failures.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// Run consumes stream until ctx is cancelled or the stream is closed,
// then closes the stream. Cancellation is a normal exit; Run only fails if
// the stream is closed cleanly with events still queued.
func (r *Relay) Run(ctx context.Context, stream *eventbus.Stream[service.Event]) error {
	for ev := range stream.All(ctx) {
		r.Dispatch(ctx, ev)
	}
	err := stream.Close(ctx.Err())
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// Dispatch delivers one event to every sink.
func (r *Relay) Dispatch(ctx context.Context, ev service.Event) {
	r.events.Add(1)
	for _, s := range r.sinks {
		if err := s.Handle(ctx, ev); err != nil {
			r.failures.Add(1)
			r.logger.Warn("relay sink failed", "sink", s.Name(), "event", ev.String(), "error", err)
		}
	}
}

// Stats returns counters since the relay was created.
func (r *Relay) Stats() Stats {
	return Stats{Events: r.events.Load(), Failures: r.failures.Load()}
}

// Message is the JSON form of an event published to MQTT and websocket
// clients.
type Message struct {
	Kind      string    `json:"kind"`
	Server    string    `json:"server,omitempty"`
	Device    string    `json:"device,omitempty"`
	Family    string    `json:"family,omitempty"`
	Attribute string    `json:"attribute,omitempty"`
	Value     string    `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageFor flattens ev. Events without their own timestamp are stamped
// with the current time.
func MessageFor(ev service.Event) Message {
	e := journal.EntryFromEvent(ev)
	at := e.RecordedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Message{
		Kind:      e.Kind,
		Server:    e.Server,
		Device:    e.DeviceID,
		Family:    e.Family,
		Attribute: e.Attribute,
		Value:     e.Value,
		Timestamp: at,
	}
}

// subject is the last topic level for an event: the device ID, or the
// server address for server events.
func (m Message) subject() string {
	if m.Device != "" {
		return m.Device
	}
	return m.Server
}

func (m Message) encode() []byte {
	b, _ := json.Marshal(m) //nolint:errcheck // strings and a time always marshal
	return b
}
