package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/owfs-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/owfs-core/internal/journal"
	"github.com/nerrad567/owfs-core/internal/service"
)

// JournalSink records every event in the event journal.
type JournalSink struct {
	repo journal.Repository
}

// NewJournalSink returns a sink writing to repo.
func NewJournalSink(repo journal.Repository) *JournalSink {
	return &JournalSink{repo: repo}
}

func (s *JournalSink) Name() string { return "journal" }

func (s *JournalSink) Handle(ctx context.Context, ev service.Event) error {
	e := journal.EntryFromEvent(ev)
	return s.repo.Record(ctx, &e)
}

// Publisher is the subset of *mqtt.Client used by MQTTSink.
type Publisher interface {
	PublishEvent(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

// MQTTSink publishes events, and keeps retained device and server state
// topics current.
type MQTTSink struct {
	pub    Publisher
	topics mqtt.Topics
}

// NewMQTTSink returns a sink publishing through pub.
func NewMQTTSink(pub Publisher, topics mqtt.Topics) *MQTTSink {
	return &MQTTSink{pub: pub, topics: topics}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Handle(_ context.Context, ev service.Event) error {
	msg := MessageFor(ev)
	if err := s.pub.PublishEvent(s.topics.Event(msg.Kind, msg.subject()), msg.encode()); err != nil {
		return err
	}

	switch ev := ev.(type) {
	case service.DeviceValue:
		return s.pub.PublishRetained(s.topics.DeviceState(ev.Device.ID(), ev.Attribute), []byte(ev.Value))
	case service.ServerRegistered:
		return s.pub.PublishRetained(s.topics.ServerState(msg.Server), []byte("online"))
	case service.ServerDeregistered:
		return s.pub.PublishRetained(s.topics.ServerState(msg.Server), []byte("offline"))
	}
	return nil
}

// ReadingWriter is the subset of *influxdb.Client used by InfluxSink.
type ReadingWriter interface {
	WriteReading(deviceID, family, attribute string, value float64, at time.Time)
}

// InfluxSink writes numeric DeviceValue readings as time series points.
// Other events and non-numeric values are ignored.
type InfluxSink struct {
	w ReadingWriter
}

// NewInfluxSink returns a sink writing through w.
func NewInfluxSink(w ReadingWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

func (s *InfluxSink) Name() string { return "influxdb" }

func (s *InfluxSink) Handle(_ context.Context, ev service.Event) error {
	v, ok := ev.(service.DeviceValue)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
	if err != nil {
		return nil
	}
	s.w.WriteReading(v.Device.ID(), v.Device.Family(), v.Attribute, f, v.At)
	return nil
}

// Broadcaster is implemented by the API websocket hub.
type Broadcaster interface {
	Broadcast(payload []byte) error
}

// BroadcastSink pushes every event to connected websocket clients.
type BroadcastSink struct {
	b Broadcaster
}

// NewBroadcastSink returns a sink sending through b.
func NewBroadcastSink(b Broadcaster) *BroadcastSink {
	return &BroadcastSink{b: b}
}

func (s *BroadcastSink) Name() string { return "websocket" }

func (s *BroadcastSink) Handle(_ context.Context, ev service.Event) error {
	if err := s.b.Broadcast(MessageFor(ev).encode()); err != nil {
		return fmt.Errorf("broadcasting %s: %w", ev.Kind(), err)
	}
	return nil
}
