package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/owfs-core/internal/device"
	"github.com/nerrad567/owfs-core/internal/eventbus"
	"github.com/nerrad567/owfs-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/owfs-core/internal/journal"
	"github.com/nerrad567/owfs-core/internal/service"
	"github.com/nerrad567/owfs-core/internal/service/servicetest"
)

var (
	testServer = servicetest.NewStubServer("bus1", 4304)
	testDevice = device.New("28.0000063B3E31", nil)
	testAt     = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
)

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	seen []string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Handle(_ context.Context, ev service.Event) error {
	s.mu.Lock()
	s.seen = append(s.seen, ev.String())
	s.mu.Unlock()
	return s.err
}

func (s *recordingSink) Seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

type recordingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func TestDispatchContinuesAfterSinkFailure(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("down")}
	ok := &recordingSink{name: "ok"}
	logger := &recordingLogger{}

	r := New(failing, nil, ok)
	r.SetLogger(logger)
	r.Dispatch(context.Background(), service.DeviceAdded{Device: testDevice})
	r.Dispatch(context.Background(), service.DeviceDeleted{Device: testDevice})

	if got := ok.Seen(); len(got) != 2 {
		t.Errorf("second sink saw %v, want both events", got)
	}
	if st := r.Stats(); st.Events != 2 || st.Failures != 2 {
		t.Errorf("Stats() = %+v, want 2 events 2 failures", st)
	}
	if logger.warns != 2 {
		t.Errorf("warnings = %d, want 2", logger.warns)
	}
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	bus := eventbus.New[service.Event](16)
	stream, err := bus.Arm()
	if err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{name: "rec"}
	r := New(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, stream) }()

	bus.Emit(service.ServerRegistered{Server: testServer})
	bus.Emit(service.DeviceAdded{Device: testDevice})

	deadline := time.After(2 * time.Second)
	for len(sink.Seen()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("sink saw %v", sink.Seen())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if bus.Armed() {
		t.Error("bus still armed after Run returned")
	}
	want := []string{"ServerRegistered(bus1:4304)", "DeviceAdded(28.0000063B3E31)"}
	if got := sink.Seen(); got[0] != want[0] || got[1] != want[1] {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestMessageFor(t *testing.T) {
	msg := MessageFor(service.DeviceValue{Device: testDevice, Attribute: "temperature", Value: "19.25", At: testAt})
	want := Message{Kind: "device_value", Device: "28.0000063B3E31", Family: "28", Attribute: "temperature", Value: "19.25", Timestamp: testAt}
	if msg != want {
		t.Errorf("MessageFor() = %+v, want %+v", msg, want)
	}
	if msg.subject() != "28.0000063B3E31" {
		t.Errorf("subject() = %q", msg.subject())
	}

	srvMsg := MessageFor(service.ServerDeregistered{Server: testServer})
	if srvMsg.subject() != "bus1:4304" || srvMsg.Timestamp.IsZero() {
		t.Errorf("server message = %+v", srvMsg)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.encode(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["kind"] != "device_value" || decoded["value"] != "19.25" {
		t.Errorf("encoded = %v", decoded)
	}
	if _, ok := decoded["server"]; ok {
		t.Error("empty server field encoded")
	}
}

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakePublisher struct {
	err  error
	msgs []published
}

func (p *fakePublisher) PublishEvent(topic string, payload []byte) error {
	p.msgs = append(p.msgs, published{topic, string(payload), false})
	return p.err
}

func (p *fakePublisher) PublishRetained(topic string, payload []byte) error {
	p.msgs = append(p.msgs, published{topic, string(payload), true})
	return p.err
}

func TestMQTTSink(t *testing.T) {
	topics := mqtt.Topics{Prefix: "owfs"}
	tests := []struct {
		name     string
		ev       service.Event
		topics   []string
		retained string
	}{
		{
			name:   "device added",
			ev:     service.DeviceAdded{Device: testDevice},
			topics: []string{"owfs/event/device_added/28.0000063B3E31"},
		},
		{
			name:     "device value",
			ev:       service.DeviceValue{Device: testDevice, Attribute: "temperature", Value: "19.25", At: testAt},
			topics:   []string{"owfs/event/device_value/28.0000063B3E31", "owfs/state/28.0000063B3E31/temperature"},
			retained: "19.25",
		},
		{
			name:     "server registered",
			ev:       service.ServerRegistered{Server: testServer},
			topics:   []string{"owfs/event/server_registered/bus1:4304", "owfs/server/bus1:4304"},
			retained: "online",
		},
		{
			name:     "server deregistered",
			ev:       service.ServerDeregistered{Server: testServer},
			topics:   []string{"owfs/event/server_deregistered/bus1:4304", "owfs/server/bus1:4304"},
			retained: "offline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			if err := NewMQTTSink(pub, topics).Handle(context.Background(), tt.ev); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if len(pub.msgs) != len(tt.topics) {
				t.Fatalf("published %+v", pub.msgs)
			}
			for i, topic := range tt.topics {
				if pub.msgs[i].topic != topic {
					t.Errorf("msgs[%d].topic = %q, want %q", i, pub.msgs[i].topic, topic)
				}
			}
			if pub.msgs[0].retained {
				t.Error("event published retained")
			}
			if tt.retained != "" {
				last := pub.msgs[len(pub.msgs)-1]
				if !last.retained || last.payload != tt.retained {
					t.Errorf("state message = %+v, want retained %q", last, tt.retained)
				}
			}
		})
	}
}

func TestMQTTSinkError(t *testing.T) {
	pub := &fakePublisher{err: mqtt.ErrNotConnected}
	err := NewMQTTSink(pub, mqtt.Topics{}).Handle(context.Background(), service.DeviceValue{Device: testDevice, Attribute: "t", Value: "1"})
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Handle() error = %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Errorf("state published after event failure: %+v", pub.msgs)
	}
}

type reading struct {
	device, family, attribute string
	value                     float64
	at                        time.Time
}

type fakeWriter struct{ readings []reading }

func (w *fakeWriter) WriteReading(deviceID, family, attribute string, value float64, at time.Time) {
	w.readings = append(w.readings, reading{deviceID, family, attribute, value, at})
}

func TestInfluxSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewInfluxSink(w)
	ctx := context.Background()

	events := []service.Event{
		service.DeviceValue{Device: testDevice, Attribute: "temperature", Value: "     19.25", At: testAt},
		service.DeviceValue{Device: testDevice, Attribute: "type", Value: "DS18B20", At: testAt},
		service.DeviceAdded{Device: testDevice},
	}
	for _, ev := range events {
		if err := sink.Handle(ctx, ev); err != nil {
			t.Fatalf("Handle(%s) error = %v", ev, err)
		}
	}

	want := reading{"28.0000063B3E31", "28", "temperature", 19.25, testAt}
	if len(w.readings) != 1 || w.readings[0] != want {
		t.Errorf("readings = %+v, want [%+v]", w.readings, want)
	}
}

type fakeBroadcaster struct {
	err      error
	payloads []string
}

func (b *fakeBroadcaster) Broadcast(payload []byte) error {
	b.payloads = append(b.payloads, string(payload))
	return b.err
}

func TestBroadcastSink(t *testing.T) {
	b := &fakeBroadcaster{}
	if err := NewBroadcastSink(b).Handle(context.Background(), service.DeviceNotFound{Device: testDevice}); err != nil {
		t.Fatal(err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(b.payloads[0]), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Kind != "device_not_found" || msg.Device != "28.0000063B3E31" {
		t.Errorf("broadcast = %+v", msg)
	}

	b.err = errors.New("hub closed")
	if err := NewBroadcastSink(b).Handle(context.Background(), service.DeviceNotFound{Device: testDevice}); err == nil {
		t.Error("Handle() swallowed broadcast error")
	}
}

type fakeRepo struct {
	entries []journal.Entry
}

func (r *fakeRepo) Record(_ context.Context, e *journal.Entry) error {
	r.entries = append(r.entries, *e)
	return nil
}

func (r *fakeRepo) List(context.Context, journal.Filter) (*journal.ListResult, error) {
	return &journal.ListResult{Entries: r.entries, Total: len(r.entries)}, nil
}

func (r *fakeRepo) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func TestJournalSink(t *testing.T) {
	repo := &fakeRepo{}
	sink := NewJournalSink(repo)
	if err := sink.Handle(context.Background(), service.DeviceLocated{Device: testDevice, Server: testServer}); err != nil {
		t.Fatal(err)
	}
	if len(repo.entries) != 1 || repo.entries[0].Server != "bus1:4304" || repo.entries[0].Kind != "device_located" {
		t.Errorf("entries = %+v", repo.entries)
	}
}
