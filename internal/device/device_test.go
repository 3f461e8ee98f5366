package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "canonical", raw: "10.67C6697351FF", want: "10.67C6697351FF"},
		{name: "lower case with slashes", raw: "/10.67c6697351ff/", want: "10.67C6697351FF"},
		{name: "no dot", raw: "1067C6697351FF", want: "10.67C6697351FF"},
		{name: "with crc", raw: "28.0000063B3E31.A2", want: "28.0000063B3E31"},
		{name: "not an id", raw: "/bus.0/", want: "bus.0"},
		{name: "empty", raw: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeID(tt.raw); got != tt.want {
				t.Errorf("NormalizeID(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFamilyOf(t *testing.T) {
	tests := []struct {
		id   string
		want string
		isID bool
	}{
		{id: "10.67C6697351FF", want: "10", isID: true},
		{id: "1d.0000000e2f01", want: "1D", isID: true},
		{id: "settings", want: "", isID: false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := FamilyOf(tt.id); got != tt.want {
				t.Errorf("FamilyOf(%q) = %q, want %q", tt.id, got, tt.want)
			}
			if got := IsDeviceID(tt.id); got != tt.isID {
				t.Errorf("IsDeviceID(%q) = %v, want %v", tt.id, got, tt.isID)
			}
		})
	}
}

func TestParseAttribute(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Attribute
		wantErr bool
	}{
		{
			name: "temperature",
			raw:  "t,000000,000001,ro,000012,v,",
			want: Attribute{Name: "temperature", Type: "t", Index: 0, Elements: 1, Access: AccessReadOnly, Size: 12, Periodic: true},
		},
		{
			name: "alias",
			raw:  "a,000000,000001,rw,000256,s,",
			want: Attribute{Name: "alias", Type: "a", Index: 0, Elements: 1, Access: AccessReadWrite, Size: 256},
		},
		{name: "short", raw: "t,0,1,ro", wantErr: true},
		{name: "bad index", raw: "t,x,000001,ro,000012,v,", wantErr: true},
		{name: "bad access", raw: "t,000000,000001,zz,000012,v,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAttribute(tt.name, tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidStructure) {
					t.Errorf("ParseAttribute() error = %v, want ErrInvalidStructure", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAttribute() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseAttribute() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAccess(t *testing.T) {
	if !AccessReadWrite.Readable() || !AccessReadWrite.Writable() {
		t.Error("rw should be readable and writable")
	}
	if AccessWriteOnly.Readable() {
		t.Error("wo should not be readable")
	}
	if AccessNone.Readable() || AccessNone.Writable() {
		t.Error("oo should be neither readable nor writable")
	}
}

func TestCatalogSharesClass(t *testing.T) {
	cat := NewCatalog()

	a := cat.NewDevice("28.0000063B3E31")
	b := cat.NewDevice("28.0000063B3E32")
	if a.Class() != b.Class() {
		t.Error("devices of the same family have different classes")
	}
	if a.Class().Name != "DS18B20" {
		t.Errorf("Class().Name = %q, want DS18B20", a.Class().Name)
	}
	if a.Class().PollAttribute != "temperature" {
		t.Errorf("PollAttribute = %q, want temperature", a.Class().PollAttribute)
	}

	unknown := cat.NewDevice("EE.000000000001")
	if unknown.Class().Known() {
		t.Error("unknown family reported as known")
	}
	if unknown.Class().Name != "family_EE" {
		t.Errorf("unknown Class().Name = %q, want family_EE", unknown.Class().Name)
	}
}

// fakeSource counts structure reads and can be made to fail or block.
type fakeSource struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (f *fakeSource) ReadStructure(ctx context.Context, family string) ([]Attribute, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return []Attribute{
		{Name: "temperature", Type: "t", Elements: 1, Access: AccessReadOnly, Size: 12, Periodic: true},
		{Name: "address", Type: "a", Elements: 1, Access: AccessReadOnly, Size: 16},
	}, nil
}

func TestEnsureStructureOncePerClass(t *testing.T) {
	cat := NewCatalog()
	src := &fakeSource{release: make(chan struct{})}
	cls := cat.ClassFor("28")

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- cat.EnsureStructure(context.Background(), cls, src)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("EnsureStructure() error = %v", err)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("ReadStructure called %d times, want 1", n)
	}
	if !cat.Loaded("28") {
		t.Error("Loaded() = false after successful load")
	}
	if attrs := cls.Attributes(); len(attrs) != 2 || attrs[0].Name != "address" {
		t.Errorf("Attributes() = %+v", attrs)
	}

	// A later device of the same class needs no further reads.
	if err := cat.EnsureStructure(context.Background(), cls, src); err != nil {
		t.Errorf("second EnsureStructure() error = %v", err)
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("ReadStructure called %d times after reuse, want 1", n)
	}
}

func TestEnsureStructureFailureRetries(t *testing.T) {
	cat := NewCatalog()
	cls := cat.ClassFor("10")

	boom := errors.New("owserver unreachable")
	failing := &fakeSource{err: boom}
	if err := cat.EnsureStructure(context.Background(), cls, failing); err != boom { //nolint:errorlint // must be unchanged
		t.Fatalf("EnsureStructure() error = %v, want %v unchanged", err, boom)
	}
	if cat.Loaded("10") {
		t.Error("Loaded() = true after failed load")
	}

	ok := &fakeSource{}
	if err := cat.EnsureStructure(context.Background(), cls, ok); err != nil {
		t.Fatalf("retry EnsureStructure() error = %v", err)
	}
	if !cat.Loaded("10") {
		t.Error("Loaded() = false after retry")
	}
}

func TestEnsureStructureNilSource(t *testing.T) {
	cat := NewCatalog()
	err := cat.EnsureStructure(context.Background(), cat.ClassFor("10"), nil)
	if !errors.Is(err, ErrNoStructureSource) {
		t.Errorf("EnsureStructure(nil) error = %v, want ErrNoStructureSource", err)
	}
}

func TestDeviceState(t *testing.T) {
	d := NewCatalog().NewDevice("10.67c6697351ff")

	if d.ID() != "10.67C6697351FF" || d.Family() != "10" {
		t.Errorf("identity = %s/%s", d.ID(), d.Family())
	}
	if !d.SetLocation("owserver:4304") {
		t.Error("first SetLocation() = false")
	}
	if d.SetLocation("owserver:4304") {
		t.Error("repeated SetLocation() = true")
	}

	now := time.Now()
	d.SetValue("temperature", "21.5", now)
	r, ok := d.Value("temperature")
	if !ok || r.Value != "21.5" {
		t.Errorf("Value() = %+v, %v", r, ok)
	}

	snap := d.Snapshot()
	d.SetValue("temperature", "22.0", now)
	if snap.Values["temperature"].Value != "21.5" {
		t.Error("Snapshot shares state with device")
	}
	if snap.Class != "DS18S20" || snap.Location != "owserver:4304" {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestClassSuggest(t *testing.T) {
	cls := newClass("26")
	cls.setAttributes([]Attribute{
		{Name: "temperature"}, {Name: "humidity"}, {Name: "VAD"}, {Name: "VDD"},
	})

	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"temprature", "temperature", true},
		{"humidty", "humidity", true},
		{"vdd", "VDD", true},
		{"VAD", "", false},
		{"counter.A", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cls.Suggest(tt.name)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Suggest(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.ok)
			}
		})
	}
}
