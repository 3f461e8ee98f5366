package device

import (
	"maps"
	"regexp"
	"strings"
	"sync"
	"time"
)

// idPattern matches a normalised 1-Wire ID: two hex digits of family code,
// a dot, and the 48-bit serial number.
var idPattern = regexp.MustCompile(`^[0-9A-F]{2}\.[0-9A-F]{12}$`)

// NormalizeID converts the forms owserver may return ("/10.67c6697351ff/",
// "1067C6697351FF", "10.67C6697351FF.8D") to the canonical "10.67C6697351FF".
// Strings that do not look like a 1-Wire ID are returned trimmed but
// otherwise unchanged.
func NormalizeID(raw string) string {
	id := strings.ToUpper(strings.Trim(strings.TrimSpace(raw), "/"))

	switch {
	case len(id) == 14 && !strings.Contains(id, "."):
		id = id[:2] + "." + id[2:]
	case len(id) == 18 && id[2] == '.' && id[15] == '.':
		// Trailing CRC8 byte.
		id = id[:15]
	}

	if !idPattern.MatchString(id) {
		return strings.Trim(strings.TrimSpace(raw), "/")
	}
	return id
}

// IsDeviceID reports whether raw is (or normalises to) a 1-Wire ID.
func IsDeviceID(raw string) bool {
	return idPattern.MatchString(NormalizeID(raw))
}

// FamilyOf returns the family code of a 1-Wire ID, or "" if id is not one.
func FamilyOf(id string) string {
	id = NormalizeID(id)
	if !idPattern.MatchString(id) {
		return ""
	}
	return id[:2]
}

// Reading is the last value read for one attribute.
type Reading struct {
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

// Device is a single addressable sensor or actuator on the bus.
//
// The identity fields are fixed at construction. Location and readings are
// updated by bus servers and are safe for concurrent access.
type Device struct {
	id     string
	family string
	class  *Class

	mu       sync.RWMutex
	location string
	values   map[string]Reading
}

// New creates a device for id belonging to class.
// A nil class is replaced by a generic class for the device's family.
func New(id string, class *Class) *Device {
	id = NormalizeID(id)
	family := FamilyOf(id)
	if class == nil {
		class = newGenericClass(family)
	}
	return &Device{
		id:     id,
		family: family,
		class:  class,
		values: make(map[string]Reading),
	}
}

// ID returns the canonical 1-Wire ID.
func (d *Device) ID() string { return d.id }

// Family returns the two-digit family code ("" for non-standard IDs).
func (d *Device) Family() string { return d.family }

// Class returns the device class shared by every device of the family.
func (d *Device) Class() *Class { return d.class }

// Location returns the address of the server the device was last seen on,
// or "" if it is not currently located.
func (d *Device) Location() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.location
}

// SetLocation records where the device was seen. It returns true if the
// location changed.
func (d *Device) SetLocation(addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.location == addr {
		return false
	}
	d.location = addr
	return true
}

// SetValue stores the latest reading for attr.
func (d *Device) SetValue(attr, value string, at time.Time) {
	d.mu.Lock()
	d.values[attr] = Reading{Value: value, At: at}
	d.mu.Unlock()
}

// Value returns the latest reading for attr.
func (d *Device) Value(attr string) (Reading, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.values[attr]
	return r, ok
}

// Snapshot is a point-in-time copy of a device, suitable for JSON.
type Snapshot struct {
	ID       string             `json:"id"`
	Family   string             `json:"family"`
	Class    string             `json:"class"`
	Location string             `json:"location,omitempty"`
	Values   map[string]Reading `json:"values,omitempty"`
}

// Snapshot returns an independent copy of the device state.
func (d *Device) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{
		ID:       d.id,
		Family:   d.family,
		Class:    d.class.Name,
		Location: d.location,
		Values:   maps.Clone(d.values),
	}
}

func (d *Device) String() string {
	return d.class.Name + "(" + d.id + ")"
}
