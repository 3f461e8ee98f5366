package device

import (
	"slices"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// Class groups every device of one family code. Structure metadata is
// loaded once per class and shared by all its devices.
type Class struct {
	Family      string
	Name        string
	Description string

	// PollAttribute is read on every poll cycle; empty means the class is
	// not polled.
	PollAttribute string

	mu    sync.RWMutex
	attrs map[string]Attribute
}

// familyInfo describes the families this package knows by name.
type familyInfo struct {
	name        string
	description string
	poll        string
}

var knownFamilies = map[string]familyInfo{
	"01": {name: "DS2401", description: "Silicon serial number"},
	"05": {name: "DS2405", description: "Addressable switch", poll: "PIO"},
	"10": {name: "DS18S20", description: "High-precision digital thermometer", poll: "temperature"},
	"12": {name: "DS2406", description: "Dual addressable switch", poll: "sensed.ALL"},
	"1D": {name: "DS2423", description: "4kb RAM with counter", poll: "counter.ALL"},
	"20": {name: "DS2450", description: "Quad A/D converter", poll: "volt.ALL"},
	"22": {name: "DS1822", description: "Econo digital thermometer", poll: "temperature"},
	"26": {name: "DS2438", description: "Smart battery monitor", poll: "temperature"},
	"28": {name: "DS18B20", description: "Programmable resolution digital thermometer", poll: "temperature"},
	"29": {name: "DS2408", description: "8-channel addressable switch", poll: "sensed.BYTE"},
	"3A": {name: "DS2413", description: "Dual channel addressable switch", poll: "sensed.ALL"},
	"3B": {name: "DS1825", description: "Programmable resolution digital thermometer", poll: "temperature"},
	"81": {name: "DS1420", description: "Serial ID button"},
	"FF": {name: "BAE", description: "Bus master or adapter"},
}

func newClass(family string) *Class {
	family = strings.ToUpper(family)
	info, ok := knownFamilies[family]
	if !ok {
		return newGenericClass(family)
	}
	return &Class{
		Family:        family,
		Name:          info.name,
		Description:   info.description,
		PollAttribute: info.poll,
	}
}

func newGenericClass(family string) *Class {
	name := "generic"
	if family != "" {
		name = "family_" + family
	}
	return &Class{
		Family:      family,
		Name:        name,
		Description: "Unknown device family",
	}
}

// Known reports whether the family has a named class.
func (c *Class) Known() bool {
	_, ok := knownFamilies[c.Family]
	return ok
}

// Attribute returns the structure entry for name, if loaded.
func (c *Class) Attribute(name string) (Attribute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.attrs[name]
	return a, ok
}

// Attributes returns the loaded structure sorted by name.
func (c *Class) Attributes() []Attribute {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Attribute, 0, len(c.attrs))
	for _, a := range c.attrs {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Attribute) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Suggest returns the loaded attribute name closest to name, for hints on
// mistyped paths. It returns false when name is itself an attribute or
// nothing is within a third of its length (at least two edits).
func (c *Class) Suggest(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.attrs[name]; ok || name == "" {
		return "", false
	}
	limit := max(2, len(name)/3)
	best, bestDist := "", limit+1
	for candidate := range c.attrs {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(candidate))
		if d < bestDist || (d == bestDist && candidate < best) {
			best, bestDist = candidate, d
		}
	}
	return best, best != ""
}

func (c *Class) setAttributes(attrs []Attribute) {
	m := make(map[string]Attribute, len(attrs))
	for _, a := range attrs {
		m[a.Name] = a
	}
	c.mu.Lock()
	c.attrs = m
	c.mu.Unlock()
}
