package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Access describes whether an attribute can be read, written, or both.
type Access string

// Access modes as reported by owserver structure entries.
const (
	AccessReadOnly  Access = "ro"
	AccessWriteOnly Access = "wo"
	AccessReadWrite Access = "rw"
	AccessNone      Access = "oo"
)

// Readable reports whether the attribute can be read.
func (a Access) Readable() bool {
	return a == AccessReadOnly || a == AccessReadWrite
}

// Writable reports whether the attribute can be written.
func (a Access) Writable() bool {
	return a == AccessWriteOnly || a == AccessReadWrite
}

// Attribute is one entry of a family's structure, read from
// /structure/<family>/<name> on owserver.
//
// A raw entry looks like "t,000000,000001,ro,000012,v,":
// type, index, element count, access, size, changeability.
type Attribute struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Index    int    `json:"index"`
	Elements int    `json:"elements"`
	Access   Access `json:"access"`
	Size     int    `json:"size"`

	// Periodic is true for volatile attributes whose value changes over
	// time and is therefore worth polling.
	Periodic bool `json:"periodic"`
}

// ParseAttribute parses a raw structure entry for the attribute name.
func ParseAttribute(name, raw string) (Attribute, error) {
	fields := strings.Split(strings.TrimSpace(raw), ",")
	if len(fields) < 6 {
		return Attribute{}, fmt.Errorf("%w: %s: %q", ErrInvalidStructure, name, raw)
	}

	index, err := strconv.Atoi(fields[1])
	if err != nil {
		return Attribute{}, fmt.Errorf("%w: %s index: %v", ErrInvalidStructure, name, err)
	}
	elements, err := strconv.Atoi(fields[2])
	if err != nil {
		return Attribute{}, fmt.Errorf("%w: %s elements: %v", ErrInvalidStructure, name, err)
	}
	size, err := strconv.Atoi(fields[4])
	if err != nil {
		return Attribute{}, fmt.Errorf("%w: %s size: %v", ErrInvalidStructure, name, err)
	}

	access := Access(fields[3])
	switch access {
	case AccessReadOnly, AccessWriteOnly, AccessReadWrite, AccessNone:
	default:
		return Attribute{}, fmt.Errorf("%w: %s access %q", ErrInvalidStructure, name, fields[3])
	}

	return Attribute{
		Name:     name,
		Type:     fields[0],
		Index:    index,
		Elements: elements,
		Access:   access,
		Size:     size,
		Periodic: fields[5] == "v",
	}, nil
}

// StructureSource is anything that can describe the attributes of a family,
// typically a connected bus server.
type StructureSource interface {
	ReadStructure(ctx context.Context, family string) ([]Attribute, error)
}
