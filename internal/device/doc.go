// Package device models 1-Wire devices and their family classes.
//
// Every device has a canonical ID of the form "FF.SSSSSSSSSSSS": a two-digit
// family code and a 48-bit serial number in upper-case hex. The family code
// selects a Class (DS18B20, DS2438, ...). A Class carries the attribute
// structure that owserver reports under /structure/<family>, and that
// structure is loaded once per class, not once per device.
//
// # Key Types
//
//   - Device: One sensor or actuator. Holds its location and last readings.
//   - Class: Shared per-family metadata, including the poll attribute.
//   - Attribute: One parsed structure entry.
//   - Catalog: Owns the classes and serialises structure loading per class.
//
// # Structure loading
//
// Catalog.EnsureStructure uses a one-shot latch per family. The first caller
// reads from its StructureSource; concurrent callers wait on the latch. A
// failed load clears the latch so a later call can retry with another server.
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
package device
