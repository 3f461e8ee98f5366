package service

import (
	"fmt"
	"time"

	"github.com/nerrad567/owfs-core/internal/device"
)

// Kind names an event type. Kinds are stable strings used in MQTT topics,
// the journal and the API.
type Kind string

// Event kinds.
const (
	KindServerRegistered   Kind = "server_registered"
	KindServerDeregistered Kind = "server_deregistered"
	KindDeviceAdded        Kind = "device_added"
	KindDeviceDeleted      Kind = "device_deleted"
	KindDeviceLocated      Kind = "device_located"
	KindDeviceNotFound     Kind = "device_not_found"
	KindDeviceValue        Kind = "device_value"
)

// Event is an immutable fact about a registry transition or a reading.
type Event interface {
	Kind() Kind
	String() string
}

// ServerRegistered is emitted when registration of a server begins.
type ServerRegistered struct {
	Server Server
}

func (ServerRegistered) Kind() Kind { return KindServerRegistered }

func (e ServerRegistered) String() string {
	return fmt.Sprintf("ServerRegistered(%s)", e.Server.Addr())
}

// ServerDeregistered is emitted when a server fails to start or is dropped.
type ServerDeregistered struct {
	Server Server
}

func (ServerDeregistered) Kind() Kind { return KindServerDeregistered }

func (e ServerDeregistered) String() string {
	return fmt.Sprintf("ServerDeregistered(%s)", e.Server.Addr())
}

// DeviceAdded is emitted the first time a device ID is seen.
type DeviceAdded struct {
	Device *device.Device
}

func (DeviceAdded) Kind() Kind { return KindDeviceAdded }

func (e DeviceAdded) String() string {
	return fmt.Sprintf("DeviceAdded(%s)", e.Device.ID())
}

// DeviceDeleted is emitted when a device leaves the registry.
type DeviceDeleted struct {
	Device *device.Device
}

func (DeviceDeleted) Kind() Kind { return KindDeviceDeleted }

func (e DeviceDeleted) String() string {
	return fmt.Sprintf("DeviceDeleted(%s)", e.Device.ID())
}

// DeviceLocated is emitted when a scan finds a device on a server it was not
// previously located on.
type DeviceLocated struct {
	Device *device.Device
	Server Server
}

func (DeviceLocated) Kind() Kind { return KindDeviceLocated }

func (e DeviceLocated) String() string {
	return fmt.Sprintf("DeviceLocated(%s@%s)", e.Device.ID(), e.Server.Addr())
}

// DeviceNotFound is emitted when a previously located device is missing
// from a scan.
type DeviceNotFound struct {
	Device *device.Device
}

func (DeviceNotFound) Kind() Kind { return KindDeviceNotFound }

func (e DeviceNotFound) String() string {
	return fmt.Sprintf("DeviceNotFound(%s)", e.Device.ID())
}

// DeviceValue carries one polled reading.
type DeviceValue struct {
	Device    *device.Device
	Attribute string
	Value     string
	At        time.Time
}

func (DeviceValue) Kind() Kind { return KindDeviceValue }

func (e DeviceValue) String() string {
	return fmt.Sprintf("DeviceValue(%s/%s=%s)", e.Device.ID(), e.Attribute, e.Value)
}
