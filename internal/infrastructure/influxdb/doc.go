// Package influxdb stores numeric 1-Wire readings in InfluxDB v2.
//
// The relay calls WriteReading for every DeviceValue event whose value
// parses as a number. Points land in the onewire_readings measurement,
// tagged by device_id, family and attribute:
//
//	onewire_readings,attribute=temperature,device_id=28.0000063B3E31,family=28 value=19.25
//
// Writes are batched (batch_size points or flush_interval, whichever comes
// first). Errors are reported asynchronously through SetOnError.
//
// QueryReadings reads a device's history back with Flux, optionally
// averaged into fixed windows. The API serves it at
// /api/v1/devices/{id}/history.
package influxdb
