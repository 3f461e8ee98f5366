// Package mqtt connects owfs-core to an MQTT broker.
//
// The relay publishes every bus event non-retained under
// <prefix>/event/<kind>/<subject> and the latest value of each device
// attribute retained under <prefix>/state/<device>/<attribute>. Server
// membership is retained under <prefix>/server/<host:port>. The daemon's
// own liveness is a retained JSON status on <prefix>/system/status, with
// an LWT that reports "offline" if the process dies.
//
// Commands arrive on <prefix>/command/<name>; owfsd subscribes to "scan"
// to trigger a rescan of every server.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	t := client.Topics()
//	client.PublishRetained(t.DeviceState(id, "temperature"), []byte("21.5"))
package mqtt
