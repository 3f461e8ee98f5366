// Package relay is the single consumer of the service event stream in
// owfsd. It hands every event to a list of sinks (event journal, MQTT,
// InfluxDB, websocket clients) in order.
//
// A sink failure is logged and counted; it never stops the relay or the
// delivery of the same event to the remaining sinks.
//
//	r := relay.New(relay.NewJournalSink(repo), relay.NewMQTTSink(client, client.Topics()))
//	svc.SpawnTask("relay", func(ctx context.Context) error { return r.Run(ctx, events) })
package relay
