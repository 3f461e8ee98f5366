// Package service is the 1-Wire orchestrator.
//
// A Service manages zero or more bus servers, discovers the devices they
// expose, and publishes one stream of lifecycle events. It composes three
// pieces:
//
//   - an event bus (internal/eventbus) with a single armed consumer
//   - a task supervisor (internal/task) tracking every background task
//   - registries for live servers (ServerSet) and known devices (DeviceMap)
//
// # Lifecycle
//
// A Service only exists inside Run, which owns every goroutine the service
// starts:
//
//	err := service.Run(ctx, service.Options{Factory: onewire.NewFactory(cfg, log)},
//	    func(ctx context.Context, svc *service.Service) error {
//	        events, err := svc.Events()
//	        if err != nil {
//	            return err
//	        }
//	        svc.SpawnTask("consumer", func(ctx context.Context) error {
//	            for ev := range events.All(ctx) {
//	                fmt.Println(ev)
//	            }
//	            return events.Close(ctx.Err())
//	        })
//	        if _, err := svc.RegisterServer(ctx, service.ServerSpec{Host: "localhost"}); err != nil {
//	            return err
//	        }
//	        <-ctx.Done()
//	        return nil
//	    })
//
// When body returns, Run drops every server, drains pending events (clean
// exit only, bounded by Options.DrainTimeout), cancels every task still
// supervised, and waits for all of them.
//
// # Events
//
//	ServerRegistered    registration started (emitted before connecting)
//	ServerDeregistered  start failed, or the server was dropped
//	DeviceAdded         first lookup of a device ID
//	DeviceDeleted       device removed by its server
//	DeviceLocated       scan found a device on a server
//	DeviceNotFound      a located device vanished from a scan
//	DeviceValue         a polled reading
//
// Events emitted while no stream is armed are dropped.
//
// # Failures
//
// RegisterServer returns start errors unchanged. A supervised task that
// fails cancels the whole service and its error is returned from Run.
package service
