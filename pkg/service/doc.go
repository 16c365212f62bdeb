// Package service ties the relay's components into one runnable unit.
//
// # RelayService
//
// RelayService owns:
//   - the health state machine and its alert gate
//   - the liveness record
//   - the broker connection, its reconnect strategy and subscription registry
//   - the pairing manager
//   - the watchdog
//
// The "listening component" the watchdog repairs is the relay's broker
// listener: disabling it disconnects, starting it connects and replays
// subscriptions.
//
// Example usage:
//
//	cfg := service.DefaultConfig()
//	cfg.Store = store
//	cfg.Factory = mqttclient.NewFactory(logger)
//	cfg.BrokerOptions = broker.Options{URL: "tcp://broker:1883"}
//
//	svc, err := service.New(cfg)
//	svc.Start(ctx)
//	defer svc.Shutdown(ctx)
//
// # User actions
//
// Stop persists Stopped synchronously before tearing down so a watchdog
// tick racing the stop cannot restart the listener. Restart returns to
// Running and re-arms the stopped alert. Acknowledge dismisses the stopped
// alert and disables the relay until the next AppOpen.
package service
