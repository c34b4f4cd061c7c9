// Package process supervises the device bridge daemon when it runs on the
// same host as pulse-core.
//
// The bridge is normally an external service reached over MQTT. Small
// installations can instead let pulse-core start it, restart it with
// exponential backoff when it exits, and kill it when its announcements stop
// arriving.
//
// Example usage:
//
//	sup := process.NewSupervisor(process.ConfigFromBridge(cfg.Bridge.Process))
//	sup.SetLogger(logger)
//	sup.SetHealthCheck(func(ctx context.Context) error {
//	    if !br.Stats().BridgeOnline {
//	        return bridge.ErrBridgeOffline
//	    }
//	    return nil
//	})
//
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
