// Package mqtt provides MQTT client connectivity for Pulse Core.
//
// MQTT is the link between Core and the device bridge process that owns
// the physical device transport:
//
//	Pulse Core ↔ MQTT Broker ↔ Device Bridge ↔ Devices
//
// This package manages:
//   - Connection with auto-reconnect and subscription restoration
//   - Publishing with QoS acknowledgement and payload limits
//   - Presence on pulsecore/system/status, with a Last Will for crashes
//   - Topic builders (see Topics)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceAnnouncements(), 1,
//	    func(topic string, payload []byte) error {
//	        return registry.Apply(topic, payload)
//	    })
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) whenever the broker is not on localhost
//   - Credentials should come from PULSECORE_MQTT_USERNAME/PASSWORD
package mqtt
