// Package mqtt provides MQTT client connectivity for the doggy door service.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The service publishes retained proximity and lock state so a
// home-automation hub can mirror the door, and subscribes to a command
// topic so the hub can force a lock or unlock remotely.
//
//	doggydoor ↔ MQTT Broker ↔ home-automation hub
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Accept remote lock commands
//	err = client.Subscribe(mqtt.Topics{}.LockCommand(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish lock state
//	client.PublishRetained(mqtt.Topics{}.LockState(), []byte(`{"state":"locked"}`))
package mqtt
