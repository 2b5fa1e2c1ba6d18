// Package mqtt wraps the Eclipse Paho client with hub-specific behaviour.
//
// The hub keeps a single broker connection for its whole lifetime. This
// package owns that connection: it builds the paho options from config,
// tracks connection state, restores subscriptions after a reconnect, and
// publishes online/offline status with a Last Will for crash detection.
//
// Message handlers registered through Subscribe are wrapped with panic
// recovery so a malformed payload from one device cannot take down the
// process.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("sensors/data", 1, func(topic string, payload []byte) error {
//	    return core.Ingest(ctx, payload)
//	})
package mqtt
