// Package mqtt provides the broker connection used by the Web-IO bridge.
//
// This package manages:
//   - Connection to the broker with paho's auto-reconnect
//   - Publishing with QoS and retained flags
//   - Subscriptions, restored after each reconnect
//   - Online/offline status with Last Will and Testament
//   - Topic builders for the webio/ hierarchy
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on localhost
//   - Credentials should come from MQTT_USERNAME / MQTT_PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handler)
//	err = client.PublishJSON(mqtt.Topics{}.OutputState("garage", 3), msg, true)
package mqtt
