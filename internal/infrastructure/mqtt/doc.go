// Package mqtt wraps eclipse/paho.mqtt.golang for the serialgate MQTT
// bridge.
//
// The client handles connection management (auto-reconnect with exponential
// backoff, subscription restoration), a retained status topic with a Last
// Will for crash detection, and validated publish/subscribe operations.
//
// Topic scheme (prefix from config, default "serialgate"):
//
//	serialgate/status    retained online/offline status
//	serialgate/rx        records received from the serial port
//	serialgate/tx/send   send requests forwarded to the serial port
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil { ... }
//	defer client.Close()
//
//	err = client.Publish(client.Topics().Receive(), payload, 1, false)
package mqtt
