// Package mqtt is the broker connection for the RENKEI service.
//
// It wraps paho.mqtt.golang with the pieces the MQTT bridge needs:
// auto-reconnect with tracked subscriptions restored afterwards, a
// last-will for offline detection, handler panic recovery, and the
// topic scheme builders used across the service.
//
// # Topic scheme
//
//	renkei/motor/{id}/state         retained, position and flags
//	renkei/motor/{id}/command       commands in, not retained
//	renkei/motor/{id}/ack           command results, not retained
//	renkei/motor/{id}/availability  retained, "online"/"offline"
//	renkei/motor/{id}/health        retained, link diagnostics
//	renkei/system/status            retained, service announcement
//
// # Offline detection
//
// Two layers. The broker publishes the registered last-will when the
// TCP session dies without a DISCONNECT; Connect with
// WithAvailabilityWill points that at the motor availability topic so
// subscribers see "offline" after a crash. A clean Close instead
// publishes a graceful shutdown announcement first, letting subscribers
// distinguish restart from failure.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithAvailabilityWill("blind-office"))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.MotorCommand("blind-office"), 1,
//	    func(topic string, payload []byte) error {
//	        return dispatch(payload)
//	    })
//
// TLS and broker credentials come from config; anonymous plaintext is
// for local development only.
package mqtt
