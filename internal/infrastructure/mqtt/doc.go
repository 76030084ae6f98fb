// Package mqtt provides MQTT client connectivity for tuyalink.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is tuyalink's optional integration surface. Home-automation
// frontends publish commands to tuyalink/command/{device_id}; the engine
// publishes dispatch outcomes to tuyalink/event/dispatch and retained
// device state to tuyalink/state/{device_id}. The engine itself announces
// on tuyalink/system/status, retained, with a Last Will covering crashes.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        // dispatch the command
//	        return nil
//	    })
//
// # Security Considerations
//
//   - TLS for anything beyond a local broker (cfg.Broker.TLS=true)
//   - Broker ACLs should restrict who may publish command topics
//   - Payloads are not encrypted beyond TLS transport
package mqtt
