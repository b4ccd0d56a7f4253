// Package mqtt provides the broker connection used by mqtt interface bridges.
//
// A bridge builds a config.MQTTConfig from its merged binding options and
// calls Connect. The client publishes a retained online status under
// <root_topic>/status on every (re)connect, registers a Last Will so the
// broker marks the bridge offline on a crash, and publishes a graceful
// offline status on Close.
//
//	client, err := mqtt.Connect(cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish("pool/state/temps", []byte(`{"air":21}`), 1, false)
package mqtt
