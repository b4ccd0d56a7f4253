package servers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-gateway/internal/binding"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
)

const defaultMQTTPort = 1883

// mqttBridge publishes bound events to an MQTT broker.
type mqttBridge struct {
	bridgeBase

	cmu     sync.Mutex
	client  *mqtt.Client
	current config.MQTTConfig
}

func newMQTTBridge(deps Deps) *mqttBridge {
	b := &mqttBridge{}
	b.setupBridge(TypeMQTT, deps, b)
	return b
}

// mqttConfig reads broker settings from the binding options. A discovered
// host/port fills in a missing broker address.
func (b *mqttBridge) mqttConfig(opts binding.Context) (config.MQTTConfig, error) {
	var cfg config.MQTTConfig
	if err := opts.Decode(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Broker.Host == "" {
		cfg.Broker.Host = opts.String("host")
	}
	if cfg.Broker.Port == 0 {
		cfg.Broker.Port = opts.Int("port", defaultMQTTPort)
	}
	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = "gateway-" + b.Name()
	}
	if cfg.RootTopic == "" {
		cfg.RootTopic = mqtt.DefaultRootTopic
	}
	return cfg, nil
}

func (b *mqttBridge) connect(_ context.Context, bnd *binding.Binding) error {
	cfg, err := b.mqttConfig(bnd.Context)
	if err != nil {
		return err
	}
	if cfg.Broker.Host == "" {
		b.logger().Info("mqtt broker not set, waiting for discovery")
		return nil
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return err
	}
	client.SetOnDisconnect(func(err error) {
		b.logger().Warn("mqtt connection lost", "error", err)
	})

	b.cmu.Lock()
	b.client = client
	b.current = cfg
	b.cmu.Unlock()
	return nil
}

func (b *mqttBridge) retarget(ctx context.Context, bnd *binding.Binding) {
	cfg, err := b.mqttConfig(bnd.Context)
	if err != nil {
		b.logger().Warn("mqtt options invalid", "error", err)
		return
	}
	b.cmu.Lock()
	same := b.client != nil && cfg == b.current
	b.cmu.Unlock()
	if same {
		return
	}

	if err := b.disconnect(); err != nil {
		b.logger().Warn("closing previous mqtt client", "error", err)
	}
	if err := b.connect(ctx, bnd); err != nil {
		b.logger().Error("mqtt reconnect failed", "broker", cfg.Broker.Host, "error", err)
	}
}

func (b *mqttBridge) disconnect() error {
	b.cmu.Lock()
	client := b.client
	b.client = nil
	b.current = config.MQTTConfig{}
	b.cmu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

func (b *mqttBridge) linked() bool {
	b.cmu.Lock()
	defer b.cmu.Unlock()
	return b.client.IsConnected()
}

// perform publishes a {topic, message, qos, retain} action.
func (b *mqttBridge) perform(_ context.Context, _ binding.Context, action map[string]any) error {
	topic := actionString(action, "topic")
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidAction)
	}

	var payload []byte
	switch v := action["message"].(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: encoding message: %w", ErrInvalidAction, err)
		}
		payload = raw
	}

	b.cmu.Lock()
	client, qos := b.client, b.current.QoS
	b.cmu.Unlock()
	if client == nil {
		return ErrNoTarget
	}
	qos = actionInt(action, "qos", qos)
	if qos < 0 || qos > 2 {
		return fmt.Errorf("%w: qos %d", ErrInvalidAction, qos)
	}
	return client.Publish(topic, payload, byte(qos), actionBool(action, "retain"))
}
