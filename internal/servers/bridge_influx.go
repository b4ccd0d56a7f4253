package servers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/nerrad567/gray-logic-gateway/internal/binding"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/influxdb"
)

const defaultInfluxPort = 8086

// influxBridge writes bound events as points to InfluxDB.
type influxBridge struct {
	bridgeBase

	cmu     sync.Mutex
	client  *influxdb.Client
	current config.InfluxDBConfig
}

func newInfluxBridge(deps Deps) *influxBridge {
	b := &influxBridge{}
	b.setupBridge(TypeInflux, deps, b)
	return b
}

// influxConfig reads the client settings from the binding options. A
// discovered host/port fills in a missing url.
func influxConfig(opts binding.Context) (config.InfluxDBConfig, error) {
	var cfg config.InfluxDBConfig
	if err := opts.Decode(&cfg); err != nil {
		return cfg, err
	}
	if cfg.URL == "" && opts.String("host") != "" {
		scheme := "http"
		if opts.String("protocol") == "https" {
			scheme = "https"
		}
		port := opts.Int("port", defaultInfluxPort)
		cfg.URL = scheme + "://" + net.JoinHostPort(opts.String("host"), strconv.Itoa(port))
	}
	return cfg, nil
}

func (b *influxBridge) connect(ctx context.Context, bnd *binding.Binding) error {
	cfg, err := influxConfig(bnd.Context)
	if err != nil {
		return err
	}
	if cfg.URL == "" {
		b.logger().Info("influx target not set, waiting for discovery")
		return nil
	}

	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	client.SetOnError(func(err error) {
		b.logger().Warn("influx write failed", "error", err)
	})

	b.cmu.Lock()
	b.client = client
	b.current = cfg
	b.cmu.Unlock()
	return nil
}

func (b *influxBridge) retarget(ctx context.Context, bnd *binding.Binding) {
	cfg, err := influxConfig(bnd.Context)
	if err != nil {
		b.logger().Warn("influx options invalid", "error", err)
		return
	}
	b.cmu.Lock()
	same := b.client != nil && cfg == b.current
	b.cmu.Unlock()
	if same {
		return
	}

	if err := b.disconnect(); err != nil {
		b.logger().Warn("closing previous influx client", "error", err)
	}
	if err := b.connect(ctx, bnd); err != nil {
		b.logger().Error("influx reconnect failed", "url", cfg.URL, "error", err)
	}
}

func (b *influxBridge) disconnect() error {
	b.cmu.Lock()
	client := b.client
	b.client = nil
	b.current = config.InfluxDBConfig{}
	b.cmu.Unlock()
	return client.Close()
}

func (b *influxBridge) linked() bool {
	b.cmu.Lock()
	defer b.cmu.Unlock()
	return b.client.IsConnected()
}

// perform writes a {measurement, tags, fields} action.
func (b *influxBridge) perform(_ context.Context, _ binding.Context, action map[string]any) error {
	measurement := actionString(action, "measurement")
	if measurement == "" {
		return fmt.Errorf("%w: measurement is required", ErrInvalidAction)
	}
	fields, _ := action["fields"].(map[string]any) //nolint:errcheck // checked below
	if len(fields) == 0 {
		return fmt.Errorf("%w: fields are required", ErrInvalidAction)
	}
	var tags map[string]string
	if raw, ok := action["tags"].(map[string]any); ok {
		tags = make(map[string]string, len(raw))
		for k, v := range raw {
			tags[k] = fmt.Sprint(v)
		}
	}

	b.cmu.Lock()
	client := b.client
	b.cmu.Unlock()
	if client == nil {
		return ErrNoTarget
	}
	return client.WritePoint(measurement, tags, fields)
}
