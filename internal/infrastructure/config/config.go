package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Server section keys. The servers map is keyed by transport type.
const (
	ServerHTTP  = "http"
	ServerHTTPS = "https"
	ServerHTTP2 = "http2"
	ServerMDNS  = "mdns"
	ServerSSDP  = "ssdp"
)

// Interface types accepted in the interfaces section.
const (
	InterfaceHTTP   = "http"
	InterfaceInflux = "influx"
	InterfaceMQTT   = "mqtt"
	InterfaceREM    = "rem"
)

// Config section names used when persisting generated ids.
const (
	SectionServers    = "servers"
	SectionInterfaces = "interfaces"
)

// ServerOrder is the fixed initialisation order of the servers section.
// Transports come up before discovery so advertisements point at a live port.
var ServerOrder = []string{ServerHTTP, ServerHTTPS, ServerHTTP2, ServerMDNS, ServerSSDP}

// Config is the root configuration structure for the gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Web       WebConfig       `yaml:"web"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Handshake HandshakeConfig `yaml:"handshake"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// WebConfig holds the protocol servers and interface bridges.
type WebConfig struct {
	Servers     map[string]ServerConfig    `yaml:"servers"`
	Interfaces  map[string]InterfaceConfig `yaml:"interfaces"`
	BindingsDir string                     `yaml:"bindings_dir"`
}

// ServerConfig describes one network-facing server entry.
type ServerConfig struct {
	Enabled     bool             `yaml:"enabled"`
	IP          string           `yaml:"ip"`
	Port        int              `yaml:"port"`
	GeneratedID string           `yaml:"generated_id,omitempty"`
	TLS         TLSConfig        `yaml:"tls,omitempty"`
	Timeouts    APITimeoutConfig `yaml:"timeouts,omitempty"`
	CORS        CORSConfig       `yaml:"cors,omitempty"`
}

// InterfaceConfig describes one interface bridge entry.
type InterfaceConfig struct {
	Type        string         `yaml:"type"`
	Enabled     bool           `yaml:"enabled"`
	FileName    string         `yaml:"file_name"`
	Options     map[string]any `yaml:"options,omitempty"`
	GeneratedID string         `yaml:"generated_id,omitempty"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read,omitempty"`
	Write int `yaml:"write,omitempty"`
	Idle  int `yaml:"idle,omitempty"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	AllowedMethods []string `yaml:"allowed_methods,omitempty"`
	AllowedHeaders []string `yaml:"allowed_headers,omitempty"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// HandshakeConfig contains peer handshake and socket channel timings (seconds).
type HandshakeConfig struct {
	RegisterTimeout   int `yaml:"register_timeout"`
	SettleDelay       int `yaml:"settle_delay"`
	AckTimeout        int `yaml:"ack_timeout"`
	ReconnectDelay    int `yaml:"reconnect_delay"`
	ReconnectMaxDelay int `yaml:"reconnect_max_delay"`
}

// DiscoveryConfig contains the fixed identity advertised over mDNS and SSDP.
type DiscoveryConfig struct {
	ServiceName  string `yaml:"service_name"`
	FriendlyName string `yaml:"friendly_name"`
	Manufacturer string `yaml:"manufacturer"`
	ModelName    string `yaml:"model_name"`
	ModelURL     string `yaml:"model_url"`
	MaxAge       int    `yaml:"max_age"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GATEWAY_SECTION_KEY
// For example: GATEWAY_DATABASE_PATH, GATEWAY_HTTP_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration back to path as YAML.
// The file is written to a temporary sibling first and renamed into place.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // write error takes precedence
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic Gateway",
		},
		Database: DatabaseConfig{
			Path:        "./data/gateway.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Web: WebConfig{
			Servers: map[string]ServerConfig{
				ServerHTTP: {
					Enabled: true,
					IP:      "0.0.0.0",
					Port:    4200,
				},
			},
			Interfaces:  map[string]InterfaceConfig{},
			BindingsDir: "./bindings",
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Handshake: HandshakeConfig{
			RegisterTimeout:   5,
			SettleDelay:       3,
			AckTimeout:        5,
			ReconnectDelay:    1,
			ReconnectMaxDelay: 30,
		},
		Discovery: DiscoveryConfig{
			ServiceName:  "_gateway._tcp.local.",
			FriendlyName: "Gray Logic Gateway",
			Manufacturer: "Gray Logic",
			ModelName:    "gateway",
			ModelURL:     "https://github.com/nerrad567/gray-logic-gateway",
			MaxAge:       1800,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GATEWAY_BINDINGS_DIR"); v != "" {
		cfg.Web.BindingsDir = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GATEWAY_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			srv := cfg.Web.Servers[ServerHTTP]
			srv.Port = port
			if cfg.Web.Servers == nil {
				cfg.Web.Servers = map[string]ServerConfig{}
			}
			cfg.Web.Servers[ServerHTTP] = srv
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	for _, name := range sortedKeys(c.Web.Servers) {
		srv := c.Web.Servers[name]
		if !isKnownServer(name) {
			errs = append(errs, fmt.Sprintf("web.servers.%s: unknown server type", name))
			continue
		}
		if srv.Enabled && (srv.Port < 1 || srv.Port > 65535) {
			errs = append(errs, fmt.Sprintf("web.servers.%s.port must be between 1 and 65535", name))
		}
		if srv.Enabled && name == ServerHTTPS && (srv.TLS.CertFile == "" || srv.TLS.KeyFile == "") {
			errs = append(errs, "web.servers.https requires tls.cert_file and tls.key_file")
		}
	}

	for _, name := range sortedKeys(c.Web.Interfaces) {
		iface := c.Web.Interfaces[name]
		switch iface.Type {
		case InterfaceHTTP, InterfaceInflux, InterfaceMQTT, InterfaceREM:
		default:
			errs = append(errs, fmt.Sprintf("web.interfaces.%s.type %q is not one of http, influx, mqtt, rem", name, iface.Type))
		}
		if iface.Enabled && iface.FileName == "" {
			errs = append(errs, fmt.Sprintf("web.interfaces.%s.file_name is required when enabled", name))
		}
	}

	if c.Handshake.RegisterTimeout < 0 || c.Handshake.SettleDelay < 0 || c.Handshake.AckTimeout < 0 {
		errs = append(errs, "handshake timings must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SetGeneratedID records an assigned id on the matching entry.
// It reports whether the stored value changed.
func (c *Config) SetGeneratedID(section, name, id string) bool {
	switch section {
	case SectionServers:
		srv, ok := c.Web.Servers[name]
		if !ok || srv.GeneratedID == id {
			return false
		}
		srv.GeneratedID = id
		c.Web.Servers[name] = srv
		return true
	case SectionInterfaces:
		iface, ok := c.Web.Interfaces[name]
		if !ok || iface.GeneratedID == id {
			return false
		}
		iface.GeneratedID = id
		c.Web.Interfaces[name] = iface
		return true
	}
	return false
}

// BindingPath returns the full path of an interface binding file.
func (c *Config) BindingPath(fileName string) string {
	if filepath.IsAbs(fileName) {
		return fileName
	}
	return filepath.Join(c.Web.BindingsDir, fileName)
}

// InterfaceNames returns interface names in a stable order.
func (c *Config) InterfaceNames() []string {
	return sortedKeys(c.Web.Interfaces)
}

// GetRegisterTimeout returns the handshake registration timeout.
func (h HandshakeConfig) GetRegisterTimeout() time.Duration {
	return time.Duration(h.RegisterTimeout) * time.Second
}

// GetSettleDelay returns the pause between handshake phases.
func (h HandshakeConfig) GetSettleDelay() time.Duration {
	return time.Duration(h.SettleDelay) * time.Second
}

// GetAckTimeout returns the emit verification timeout.
func (h HandshakeConfig) GetAckTimeout() time.Duration {
	return time.Duration(h.AckTimeout) * time.Second
}

// GetReconnectDelay returns the initial socket reconnect delay.
func (h HandshakeConfig) GetReconnectDelay() time.Duration {
	return time.Duration(h.ReconnectDelay) * time.Second
}

// GetReconnectMaxDelay returns the socket reconnect backoff cap.
func (h HandshakeConfig) GetReconnectMaxDelay() time.Duration {
	return time.Duration(h.ReconnectMaxDelay) * time.Second
}

func isKnownServer(name string) bool {
	for _, known := range ServerOrder {
		if name == known {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
