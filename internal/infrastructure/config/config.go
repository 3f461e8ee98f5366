package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/owfs-core/internal/service"
)

// EnvPrefix prefixes every environment override, e.g. OWFS_MQTT_HOST.
const EnvPrefix = "OWFS_"

// Config is the root configuration of owfsd.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Servers   []ServerConfig  `yaml:"servers"`
	OWServer  OWServerConfig  `yaml:"owserver"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig tunes the orchestrator and the owserver connections it makes.
type ServiceConfig struct {
	// Scan is the default scan interval: "once", "never" or a duration.
	Scan           service.ScanInterval `yaml:"scan_interval"`
	LoadStructures bool                 `yaml:"load_structures"`
	EventCapacity  int                  `yaml:"event_capacity"`
	DrainTimeout   time.Duration        `yaml:"drain_timeout"`
	ConnectTimeout time.Duration        `yaml:"connect_timeout"`
	RequestTimeout time.Duration        `yaml:"request_timeout"`
	PollInterval   time.Duration        `yaml:"poll_interval"`
}

// ServerConfig names one owserver to register at startup.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Polling defaults to on when omitted.
	Polling *bool `yaml:"polling,omitempty"`

	// Scan overrides ServiceConfig.Scan for this server when set.
	Scan *service.ScanInterval `yaml:"scan_interval,omitempty"`
}

// PollingEnabled reports whether devices found on this server are polled.
func (s ServerConfig) PollingEnabled() bool {
	return s.Polling == nil || *s.Polling
}

// Spec converts the entry into a registration request.
func (s ServerConfig) Spec() service.ServerSpec {
	port := s.Port
	if port == 0 {
		port = service.DefaultPort
	}
	return service.ServerSpec{Host: s.Host, Port: port, NoPolling: !s.PollingEnabled(), Scan: s.Scan}
}

// OWServerConfig controls an optional owserver daemon run as a child process.
type OWServerConfig struct {
	Managed bool   `yaml:"managed"`
	Binary  string `yaml:"binary"`
	Port    int    `yaml:"port"`

	// Adapter selects the bus master: "usb" for a DS9490, a serial device
	// path such as /dev/ttyUSB0, or "fake:10,28" for simulated devices.
	Adapter   string   `yaml:"adapter"`
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	RestartOnFailure   bool          `yaml:"restart_on_failure"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
	GracefulTimeout    time.Duration `yaml:"graceful_timeout"`
}

// Args builds the owserver command line.
func (o OWServerConfig) Args() []string {
	args := []string{"--foreground", "-p", strconv.Itoa(o.Port)}
	switch {
	case o.Adapter == "" || o.Adapter == "usb":
		args = append(args, "-u")
	case strings.HasPrefix(o.Adapter, "fake:"):
		args = append(args, "--fake="+strings.TrimPrefix(o.Adapter, "fake:"))
	default:
		args = append(args, "-d", o.Adapter)
	}
	return append(args, o.ExtraArgs...)
}

// DatabaseConfig contains SQLite settings for the event journal.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// Journal enables recording of bus events. Retention of zero keeps
	// entries forever.
	Journal          bool          `yaml:"journal"`
	JournalRetention time.Duration `yaml:"journal_retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the broker reconnect backoff.
type MQTTReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// Addr returns the listen address.
func (a APIConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// APITimeoutConfig contains HTTP server timeouts.
type APITimeoutConfig struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
	Idle  time.Duration `yaml:"idle"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the live event stream.
type WebSocketConfig struct {
	Path           string        `yaml:"path"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment
// overrides.
//
// Precedence, lowest first: built-in defaults, the file, OWFS_* variables.
// An empty path skips the file.
//
// Parameters:
//   - path: Path to the YAML configuration file, or ""
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Scan:           service.ScanOnce,
			LoadStructures: true,
			EventCapacity:  1000,
			DrainTimeout:   5 * time.Second,
			ConnectTimeout: 10 * time.Second,
			RequestTimeout: 30 * time.Second,
			PollInterval:   30 * time.Second,
		},
		OWServer: OWServerConfig{
			Binary:             "/usr/bin/owserver",
			Port:               service.DefaultPort,
			Adapter:            "usb",
			RestartOnFailure:   true,
			RestartDelay:       5 * time.Second,
			MaxRestartAttempts: 10,
			GracefulTimeout:    10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:             "./data/owfs.db",
			WALMode:          true,
			BusyTimeout:      5 * time.Second,
			Journal:          true,
			JournalRetention: 30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "owfs-core",
			},
			QoS:         1,
			TopicPrefix: "owfs",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     time.Minute,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30 * time.Second,
				Write: 30 * time.Second,
				Idle:  60 * time.Second,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies OWFS_* variables on top of cfg.
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"DATABASE_PATH":     &cfg.Database.Path,
		"MQTT_HOST":         &cfg.MQTT.Broker.Host,
		"MQTT_USERNAME":     &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":     &cfg.MQTT.Auth.Password,
		"MQTT_TOPIC_PREFIX": &cfg.MQTT.TopicPrefix,
		"API_HOST":          &cfg.API.Host,
		"INFLUXDB_URL":      &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN":    &cfg.InfluxDB.Token,
		"LOG_LEVEL":         &cfg.Logging.Level,
	}
	for key, dst := range str {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MQTT_PORT": &cfg.MQTT.Broker.Port,
		"API_PORT":  &cfg.API.Port,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"MQTT_ENABLED":     &cfg.MQTT.Enabled,
		"INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
		"OWSERVER_MANAGED": &cfg.OWServer.Managed,
		"LOAD_STRUCTURES":  &cfg.Service.LoadStructures,
	}
	for key, dst := range bools {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	if v := os.Getenv(EnvPrefix + "SCAN_INTERVAL"); v != "" {
		if err := cfg.Service.Scan.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%sSCAN_INTERVAL: %w", EnvPrefix, err)
		}
	}

	// OWFS_SERVERS=host[:port],... replaces the configured server list.
	if v := os.Getenv(EnvPrefix + "SERVERS"); v != "" {
		servers, err := parseServerList(v)
		if err != nil {
			return fmt.Errorf("%sSERVERS: %w", EnvPrefix, err)
		}
		cfg.Servers = servers
	}
	return nil
}

func parseServerList(raw string) ([]ServerConfig, error) {
	var servers []ServerConfig
	for item := range strings.SplitSeq(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(item)
		if err != nil {
			// No port given.
			servers = append(servers, ServerConfig{Host: item})
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("server %q: invalid port", item)
		}
		servers = append(servers, ServerConfig{Host: host, Port: port})
	}
	return servers, nil
}

// Validate checks the configuration, reporting every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.EventCapacity < 0 {
		errs = append(errs, "service.event_capacity must not be negative")
	}
	for i, s := range c.Servers {
		if s.Host == "" {
			errs = append(errs, fmt.Sprintf("servers[%d].host is required", i))
		}
		if s.Port < 0 || s.Port > 65535 {
			errs = append(errs, fmt.Sprintf("servers[%d].port must be between 1 and 65535", i))
		}
	}

	if c.OWServer.Managed {
		if c.OWServer.Binary == "" {
			errs = append(errs, "owserver.binary is required when owserver.managed is set")
		}
		if c.OWServer.Port < 1 || c.OWServer.Port > 65535 {
			errs = append(errs, "owserver.port must be between 1 and 65535")
		}
	}

	if c.Database.Journal && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}
	if c.MQTT.Enabled && strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix must not contain wildcards")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && !strings.HasPrefix(c.WebSocket.Path, "/") {
		errs = append(errs, "websocket.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ServerSpecs returns the servers to register at startup. A managed
// owserver with no explicit list is reached on localhost.
func (c *Config) ServerSpecs() []service.ServerSpec {
	if len(c.Servers) == 0 && c.OWServer.Managed {
		return []service.ServerSpec{{Host: "localhost", Port: c.OWServer.Port}}
	}
	specs := make([]service.ServerSpec, 0, len(c.Servers))
	for _, s := range c.Servers {
		specs = append(specs, s.Spec())
	}
	return specs
}
