package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/types"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. VPRO_SERVER_HTTP_PORT.
const EnvPrefix = "VPRO"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	VPro    VProConfig    `mapstructure:"vpro"`
	Devices DevicesConfig `mapstructure:"devices"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// VProConfig holds device protocol settings shared by all devices.
type VProConfig struct {
	Port             int           `mapstructure:"port"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	MatrixPath       string        `mapstructure:"matrix_path"`
	TargetLabelsPath string        `mapstructure:"target_labels_path"`
	SourceLabelsPath string        `mapstructure:"source_labels_path"`
	FetchLabels      bool          `mapstructure:"fetch_labels"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	Parallelism      int           `mapstructure:"parallelism"`
}

type DevicesConfig struct {
	Inventory   string                   `mapstructure:"inventory"`
	SearchPaths []string                 `mapstructure:"search_paths"`
	Devices     []types.DeviceDefinition `mapstructure:"list"`
}

// MQTTConfig enables mirroring matrix events to an MQTT broker.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.request_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("vpro.port", 9000)
	v.SetDefault("vpro.connect_timeout", "3s")
	v.SetDefault("vpro.read_timeout", "5s")
	v.SetDefault("vpro.write_timeout", "2s")
	v.SetDefault("vpro.matrix_path", "pro8/Video-Matrix/Matrix")
	v.SetDefault("vpro.fetch_labels", true)
	v.SetDefault("vpro.poll_interval", "0s")
	v.SetDefault("vpro.parallelism", 8)

	v.SetDefault("devices.search_paths", []string{".", "./config"})

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "vprocontrol")
	v.SetDefault("mqtt.topic_prefix", "vpro")
	v.SetDefault("mqtt.qos", 1)
}

// Load reads the YAML config at path. An empty path uses defaults and the
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variables override file values: VPRO_VPRO_READ_TIMEOUT=2s
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server.http_port %d", c.Server.HTTPPort)
	}
	if c.VPro.Port <= 0 || c.VPro.Port > 65535 {
		return fmt.Errorf("invalid vpro.port %d", c.VPro.Port)
	}
	if c.VPro.PollInterval < 0 {
		return fmt.Errorf("invalid vpro.poll_interval %s", c.VPro.PollInterval)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" || c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("mqtt.broker and mqtt.topic_prefix are required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("invalid mqtt.qos %d", c.MQTT.QoS)
		}
	}
	return nil
}
