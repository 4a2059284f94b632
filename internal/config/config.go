package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	LogLevel       string        `mapstructure:"log_level"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	Backpressure   string        `mapstructure:"backpressure"`

	Auth       AuthConfig      `mapstructure:"auth"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Presence   PresenceConfig  `mapstructure:"presence"`
	Calls      CallsConfig     `mapstructure:"calls"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	ICEServers []ICEServer     `mapstructure:"ice_servers"`
	MQTT       MQTTConfig      `mapstructure:"mqtt"`
	MDNS       MDNSConfig      `mapstructure:"mdns"`

	v *viper.Viper
}

type AuthConfig struct {
	Secret           string        `mapstructure:"secret"`
	Issuer           string        `mapstructure:"issuer"`
	ProfileCacheSize int           `mapstructure:"profile_cache_size"`
	ProfileCacheTTL  time.Duration `mapstructure:"profile_cache_ttl"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type PresenceConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type CallsConfig struct {
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
}

type RateLimitConfig struct {
	Frames   int           `mapstructure:"frames"`
	Interval time.Duration `mapstructure:"interval"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

type MDNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("backpressure", "drop")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.profile_cache_size", 1024)
	v.SetDefault("auth.profile_cache_ttl", "1m")

	v.SetDefault("database.dsn", "file:intercom.db?cache=shared")
	v.SetDefault("presence.interval", "30s")
	v.SetDefault("calls.ring_timeout", "60s")
	v.SetDefault("rate_limit.frames", 50)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "intercom/presence")
	v.SetDefault("mqtt.client_id", "intercom")
	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.instance", "intercom")
}

// FileName resolves the config file: CONFIG_FILE wins, otherwise
// config/config.<CONFIG_ENV>.yaml with CONFIG_ENV defaulting to dev.
func FileName() string {
	if f := os.Getenv("CONFIG_FILE"); f != "" {
		return f
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

func Load() (*Config, error) {
	return LoadFile(FileName())
}

// LoadFile reads fileName over the defaults. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("INTERCOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.v = v
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("log_level", cfg.LogLevel).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period must be positive, got %s", c.PingPeriod)
	}
	switch c.Backpressure {
	case "drop", "close":
	default:
		return fmt.Errorf("backpressure must be drop or close, got %q", c.Backpressure)
	}
	return validateICEServers(c.WebRTCICEServers())
}

// WebRTCICEServers converts ice_servers to the form browsers receive.
func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

// validateICEServers parses every STUN/TURN URL the way a peer connection
// would. TURN entries need a username and credential.
func validateICEServers(servers []webrtc.ICEServer) error {
	for i, s := range servers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice_servers[%d]: no urls", i)
		}
	}
	if len(servers) == 0 {
		return nil
	}
	g, err := webrtc.NewAPI().NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: servers})
	if err != nil {
		return fmt.Errorf("ice_servers: %w", err)
	}
	return g.Close()
}

// Watch calls fn with the freshly reloaded log level whenever the config
// file changes. Only log_level is applied at runtime.
func (c *Config) Watch(fn func(logLevel string)) {
	if c.v == nil {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		level := c.v.GetString("log_level")
		log.Info().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Str("log_level", level).Msg("config changed")
		fn(level)
	})
	c.v.WatchConfig()
}
