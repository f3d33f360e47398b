package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream" json:"upstream"`
	Client   ClientConfig   `mapstructure:"client" json:"client"`
	Store    StoreConfig    `mapstructure:"store" json:"store"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host" json:"host"`
	Port        int    `mapstructure:"port" json:"port"`
	CORSOrigins string `mapstructure:"cors_origins" json:"cors_origins"`
	// RateLimit is the number of chat requests accepted per IP per minute.
	RateLimit   int    `mapstructure:"rate_limit" json:"rate_limit"`
}

// UpstreamConfig describes the completion service the relay forwards to.
// APIKey is deliberately optional at load time: a missing key is reported
// per request so the server still boots and answers preflights.
type UpstreamConfig struct {
	BaseURL  string        `mapstructure:"base_url" json:"base_url"`
	APIKey   string        `mapstructure:"api_key" json:"api_key,omitempty"`
	Model    string        `mapstructure:"model" json:"model"`
	MaxTurns int           `mapstructure:"max_turns" json:"max_turns"`
	// Timeout caps a whole relayed exchange, so also the longest reply.
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

type ClientConfig struct {
	RelayURL      string        `mapstructure:"relay_url" json:"relay_url"`
	Lang          string        `mapstructure:"lang" json:"lang"`
	DailyCap      time.Duration `mapstructure:"daily_cap" json:"daily_cap"`
	TickInterval  time.Duration `mapstructure:"tick_interval" json:"tick_interval"`
	FreeDialogues int           `mapstructure:"free_dialogues" json:"free_dialogues"`
}

// StoreConfig selects the key-value backend used for client state.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver" json:"driver"`
	Path     string         `mapstructure:"path" json:"path"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	Database string `mapstructure:"database" json:"database"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Load reads config.json from the working directory, ./config or ~/.anima,
// then applies environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	homeDir, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".anima"))
	}

	return load(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("server.rate_limit", 30)

	v.SetDefault("upstream.base_url", "https://api.openai.com/v1")
	v.SetDefault("upstream.model", "gpt-4o-mini")
	v.SetDefault("upstream.max_turns", 12)
	v.SetDefault("upstream.timeout", 2*time.Minute)

	v.SetDefault("client.relay_url", "http://localhost:3000/api/chat")
	v.SetDefault("client.lang", "ru")
	v.SetDefault("client.daily_cap", 15*time.Minute)
	v.SetDefault("client.tick_interval", time.Second)
	v.SetDefault("client.free_dialogues", 3)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("store.database.host", "localhost")
	v.SetDefault("store.database.port", 5432)
	v.SetDefault("store.database.user", "anima")
	v.SetDefault("store.database.database", "anima")
	v.SetDefault("store.database.sslmode", "disable")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func defaultStorePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "anima.db"
	}
	return filepath.Join(homeDir, ".anima", "anima.db")
}

func loadEnvOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Upstream.APIKey = key
	}
	if url := os.Getenv("ANIMA_UPSTREAM_URL"); url != "" {
		cfg.Upstream.BaseURL = url
	}
	if model := os.Getenv("ANIMA_MODEL"); model != "" {
		cfg.Upstream.Model = model
	}

	if port := os.Getenv("ANIMA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("ANIMA_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if origins := os.Getenv("ANIMA_CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = origins
	}

	if relay := os.Getenv("ANIMA_RELAY_URL"); relay != "" {
		cfg.Client.RelayURL = relay
	}
	if lang := os.Getenv("ANIMA_LANG"); lang != "" {
		cfg.Client.Lang = lang
	}

	if driver := os.Getenv("ANIMA_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if path := os.Getenv("ANIMA_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}

	// Database overrides
	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Store.Database.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Store.Database.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Store.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Store.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Store.Database.Database = dbName
	}

	if level := os.Getenv("ANIMA_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}
