package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	ScrapingBee ScrapingBeeConfig `yaml:"scrapingbee" mapstructure:"scrapingbee"`
	Postcodes   PostcodesConfig   `yaml:"postcodes" mapstructure:"postcodes"`
	Scan        ScanConfig        `yaml:"scan" mapstructure:"scan"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScrapingBeeConfig holds rendering proxy credentials and pacing.
type ScrapingBeeConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	CountryCode       string  `yaml:"country_code" mapstructure:"country_code"`
	ProfilesPath      string  `yaml:"profiles_path" mapstructure:"profiles_path"`
}

// PostcodesConfig holds geocoding API settings.
type PostcodesConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// ScanConfig configures the chunked scan loop.
type ScanConfig struct {
	ChunkSize         int      `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkPaceSecs     int      `yaml:"chunk_pace_secs" mapstructure:"chunk_pace_secs"`
	Concurrency       int      `yaml:"concurrency" mapstructure:"concurrency"`
	Platforms         []string `yaml:"platforms" mapstructure:"platforms"`
	InterStrategySecs int      `yaml:"inter_strategy_secs" mapstructure:"inter_strategy_secs"`
	ContentPreviewLen int      `yaml:"content_preview_len" mapstructure:"content_preview_len"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUBLETWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "subletwatch.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("scrapingbee.base_url", "https://app.scrapingbee.com/api/v1")
	v.SetDefault("scrapingbee.requests_per_second", 2)
	v.SetDefault("scrapingbee.country_code", "gb")
	v.SetDefault("postcodes.base_url", "https://api.postcodes.io")
	v.SetDefault("postcodes.concurrency", 10)
	v.SetDefault("scan.chunk_size", 15)
	v.SetDefault("scan.chunk_pace_secs", 30)
	v.SetDefault("scan.concurrency", 3)
	v.SetDefault("scan.platforms", []string{"airbnb", "spareroom", "gumtree"})
	v.SetDefault("scan.inter_strategy_secs", 2)
	v.SetDefault("scan.content_preview_len", 2000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command depends on are present.
// Mode is the command family: "scan" covers ingest/advance/run, "serve" the
// HTTP API, "review" the ledger commands.
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required")
	}
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		missing = append(missing, "store.driver must be sqlite or postgres")
	}

	switch mode {
	case "scan", "serve":
		if c.ScrapingBee.Key == "" {
			missing = append(missing, "scrapingbee.key is required")
		}
	case "review":
		// Store settings only.
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
