package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every tunable of the analysis pipeline and its outer binaries.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Heuristics  HeuristicsConfig  `yaml:"heuristics"`
	Geo         GeoConfig         `yaml:"geo"`
	ThreatIntel ThreatIntelConfig `yaml:"threatIntel"`
	Anomaly     AnomalyConfig     `yaml:"anomaly"`
	Redis       RedisConfig       `yaml:"redis"`
	Capture     CaptureConfig     `yaml:"capture"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Address     string `yaml:"address"`
	MetricsPath string `yaml:"metricsPath"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// HeuristicsConfig tunes the windowed port-scan and volume detectors.
type HeuristicsConfig struct {
	Window            time.Duration `yaml:"window"`
	PortScanThreshold int           `yaml:"portScanThreshold"`
	VolumeThreshold   int64         `yaml:"volumeThreshold"`
}

// GeoConfig configures destination geolocation.
type GeoConfig struct {
	Enabled bool `yaml:"enabled"`
	// Provider is "http" (ip-api.com compatible) or "maxmind".
	Provider       string        `yaml:"provider"`
	Endpoint       string        `yaml:"endpoint"`
	DatabasePath   string        `yaml:"databasePath"`
	MinInterval    time.Duration `yaml:"minInterval"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queueSize"`
	// CacheSize bounds the result cache with LRU eviction; 0 keeps every entry.
	CacheSize int `yaml:"cacheSize"`
}

// ThreatIntelConfig configures the blocklist feed.
type ThreatIntelConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Name            string        `yaml:"name"`
	Source          string        `yaml:"source"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// AnomalyConfig configures the online outlier model.
type AnomalyConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Capacity        int     `yaml:"capacity"`
	MinTrainingSize int     `yaml:"minTrainingSize"`
	Contamination   float64 `yaml:"contamination"`
	Trees           int     `yaml:"trees"`
	SampleSize      int     `yaml:"sampleSize"`
	Seed            int64   `yaml:"seed"`
	// RetrainEvery refits after this many observations; 0 trains once.
	RetrainEvery int `yaml:"retrainEvery"`
}

// RedisConfig controls the optional Redis publish sink.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channelPrefix"`
}

// CaptureConfig controls session recording.
type CaptureConfig struct {
	// PcapPath is where each session is recorded; empty disables recording.
	PcapPath string `yaml:"pcapPath"`
	// ReplayPath, when set, is fed through the pipeline at startup.
	ReplayPath string `yaml:"replayPath"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Address: ":5001", MetricsPath: "/metrics"},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Heuristics: HeuristicsConfig{
			Window:            10 * time.Second,
			PortScanThreshold: 10,
			VolumeThreshold:   1_000_000,
		},
		Geo: GeoConfig{
			Enabled:        true,
			Provider:       "http",
			Endpoint:       "http://ip-api.com/json/",
			MinInterval:    1500 * time.Millisecond,
			RequestTimeout: 5 * time.Second,
			Workers:        2,
			QueueSize:      256,
		},
		ThreatIntel: ThreatIntelConfig{
			Enabled:         true,
			Name:            "FireHOL L1",
			Source:          "https://raw.githubusercontent.com/firehol/blocklist-ipsets/master/firehol_level1.netset",
			RefreshInterval: 24 * time.Hour,
			RequestTimeout:  10 * time.Second,
		},
		Anomaly: AnomalyConfig{
			Enabled:         true,
			Capacity:        1000,
			MinTrainingSize: 100,
			Contamination:   0.01,
			Trees:           100,
			SampleSize:      256,
			Seed:            42,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			ChannelPrefix: "sentinel",
		},
		Capture: CaptureConfig{PcapPath: "capture.pcap"},
	}
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := errors.Join(applyEnvOverrides(&cfg), cfg.Validate()); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every setting that would make a component misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Heuristics.Window <= 0 {
		errs = append(errs, errors.New("heuristics.window must be positive"))
	}
	if c.Heuristics.PortScanThreshold <= 0 {
		errs = append(errs, errors.New("heuristics.portScanThreshold must be positive"))
	}
	if c.Heuristics.VolumeThreshold <= 0 {
		errs = append(errs, errors.New("heuristics.volumeThreshold must be positive"))
	}
	if c.Geo.Enabled {
		switch c.Geo.Provider {
		case "http":
			if c.Geo.Endpoint == "" {
				errs = append(errs, errors.New("geo.endpoint is required for the http provider"))
			}
		case "maxmind":
			if c.Geo.DatabasePath == "" {
				errs = append(errs, errors.New("geo.databasePath is required for the maxmind provider"))
			}
		default:
			errs = append(errs, fmt.Errorf("geo.provider %q is not supported", c.Geo.Provider))
		}
		if c.Geo.MinInterval < 0 {
			errs = append(errs, errors.New("geo.minInterval must not be negative"))
		}
		if c.Geo.Workers <= 0 {
			errs = append(errs, errors.New("geo.workers must be positive"))
		}
		if c.Geo.QueueSize <= 0 {
			errs = append(errs, errors.New("geo.queueSize must be positive"))
		}
		if c.Geo.CacheSize < 0 {
			errs = append(errs, errors.New("geo.cacheSize must not be negative"))
		}
	}
	if c.ThreatIntel.Enabled {
		if c.ThreatIntel.Source == "" {
			errs = append(errs, errors.New("threatIntel.source is required"))
		}
		if c.ThreatIntel.RefreshInterval <= 0 {
			errs = append(errs, errors.New("threatIntel.refreshInterval must be positive"))
		}
	}
	if c.Anomaly.Enabled {
		if c.Anomaly.Capacity <= 0 {
			errs = append(errs, errors.New("anomaly.capacity must be positive"))
		}
		if c.Anomaly.MinTrainingSize <= 1 || c.Anomaly.MinTrainingSize > c.Anomaly.Capacity {
			errs = append(errs, errors.New("anomaly.minTrainingSize must be in (1, capacity]"))
		}
		if c.Anomaly.Contamination <= 0 || c.Anomaly.Contamination >= 0.5 {
			errs = append(errs, errors.New("anomaly.contamination must be in (0, 0.5)"))
		}
		if c.Anomaly.RetrainEvery < 0 {
			errs = append(errs, errors.New("anomaly.retrainEvery must not be negative"))
		}
	}
	return errors.Join(errs...)
}

// envReader applies SENTINEL_* overrides and remembers every value that
// failed to parse.
type envReader struct {
	errs []error
}

func (r *envReader) str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return
	}
	*dst = b
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	*dst = d
}

func (r *envReader) integer(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (r *envReader) int64(key string, dst *int64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (r *envReader) float(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return
	}
	*dst = f
}

// applyEnvOverrides returns one error per unparsable variable
func applyEnvOverrides(cfg *Config) error {
	r := &envReader{}

	r.str("SENTINEL_SERVER_ADDRESS", &cfg.Server.Address)
	r.str("SENTINEL_LOG_LEVEL", &cfg.Logging.Level)
	switch v := os.Getenv("SENTINEL_LOG_FORMAT"); v {
	case "":
	case "json":
		cfg.Logging.JSON = true
	case "console", "text":
		cfg.Logging.JSON = false
	default:
		r.errs = append(r.errs, fmt.Errorf("SENTINEL_LOG_FORMAT: unknown format %q", v))
	}

	r.duration("SENTINEL_WINDOW", &cfg.Heuristics.Window)
	r.integer("SENTINEL_PORT_SCAN_THRESHOLD", &cfg.Heuristics.PortScanThreshold)
	r.int64("SENTINEL_VOLUME_THRESHOLD", &cfg.Heuristics.VolumeThreshold)

	r.boolean("SENTINEL_GEO_ENABLED", &cfg.Geo.Enabled)
	r.str("SENTINEL_GEO_PROVIDER", &cfg.Geo.Provider)
	r.str("SENTINEL_GEO_ENDPOINT", &cfg.Geo.Endpoint)
	r.str("SENTINEL_GEO_DATABASE", &cfg.Geo.DatabasePath)
	r.duration("SENTINEL_GEO_MIN_INTERVAL", &cfg.Geo.MinInterval)
	r.integer("SENTINEL_GEO_CACHE_SIZE", &cfg.Geo.CacheSize)

	r.boolean("SENTINEL_THREATINTEL_ENABLED", &cfg.ThreatIntel.Enabled)
	r.str("SENTINEL_THREATINTEL_SOURCE", &cfg.ThreatIntel.Source)
	r.duration("SENTINEL_THREATINTEL_REFRESH", &cfg.ThreatIntel.RefreshInterval)

	r.integer("SENTINEL_ANOMALY_CAPACITY", &cfg.Anomaly.Capacity)
	r.integer("SENTINEL_ANOMALY_MIN_TRAINING", &cfg.Anomaly.MinTrainingSize)
	r.float("SENTINEL_ANOMALY_CONTAMINATION", &cfg.Anomaly.Contamination)
	r.integer("SENTINEL_ANOMALY_RETRAIN_EVERY", &cfg.Anomaly.RetrainEvery)

	r.boolean("SENTINEL_REDIS_ENABLED", &cfg.Redis.Enabled)
	r.str("SENTINEL_REDIS_ADDR", &cfg.Redis.Addr)
	r.str("SENTINEL_REDIS_PASSWORD", &cfg.Redis.Password)
	r.integer("SENTINEL_REDIS_DB", &cfg.Redis.DB)

	// set but empty disables recording
	if v, ok := os.LookupEnv("SENTINEL_PCAP_PATH"); ok {
		cfg.Capture.PcapPath = v
	}
	r.str("SENTINEL_REPLAY_PATH", &cfg.Capture.ReplayPath)

	return errors.Join(r.errs...)
}
