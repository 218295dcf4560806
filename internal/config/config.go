package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid marks configuration that fails validation.
var ErrInvalid = errors.New("invalid config")

// Config is the full runtime configuration, loaded from a YAML file with
// ZONEWATCH_* environment overrides.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Camera  CameraConfig  `mapstructure:"camera"`
	Capture CaptureConfig `mapstructure:"capture"`
	Gate    GateConfig    `mapstructure:"gate"`
	Detect  DetectConfig  `mapstructure:"detect"`
	Render  RenderConfig  `mapstructure:"render"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	DB      DBConfig      `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type CameraConfig struct {
	ID     string `mapstructure:"id"`
	Source string `mapstructure:"source"` // video file path, or "synthetic"
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
}

type CaptureConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	AcquireTimeout   time.Duration `mapstructure:"acquire_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

type GateConfig struct {
	Mode           string  `mapstructure:"mode"` // "bytes" or "pixels"
	PixelThreshold float64 `mapstructure:"pixel_threshold"`
}

type DetectConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	MinConfidence float64       `mapstructure:"min_confidence"`
}

type RenderConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	JPEGQuality int           `mapstructure:"jpeg_quality"`
}

type AlertsConfig struct {
	SnapshotDir string `mapstructure:"snapshot_dir"`
	WebhookURL  string `mapstructure:"webhook_url"`
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	APIKey         string   `mapstructure:"api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Load reads configuration from the given file (optional) plus environment
// overrides, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("zonewatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("camera.id", "camera-1")
	v.SetDefault("camera.source", "synthetic")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)

	v.SetDefault("capture.interval", 500*time.Millisecond)
	v.SetDefault("capture.acquire_timeout", 2*time.Second)
	v.SetDefault("capture.failure_threshold", 10)

	v.SetDefault("gate.mode", "bytes")
	v.SetDefault("gate.pixel_threshold", 4.0)

	v.SetDefault("detect.endpoint", "http://localhost:8000/api/v1/detect")
	v.SetDefault("detect.timeout", 5*time.Second)
	v.SetDefault("detect.queue_capacity", 3)
	v.SetDefault("detect.min_confidence", 0.3)

	v.SetDefault("render.interval", 100*time.Millisecond)
	v.SetDefault("render.jpeg_quality", 80)

	v.SetDefault("alerts.snapshot_dir", "./snapshots")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("metrics.addr", ":9090")
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Capture.Interval <= 0 {
		return fmt.Errorf("%w: capture.interval must be positive", ErrInvalid)
	}
	if c.Capture.AcquireTimeout <= 0 {
		return fmt.Errorf("%w: capture.acquire_timeout must be positive", ErrInvalid)
	}
	if c.Capture.FailureThreshold < 1 {
		return fmt.Errorf("%w: capture.failure_threshold must be at least 1", ErrInvalid)
	}
	if c.Detect.QueueCapacity < 1 {
		return fmt.Errorf("%w: detect.queue_capacity must be at least 1", ErrInvalid)
	}
	if c.Detect.Timeout <= 0 {
		return fmt.Errorf("%w: detect.timeout must be positive", ErrInvalid)
	}
	if c.Detect.MinConfidence < 0 || c.Detect.MinConfidence > 1 {
		return fmt.Errorf("%w: detect.min_confidence must be in [0,1]", ErrInvalid)
	}
	if c.Render.Interval <= 0 {
		return fmt.Errorf("%w: render.interval must be positive", ErrInvalid)
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return fmt.Errorf("%w: render.jpeg_quality must be in [1,100]", ErrInvalid)
	}
	switch c.Gate.Mode {
	case "bytes", "pixels":
	default:
		return fmt.Errorf("%w: gate.mode must be \"bytes\" or \"pixels\"", ErrInvalid)
	}
	if c.Gate.Mode == "pixels" && c.Gate.PixelThreshold < 0 {
		return fmt.Errorf("%w: gate.pixel_threshold must be non-negative", ErrInvalid)
	}
	return nil
}
