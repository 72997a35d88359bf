package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var singleConfig *Config = nil

var defaultExtensions = []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".webp"}

type Config struct {
	Database  *dbConfig
	Service   *svcConfig
	Pipeline  *pipelineConfig
	Discovery *discoveryConfig
	Detector  *detectorConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"sqlite"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"data/ocr_dataset.db"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address        string   `envconfig:"PIPELINE_ADDRESS" default:":8000"`
	MetricsAddress string   `envconfig:"PIPELINE_METRICS_ADDRESS" default:":8080"`
	LogLevel       string   `envconfig:"PIPELINE_LOG_LEVEL" default:"info"`
	LogFormat      string   `envconfig:"PIPELINE_LOG_FORMAT" default:"console"`
	AllowedOrigins []string `envconfig:"PIPELINE_ALLOWED_ORIGINS" default:"*"`
	// MigrationFolder overrides the embedded migrations when set.
	MigrationFolder string `envconfig:"PIPELINE_MIGRATIONS_FOLDER" default:""`
}

type pipelineConfig struct {
	// BackgroundJobs gates the scheduler loop. Submissions are persisted either way.
	BackgroundJobs    bool          `envconfig:"PIPELINE_BACKGROUND_JOBS" default:"true"`
	Workers           int           `envconfig:"PIPELINE_WORKERS" default:"1"`
	PollInterval      time.Duration `envconfig:"PIPELINE_POLL_INTERVAL" default:"2s"`
	JobTimeout        time.Duration `envconfig:"PIPELINE_JOB_TIMEOUT" default:"5m"`
	HeartbeatInterval time.Duration `envconfig:"PIPELINE_HEARTBEAT_INTERVAL" default:"15s"`
	EventsMirror      bool          `envconfig:"PIPELINE_EVENTS_MIRROR" default:"false"`
}

type discoveryConfig struct {
	SourceDir         string   `envconfig:"PIPELINE_SOURCE_DIR" default:"input"`
	AllowedExtensions []string `envconfig:"PIPELINE_ALLOWED_EXTENSIONS" default:".jpg,.jpeg,.png,.tif,.tiff,.webp"`
	ScanOnStart       bool     `envconfig:"PIPELINE_SCAN_ON_START" default:"true"`
}

type detectorConfig struct {
	URL                 string        `envconfig:"PIPELINE_DETECTOR_URL" default:"http://localhost:9000"`
	Timeout             time.Duration `envconfig:"PIPELINE_DETECTOR_TIMEOUT" default:"120s"`
	Model               string        `envconfig:"PIPELINE_DETECTOR_MODEL" default:"hantian/yolo-doclaynet:yolov10b-doclaynet.pt"`
	ConfidenceThreshold float64       `envconfig:"PIPELINE_DETECTOR_CONFIDENCE" default:"0.25"`
	IoUThreshold        float64       `envconfig:"PIPELINE_DETECTOR_IOU" default:"0.45"`
	ImageSize           int           `envconfig:"PIPELINE_DETECTOR_IMGSZ" default:"1024"`
}

// New returns the process wide configuration, reading the environment on first use.
func New() (*Config, error) {
	if singleConfig == nil {
		cfg, err := NewDefault()
		if err != nil {
			return nil, err
		}
		singleConfig = cfg
	}
	return singleConfig, nil
}

// NewDefault always builds a fresh configuration from defaults and environment.
func NewDefault() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	cfg.Discovery.AllowedExtensions = NormalizeExtensions(cfg.Discovery.AllowedExtensions)
	return cfg, nil
}

// Load reads a YAML file of KEY: value pairs and exports every key that is not
// already set in the environment before building the configuration.
// Environment variables therefore win over the file, which wins over defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := applyFile(path); err != nil {
			return nil, err
		}
	}
	singleConfig = nil
	return New()
}

func applyFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	values := map[string]any{}
	if err := yaml.Unmarshal(content, &values); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	for key, raw := range values {
		key = strings.ToUpper(key)
		if _, found := os.LookupEnv(key); found {
			continue
		}
		if err := os.Setenv(key, stringify(raw)); err != nil {
			return err
		}
	}

	return nil
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
		return strings.Join(items, ",")
	default:
		return fmt.Sprint(v)
	}
}

// NormalizeExtensions lowercases extensions and makes sure each one starts with a dot.
// An empty result falls back to the default image extensions.
func NormalizeExtensions(raw []string) []string {
	exts := make([]string, 0, len(raw))
	for _, ext := range raw {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		return append([]string{}, defaultExtensions...)
	}
	return exts
}

func (c *Config) String() string {
	return fmt.Sprintf("db=%s:%s address=%s source_dir=%s background_jobs=%t workers=%d",
		c.Database.Type, c.Database.Name, c.Service.Address, c.Discovery.SourceDir,
		c.Pipeline.BackgroundJobs, c.Pipeline.Workers)
}
