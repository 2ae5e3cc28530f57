package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	ErrConfigMissing = errors.New("node configuration not found")
	ErrInvalidInput  = errors.New("invalid configuration")
)

const (
	EnvPrefix  = "PLATENODE"
	ConfigName = "node-config"
)

// NodeConfiguration holds the node settings shared with the hub-side config tool.
type NodeConfiguration struct {
	NodeID                 string  `mapstructure:"NodeId" json:"NodeId"`
	NodeName               string  `mapstructure:"NodeName" json:"NodeName"`
	HubServerURL           string  `mapstructure:"HubServerUrl" json:"HubServerUrl"`
	APIToken               string  `mapstructure:"ApiToken" json:"ApiToken"`
	ConfidenceThreshold    float64 `mapstructure:"ConfidenceThreshold" json:"ConfidenceThreshold"`
	VideoSource            string  `mapstructure:"VideoSource" json:"VideoSource"`
	ProcessingFps          int     `mapstructure:"ProcessingFps" json:"ProcessingFps"`
	SpeedLimit             float64 `mapstructure:"SpeedLimit" json:"SpeedLimit"`
	EnableSpeedDetection   bool    `mapstructure:"EnableSpeedDetection" json:"EnableSpeedDetection"`
	DetectionDistance      float64 `mapstructure:"DetectionDistance" json:"DetectionDistance"`
	SaveImagesLocally      bool    `mapstructure:"SaveImagesLocally" json:"SaveImagesLocally"`
	LocalImagePath         string  `mapstructure:"LocalImagePath" json:"LocalImagePath"`
	AutoSendEnabled        bool    `mapstructure:"AutoSendEnabled" json:"AutoSendEnabled"`
	MaxRetryAttempts       int     `mapstructure:"MaxRetryAttempts" json:"MaxRetryAttempts"`
	OcrMethod              string  `mapstructure:"OcrMethod" json:"OcrMethod"`
	OcrConfidenceThreshold float64 `mapstructure:"OcrConfidenceThreshold" json:"OcrConfidenceThreshold"`
}

type Config struct {
	Node       NodeConfiguration `mapstructure:",squash"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	HTTP       HTTPConfig        `mapstructure:"http"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Outbox     OutboxConfig      `mapstructure:"outbox"`
	Kafka      KafkaConfig       `mapstructure:"kafka"`
	AWS        AWSConfig         `mapstructure:"aws"`
	Detector   DetectorConfig    `mapstructure:"detector"`
	OCR        OCRConfig         `mapstructure:"ocr"`
	Processing ProcessingConfig  `mapstructure:"processing"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type OutboxConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	RetentionDays int           `mapstructure:"retention_days"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type DetectorConfig struct {
	Type         string  `mapstructure:"type"`
	Endpoint     string  `mapstructure:"endpoint"`
	InputSize    int     `mapstructure:"input_size"`
	NMSThreshold float64 `mapstructure:"nms_threshold"`
}

type OCRConfig struct {
	YoloEndpoint string `mapstructure:"yolo_endpoint"`
	Optimize     bool   `mapstructure:"optimize"`
}

type ProcessingConfig struct {
	Mode            string        `mapstructure:"mode"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	LoopVideo       bool          `mapstructure:"loop_video"`
}

// FrameInterval is the pause between two worker iterations.
func (n NodeConfiguration) FrameInterval() time.Duration {
	if n.ProcessingFps <= 0 {
		return time.Second
	}
	return time.Duration(1000/n.ProcessingFps) * time.Millisecond
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Node.NodeID) == "" {
		return fmt.Errorf("%w: NodeId is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Node.HubServerURL) == "" {
		return fmt.Errorf("%w: HubServerUrl is required", ErrInvalidInput)
	}
	if c.Node.ProcessingFps <= 0 {
		return fmt.Errorf("%w: ProcessingFps must be positive", ErrInvalidInput)
	}
	if c.Node.MaxRetryAttempts < 1 {
		return fmt.Errorf("%w: MaxRetryAttempts must be at least 1", ErrInvalidInput)
	}
	if c.Node.EnableSpeedDetection && c.Node.DetectionDistance <= 0 {
		return fmt.Errorf("%w: DetectionDistance must be positive when speed detection is enabled", ErrInvalidInput)
	}
	if c.Outbox.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is required when the outbox is enabled", ErrInvalidInput)
	}
	switch c.Processing.Mode {
	case "best", "batch":
	default:
		return fmt.Errorf("%w: processing.mode must be best or batch", ErrInvalidInput)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("NodeId", "")
	v.SetDefault("NodeName", "")
	v.SetDefault("HubServerUrl", "")
	v.SetDefault("ApiToken", "")
	v.SetDefault("ConfidenceThreshold", 0.5)
	v.SetDefault("VideoSource", "0")
	v.SetDefault("ProcessingFps", 5)
	v.SetDefault("SpeedLimit", 60.0)
	v.SetDefault("EnableSpeedDetection", true)
	v.SetDefault("DetectionDistance", 10.0)
	v.SetDefault("SaveImagesLocally", true)
	v.SetDefault("LocalImagePath", "images")
	v.SetDefault("AutoSendEnabled", true)
	v.SetDefault("MaxRetryAttempts", 3)
	v.SetDefault("OcrMethod", "Simple")
	v.SetDefault("OcrConfidenceThreshold", 0.5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("database.dsn", "")
	v.SetDefault("outbox.enabled", false)
	v.SetDefault("outbox.interval", "30s")
	v.SetDefault("outbox.batch_size", 20)
	v.SetDefault("outbox.retention_days", 7)
	v.SetDefault("outbox.max_attempts", 10)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "plate-detections")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("detector.type", "edge")
	v.SetDefault("detector.endpoint", "")
	v.SetDefault("detector.input_size", 640)
	v.SetDefault("detector.nms_threshold", 0.45)
	v.SetDefault("ocr.yolo_endpoint", "")
	v.SetDefault("ocr.optimize", false)
	v.SetDefault("processing.mode", "best")
	v.SetDefault("processing.cleanup_interval", "30s")
	v.SetDefault("processing.loop_video", false)
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		v.AddConfigPath("/etc/plate-node")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the node configuration. A missing file is reported as ErrConfigMissing:
// the worker never starts on synthesized defaults.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrConfigMissing, err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes a default configuration file for a new node. Existing files
// are left untouched.
func WriteDefault(path, nodeID, hubURL string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s already exists", ErrInvalidInput, path)
	}
	v := viper.New()
	setDefaults(v)
	v.Set("NodeId", nodeID)
	v.Set("NodeName", "node-"+nodeID[:min(8, len(nodeID))])
	v.Set("HubServerUrl", hubURL)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Settings returns the effective key/value view, used by `config show`.
func Settings(configPath string) (map[string]any, error) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrConfigMissing, err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	settings := v.AllSettings()
	if token, ok := settings["apitoken"].(string); ok && token != "" {
		settings["apitoken"] = "***"
	}
	return settings, nil
}
