package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "node-config.json", `{
		"NodeId": "node-1",
		"NodeName": "Gate A",
		"HubServerUrl": "http://hub:5000",
		"ApiToken": "secret",
		"ProcessingFps": 10,
		"SpeedLimit": 50,
		"DetectionDistance": 25.5,
		"MaxRetryAttempts": 4,
		"OcrMethod": "Yolo",
		"outbox": {"enabled": true, "interval": "5s"},
		"ocr": {"optimize": true},
		"database": {"dsn": "postgres://localhost/node"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Node.NodeID != "node-1" || cfg.Node.NodeName != "Gate A" {
		t.Errorf("unexpected identity: %+v", cfg.Node)
	}
	if cfg.Node.HubServerURL != "http://hub:5000" || cfg.Node.APIToken != "secret" {
		t.Errorf("unexpected hub settings: %+v", cfg.Node)
	}
	if cfg.Node.ProcessingFps != 10 || cfg.Node.SpeedLimit != 50 || cfg.Node.DetectionDistance != 25.5 {
		t.Errorf("unexpected processing settings: %+v", cfg.Node)
	}
	if cfg.Node.MaxRetryAttempts != 4 || cfg.Node.OcrMethod != "Yolo" {
		t.Errorf("unexpected retry/ocr settings: %+v", cfg.Node)
	}
	// Keys absent from the file fall back to defaults.
	if cfg.Node.OcrConfidenceThreshold != 0.5 || !cfg.Node.AutoSendEnabled {
		t.Errorf("defaults not applied: %+v", cfg.Node)
	}
	if !cfg.Outbox.Enabled || cfg.Outbox.Interval != 5*time.Second || cfg.Outbox.BatchSize != 20 || cfg.Outbox.MaxAttempts != 10 {
		t.Errorf("unexpected outbox config: %+v", cfg.Outbox)
	}
	if !cfg.OCR.Optimize {
		t.Error("ocr.optimize not read from file")
	}
	if cfg.Processing.Mode != "best" {
		t.Errorf("expected best mode, got %q", cfg.Processing.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeFile(t, "node-config.yaml", "NodeId: node-2\nHubServerUrl: http://hub\nSpeedLimit: 40\n")
	t.Setenv("PLATENODE_SPEEDLIMIT", "80")
	t.Setenv("PLATENODE_KAFKA_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Node.SpeedLimit != 80 {
		t.Errorf("expected env override 80, got %v", cfg.Node.SpeedLimit)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected kafka enabled from env")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Node: NodeConfiguration{
				NodeID:           "n",
				HubServerURL:     "http://hub",
				ProcessingFps:    5,
				MaxRetryAttempts: 3,
			},
			Processing: ProcessingConfig{Mode: "best"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing node id", func(c *Config) { c.Node.NodeID = " " }},
		{"missing hub", func(c *Config) { c.Node.HubServerURL = "" }},
		{"zero fps", func(c *Config) { c.Node.ProcessingFps = 0 }},
		{"zero retries", func(c *Config) { c.Node.MaxRetryAttempts = 0 }},
		{"speed without distance", func(c *Config) { c.Node.EnableSpeedDetection = true }},
		{"outbox without dsn", func(c *Config) { c.Outbox.Enabled = true }},
		{"unknown mode", func(c *Config) { c.Processing.Mode = "all" }},
	}

	valid := base()
	if err := valid.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestFrameInterval(t *testing.T) {
	if got := (NodeConfiguration{ProcessingFps: 4}).FrameInterval(); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got)
	}
	if got := (NodeConfiguration{}).FrameInterval(); got != time.Second {
		t.Errorf("expected 1s fallback, got %v", got)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node-config.json")
	if err := WriteDefault(path, "0123456789", "http://hub"); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Node.NodeID != "0123456789" || cfg.Node.NodeName != "node-01234567" {
		t.Errorf("unexpected identity: %+v", cfg.Node)
	}
	if err := WriteDefault(path, "x", "http://hub"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected refusal to overwrite, got %v", err)
	}
}
