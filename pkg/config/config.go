// Package config loads pipeline tuning from config.yaml. A config.dev.yaml next to it,
// when present, overrides any subset of the fields.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/visionex-project/pagetrans/grpc/impl/compose"
)

type Config struct {
	Layout     Layout          `yaml:"layout"`
	Translator Translator      `yaml:"translator"`
	Render     Render          `yaml:"render"`
	Compose    compose.Options `yaml:"compose"`
	Worker     Worker          `yaml:"worker"`
	Storage    Storage         `yaml:"storage"`
	Log        Log             `yaml:"log"`
}

type Layout struct {
	// One of "documentai", "vision" or "tesseract".
	Type string `yaml:"type"`
	// Tesseract languages. E.g., ["eng", "jpn"]
	Languages []string `yaml:"languages"`
}

type Translator struct {
	// One of "openai" or "gemini".
	Type  string `yaml:"type"`
	Model string `yaml:"model"`
	// OpenAI-compatible endpoint, e.g. a local Ollama server. Empty uses api.openai.com.
	BaseURL string `yaml:"base_url"`
	// Requests in flight per page.
	Concurrency int `yaml:"concurrency"`
}

type Render struct {
	// One of "raster" or "vector".
	Backend string `yaml:"backend"`
	// Mode used when a submission names none.
	Mode    string `yaml:"mode"`
	DPI     int    `yaml:"dpi"`
	FontDir string `yaml:"font_dir"`
}

type Worker struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Storage struct {
	WorkDir string `yaml:"work_dir"`
	// SQLite database file. Relative paths are resolved against WorkDir.
	Registry string `yaml:"registry"`
	// Object prefix of mirrored artifacts.
	Prefix string `yaml:"prefix"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func Default() *Config {
	return &Config{
		Layout:     Layout{Type: "documentai", Languages: []string{"eng"}},
		Translator: Translator{Type: "openai", Model: "gpt-4o-mini", Concurrency: 5},
		Render:     Render{Backend: "raster", Mode: "side-by-side", DPI: 200, FontDir: "grpc/cmd/fonts"},
		Compose:    compose.DefaultOptions(),
		Worker:     Worker{PollInterval: time.Second},
		Storage:    Storage{WorkDir: "temp", Registry: "jobs.db", Prefix: "pagetrans"},
		Log:        Log{Level: "info"},
	}
}

// Load reads path over the defaults, then its .dev sibling over the result. A missing
// file is skipped.
func Load(path string) (*Config, error) {
	config := Default()
	for _, file := range []string{path, devPath(path)} {
		found, err := config.merge(file)
		if err != nil {
			return nil, err
		}
		if found {
			log.WithField("file", file).Info("configuration loaded")
		}
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// devPath maps config.yaml to config.dev.yaml.
func devPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".dev" + ext
}

// merge decodes file into c. Fields absent from the file keep their current value, so
// nested sections merge field by field.
func (c *Config) merge(file string) (bool, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", file, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return true, nil
}

func (c *Config) validate() error {
	if c.Render.DPI <= 0 {
		return fmt.Errorf("render.dpi must be positive, got %d", c.Render.DPI)
	}
	if c.Translator.Concurrency <= 0 {
		return fmt.Errorf("translator.concurrency must be positive, got %d", c.Translator.Concurrency)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive, got %s", c.Worker.PollInterval)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// RegistryPath is the SQLite file of the job registry.
func (c *Config) RegistryPath() string {
	if filepath.IsAbs(c.Storage.Registry) {
		return c.Storage.Registry
	}
	return filepath.Join(c.Storage.WorkDir, c.Storage.Registry)
}

// ConfigureLogging applies the log section to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.Log.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
