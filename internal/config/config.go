// Package config resolves runtime settings for the deck builder binaries.
//
// Values are layered: built-in defaults, then an optional YAML file
// (~/.ai-deck-builder/config.yaml unless a path is given), then environment
// variables. Command-line flags are applied last by each binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/ai-deck-builder/internal/chat"
	"github.com/fpang/ai-deck-builder/internal/images"
	"github.com/fpang/ai-deck-builder/internal/pipeline"
	"github.com/fpang/ai-deck-builder/internal/retry"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Dir is the per-user settings directory under $HOME.
const Dir = ".ai-deck-builder"

// Store kinds.
const (
	StoreSQLite = "sqlite"
	StoreDynamo = "dynamo"
	StoreMemory = "memory"
)

// Duration is a time.Duration that reads Go duration strings ("90s", "2m")
// or plain seconds from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return v, nil
}

// Config holds every setting shared by deckgen, deck-web and deck-lambda.
type Config struct {
	APIKey     string `yaml:"apiKey"`
	TextModel  string `yaml:"textModel"`
	ImageModel string `yaml:"imageModel"`
	LogLevel   string `yaml:"logLevel"`

	Store       string `yaml:"store"`
	SQLitePath  string `yaml:"sqlitePath"`
	DynamoTable string `yaml:"dynamoTable"`
	S3Bucket    string `yaml:"s3Bucket"`
	S3Prefix    string `yaml:"s3Prefix"`

	CallTimeout      Duration `yaml:"callTimeout"`
	ImageCallTimeout Duration `yaml:"imageCallTimeout"`
	ImageStagger     Duration `yaml:"imageStagger"`
	SlidePause       Duration `yaml:"slidePause"`
	Retries          int      `yaml:"retries"`
	RetryDelay       Duration `yaml:"retryDelay"`

	Addr string `yaml:"addr"`
	// Theme is applied when a request does not name one.
	Theme string `yaml:"theme"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		TextModel:        chat.DefaultTextModel,
		ImageModel:       chat.DefaultImageModel,
		LogLevel:         "info",
		Store:            StoreSQLite,
		SQLitePath:       filepath.Join(home, Dir, "decks.db"),
		S3Prefix:         "decks",
		CallTimeout:      Duration(pipeline.DefaultCallTimeout),
		ImageCallTimeout: Duration(images.DefaultCallTimeout),
		ImageStagger:     Duration(images.DefaultStagger),
		SlidePause:       Duration(pipeline.DefaultSlidePause),
		Retries:          retry.DefaultRetries,
		RetryDelay:       Duration(retry.DefaultInitialDelay),
		Addr:             ":8080",
		Theme:            "clean light",
	}
}

// DefaultPath returns ~/.ai-deck-builder/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, Dir, "config.yaml")
}

// Load resolves the configuration. An empty path means DefaultPath, which
// may be absent; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
			log.Debug().Str("path", path).Msg("Config file loaded")
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.APIKey, "GEMINI_API_KEY")
	setString(&c.TextModel, "DECK_TEXT_MODEL")
	setString(&c.ImageModel, "DECK_IMAGE_MODEL")
	setString(&c.LogLevel, "DECK_LOG_LEVEL")
	setString(&c.Store, "DECK_STORE")
	setString(&c.SQLitePath, "DECK_SQLITE_PATH")
	setString(&c.DynamoTable, "DYNAMO_TABLE_NAME")
	setString(&c.S3Bucket, "DECK_S3_BUCKET")
	setString(&c.S3Prefix, "DECK_S3_PREFIX")
	setString(&c.Addr, "DECK_ADDR")

	for env, dst := range map[string]*Duration{
		"DECK_CALL_TIMEOUT":       &c.CallTimeout,
		"DECK_IMAGE_CALL_TIMEOUT": &c.ImageCallTimeout,
		"DECK_IMAGE_STAGGER":      &c.ImageStagger,
		"DECK_SLIDE_PAUSE":        &c.SlidePause,
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
		*dst = Duration(d)
	}
	if v := os.Getenv("DECK_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DECK_RETRIES: invalid integer %q", v)
		}
		c.Retries = n
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: sqlite store needs sqlitePath")
		}
	case StoreDynamo:
		if c.DynamoTable == "" {
			return errors.New("config: dynamo store needs dynamoTable (DYNAMO_TABLE_NAME)")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown store %q (want sqlite, dynamo or memory)", c.Store)
	}
	if c.Retries < 0 {
		return fmt.Errorf("config: retries must be >= 0, got %d", c.Retries)
	}
	if c.CallTimeout <= 0 || c.ImageCallTimeout <= 0 {
		return errors.New("config: call timeouts must be positive")
	}
	return nil
}

// PipelineOptions maps the timing settings onto builder options. A zero
// slide pause or stagger means none.
func (c Config) PipelineOptions() pipeline.Options {
	policy := retry.Policy{Retries: c.Retries, InitialDelay: c.RetryDelay.Std()}
	pause := c.SlidePause.Std()
	if pause == 0 {
		pause = -1
	}
	return pipeline.Options{
		Retry:       policy,
		SlidePause:  pause,
		CallTimeout: c.CallTimeout.Std(),
		Images: images.Options{
			Stagger:     c.ImageStagger.Std(),
			CallTimeout: c.ImageCallTimeout.Std(),
			Retry:       policy.WithName("image"),
		},
	}
}

// Write saves c as YAML at path, creating the directory. The API key is
// never written.
func Write(path string, c Config) error {
	c.APIKey = ""
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
