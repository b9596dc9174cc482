package core

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	BackendSoftware = "software"
	BackendVulkan   = "vulkan"
)

type LogConfig struct {
	Level  string `toml:"level"`
	Prefix string `toml:"prefix"`
}

type RendererConfig struct {
	// Backend is either "software" or "vulkan".
	Backend string `toml:"backend"`
	// FramesInFlight bounds how many frames the CPU may record ahead of the GPU.
	FramesInFlight int `toml:"frames_in_flight"`
	// Queues lists the submission queues to create besides the copy queue:
	// "graphics" and/or "compute".
	Queues []string `toml:"queues"`
}

type VulkanConfig struct {
	ApplicationName string `toml:"application_name"`
	Validation      bool   `toml:"validation"`
}

type AssetsConfig struct {
	Dir     string `toml:"dir"`
	Watch   bool   `toml:"watch"`
	Workers int    `toml:"workers"`
}

type Config struct {
	Log      LogConfig      `toml:"log"`
	Renderer RendererConfig `toml:"renderer"`
	Vulkan   VulkanConfig   `toml:"vulkan"`
	Assets   AssetsConfig   `toml:"assets"`
}

func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Prefix: "Kiln 🔥 ",
		},
		Renderer: RendererConfig{
			Backend:        BackendSoftware,
			FramesInFlight: 3,
			Queues:         []string{"graphics", "compute"},
		},
		Vulkan: VulkanConfig{
			ApplicationName: "kiln",
			Validation:      false,
		},
		Assets: AssetsConfig{
			Dir:     "assets",
			Watch:   true,
			Workers: 2,
		},
	}
}

// LoadConfig applies the TOML file at path on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	// the default queue list only applies when the file leaves queues unset
	cfg.Renderer.Queues = nil
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Renderer.Queues == nil {
		cfg.Renderer.Queues = DefaultConfig().Renderer.Queues
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Renderer.Backend {
	case BackendSoftware, BackendVulkan:
	default:
		return fmt.Errorf("%w: unknown renderer backend %q", ErrInvalidConfig, c.Renderer.Backend)
	}
	if c.Renderer.FramesInFlight < 1 {
		return fmt.Errorf("%w: frames_in_flight must be at least 1, got %d", ErrInvalidConfig, c.Renderer.FramesInFlight)
	}
	for _, q := range c.Renderer.Queues {
		if q != "graphics" && q != "compute" {
			return fmt.Errorf("%w: unknown queue kind %q", ErrInvalidConfig, q)
		}
	}
	if c.Assets.Workers < 1 {
		return fmt.Errorf("%w: assets.workers must be at least 1, got %d", ErrInvalidConfig, c.Assets.Workers)
	}
	return nil
}

// Apply pushes the logging section into the process logger.
func (c Config) Apply() error {
	if err := SetLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Log.Prefix != "" {
		SetLogPrefix(c.Log.Prefix)
	}
	return nil
}
