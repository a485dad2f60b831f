// ABOUTME: YAML configuration for the receiver and sender binaries
// ABOUTME: Every field is range-checked before any component is constructed
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AudioBridge-Protocol/audiobridge-go/internal/audio"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/fec"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/jitter"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/output"
)

// Config is the full configuration surface. Zero values are replaced by
// defaults during Load; Validate rejects anything outside the supported
// ranges before construction starts.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	SendAddr   string `yaml:"send_addr"`
	StatsAddr  string `yaml:"stats_addr"`

	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BlockSize  int    `yaml:"block_size"`
	Codec      string `yaml:"codec"` // opus | pcm
	Sink       string `yaml:"sink"`  // oto | mock

	EnableQoS bool `yaml:"enable_qos"`
	EnableFEC bool `yaml:"enable_fec"`

	Jitter JitterConfig `yaml:"jitter"`
	FEC    FECConfig    `yaml:"fec"`
}

// JitterConfig mirrors the adaptive buffer settings. The update interval
// is in milliseconds so it reads naturally in the file.
type JitterConfig struct {
	MinCapacity      int     `yaml:"min_capacity"`
	MaxCapacity      int     `yaml:"max_capacity"`
	DefaultCapacity  int     `yaml:"default_capacity"`
	AdaptationRate   float64 `yaml:"adaptation_rate"`
	UpdateIntervalMs int     `yaml:"update_interval_ms"`
}

// FECConfig mirrors the encoder settings; the decoder shares the recovery
// distance.
type FECConfig struct {
	RedundancyPct       float64 `yaml:"redundancy_pct"`
	WindowSize          int     `yaml:"window_size"`
	MaxRecoveryDistance int     `yaml:"max_recovery_distance"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	jc := jitter.DefaultConfig()
	fc := fec.DefaultEncoderConfig()
	return Config{
		ListenAddr: ":4810",
		SendAddr:   "127.0.0.1:4810",
		StatsAddr:  ":4811",
		SampleRate: audio.SampleRate,
		Channels:   2,
		BlockSize:  audio.FrameSamplesPerChannel,
		Codec:      "opus",
		Sink:       "oto",
		EnableQoS:  true,
		EnableFEC:  true,
		Jitter: JitterConfig{
			MinCapacity:      jc.MinCapacity,
			MaxCapacity:      jc.MaxCapacity,
			DefaultCapacity:  jc.DefaultCapacity,
			AdaptationRate:   jc.AdaptationRate,
			UpdateIntervalMs: int(jc.UpdateInterval / time.Millisecond),
		},
		FEC: FECConfig{
			RedundancyPct:       fc.RedundancyPct,
			WindowSize:          fc.WindowSize,
			MaxRecoveryDistance: fc.MaxRecoveryDistance,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every range. It returns the first violation found.
func (c Config) Validate() error {
	if c.SampleRate != audio.SampleRate {
		return fmt.Errorf("sample rate must be %d, got %d", audio.SampleRate, c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if err := output.ValidateBlockSize(c.BlockSize); err != nil {
		return err
	}
	switch c.Codec {
	case "opus", "pcm":
	default:
		return fmt.Errorf("unsupported codec: %q", c.Codec)
	}
	switch c.Sink {
	case "oto", "mock":
	default:
		return fmt.Errorf("unsupported sink: %q", c.Sink)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}

	if c.Jitter.MinCapacity < jitter.MinCapacity || c.Jitter.MaxCapacity > jitter.MaxCapacity {
		return fmt.Errorf("jitter capacity bounds [%d, %d] outside [%d, %d]",
			c.Jitter.MinCapacity, c.Jitter.MaxCapacity, jitter.MinCapacity, jitter.MaxCapacity)
	}
	if c.Jitter.MinCapacity > c.Jitter.MaxCapacity {
		return fmt.Errorf("jitter min_capacity %d above max_capacity %d",
			c.Jitter.MinCapacity, c.Jitter.MaxCapacity)
	}
	if c.Jitter.DefaultCapacity < c.Jitter.MinCapacity || c.Jitter.DefaultCapacity > c.Jitter.MaxCapacity {
		return fmt.Errorf("jitter default_capacity %d outside [%d, %d]",
			c.Jitter.DefaultCapacity, c.Jitter.MinCapacity, c.Jitter.MaxCapacity)
	}
	if c.Jitter.AdaptationRate < 0 || c.Jitter.AdaptationRate > 1 {
		return fmt.Errorf("jitter adaptation_rate %v outside [0, 1]", c.Jitter.AdaptationRate)
	}
	if c.Jitter.UpdateIntervalMs < 1 {
		return fmt.Errorf("jitter update_interval_ms must be positive, got %d",
			c.Jitter.UpdateIntervalMs)
	}

	if c.FEC.RedundancyPct < 0 || c.FEC.RedundancyPct > fec.MaxRedundancyPct {
		return fmt.Errorf("fec redundancy_pct %v outside [0, %v]",
			c.FEC.RedundancyPct, float64(fec.MaxRedundancyPct))
	}
	if c.FEC.WindowSize < 1 || c.FEC.WindowSize > fec.MaxWindowSize {
		return fmt.Errorf("fec window_size %d outside [1, %d]", c.FEC.WindowSize, fec.MaxWindowSize)
	}
	if c.FEC.MaxRecoveryDistance < 1 {
		return fmt.Errorf("fec max_recovery_distance must be positive, got %d",
			c.FEC.MaxRecoveryDistance)
	}
	return nil
}

// JitterSettings converts the file representation into the buffer config.
func (c Config) JitterSettings() jitter.Config {
	jc := jitter.DefaultConfig()
	jc.MinCapacity = c.Jitter.MinCapacity
	jc.MaxCapacity = c.Jitter.MaxCapacity
	jc.DefaultCapacity = c.Jitter.DefaultCapacity
	jc.AdaptationRate = c.Jitter.AdaptationRate
	jc.UpdateInterval = time.Duration(c.Jitter.UpdateIntervalMs) * time.Millisecond
	return jc
}

// FECSettings converts the file representation into the encoder config.
func (c Config) FECSettings() fec.EncoderConfig {
	return fec.EncoderConfig{
		RedundancyPct:       c.FEC.RedundancyPct,
		WindowSize:          c.FEC.WindowSize,
		MaxRecoveryDistance: c.FEC.MaxRecoveryDistance,
	}
}
