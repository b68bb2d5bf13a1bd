/*
Package config provides the engine configuration.

Configuration is read from a YAML file and then overridden by environment
variables with RTMIX prefix, e.g. RTMIX_BUFFER_COUNT or
RTMIX_INGEST_ENDPOINT. Keys are derived from field names, so generic
variables like PATH never leak into the configuration. Values not set in either place keep defaults.
*/
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// ErrConfiguration is returned when required parameter is missing or
// invalid.
var ErrConfiguration = errors.New("configuration error")

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "RTMIX"

// Output kinds.
const (
	OutputPortAudio = "portaudio"
	OutputWav       = "wav"
	OutputDiscard   = "discard"
)

// Ingest kinds.
const (
	IngestWebSocket = "ws"
	IngestUDP       = "udp"
)

// Codecs.
const (
	CodecPCM16 = "pcm16"
	CodecMP3   = "mp3"
	CodecJPEG  = "jpeg"
)

// Config holds all engine configuration.
type Config struct {
	BufferCount int  `yaml:"bufferCount" split_words:"true"`
	Local       bool `yaml:"local" split_words:"true"`
	Connect     bool `yaml:"connect" split_words:"true"`
	Video       bool `yaml:"video" split_words:"true"`

	SampleRate   int     `yaml:"sampleRate" split_words:"true"`
	SampleLength float64 `yaml:"sampleLength" split_words:"true"` // seconds
	Channels     int     `yaml:"channels" split_words:"true"`

	Width                int     `yaml:"width" split_words:"true"`
	Height               int     `yaml:"height" split_words:"true"`
	TargetBitrate        int     `yaml:"targetBitrate" split_words:"true"`
	MaxFrameRate         float64 `yaml:"maxFrameRate" split_words:"true"`
	IntraFrameIntervalUs int     `yaml:"intraFrameIntervalUs" split_words:"true"`

	// Resync is the number of missed deadlines after which cadence
	// realigns to the grid. Zero means BufferCount.
	Resync int `yaml:"resync" split_words:"true"`

	EffectName string       `yaml:"effectName" split_words:"true"`
	Effect     EffectConfig `yaml:"effect"`
	Ingest     IngestConfig `yaml:"ingest"`
	Output     OutputConfig `yaml:"output"`
	Codec      CodecConfig  `yaml:"codec"`

	MetricsAddr string `yaml:"metricsAddr" split_words:"true"`
	LockFile    string `yaml:"lockFile" split_words:"true"`
}

// EffectConfig holds plugin host connection configuration.
type EffectConfig struct {
	Socket     string        `yaml:"socket" split_words:"true"`
	SegmentDir string        `yaml:"segmentDir" split_words:"true"`
	Timeout    time.Duration `yaml:"timeout" split_words:"true"`
}

// IngestConfig holds network ingest configuration.
type IngestConfig struct {
	Kind      string        `yaml:"kind" split_words:"true"`
	Endpoint  string        `yaml:"endpoint" split_words:"true"`
	StreamKey string        `yaml:"streamKey" split_words:"true"`
	Timeout   time.Duration `yaml:"timeout" split_words:"true"`
}

// OutputConfig holds local output configuration.
type OutputConfig struct {
	Kind string `yaml:"kind" split_words:"true"`
	Path string `yaml:"path" split_words:"true"`
}

// CodecConfig holds encoder configuration.
type CodecConfig struct {
	Audio   string `yaml:"audio" split_words:"true"`
	Video   string `yaml:"video" split_words:"true"`
	Quality int    `yaml:"quality" split_words:"true"`
}

// Default returns default configuration: 48kHz stereo in 10ms blocks
// rendered to the default output device.
func Default() Config {
	return Config{
		BufferCount:          4,
		Local:                true,
		SampleRate:           48000,
		SampleLength:         0.01,
		Channels:             2,
		Width:                640,
		Height:               360,
		TargetBitrate:        1_000_000,
		MaxFrameRate:         30,
		IntraFrameIntervalUs: 2_000_000,
		EffectName:           "default",
		Effect: EffectConfig{
			Socket:  "/tmp/rtmix-host.sock",
			Timeout: 5 * time.Second,
		},
		Ingest: IngestConfig{
			Kind:    IngestWebSocket,
			Timeout: 5 * time.Second,
		},
		Output: OutputConfig{
			Kind: OutputPortAudio,
		},
		Codec: CodecConfig{
			Audio:   CodecPCM16,
			Video:   CodecJPEG,
			Quality: 75,
		},
		LockFile: "/tmp/rtmix.lock",
	}
}

// Load reads configuration from the file, if path is not empty, and
// applies environment overrides on top of it. Result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrConfiguration, path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BlockSize returns number of samples per channel in a single block.
func (c Config) BlockSize() int {
	return int(math.Round(float64(c.SampleRate) * c.SampleLength))
}

// AudioInterval returns the audio cadence.
func (c Config) AudioInterval() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.BlockSize()) * time.Second / time.Duration(c.SampleRate)
}

// VideoInterval returns the video cadence.
func (c Config) VideoInterval() time.Duration {
	if c.MaxFrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.MaxFrameRate)
}

// ResyncAfter returns the number of missed deadlines after which cadence
// realigns.
func (c Config) ResyncAfter() int {
	if c.Resync > 0 {
		return c.Resync
	}
	return c.BufferCount
}

// Validate checks all parameters and returns ErrConfiguration that wraps
// every violation.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.BufferCount > 0, "bufferCount must be positive: %d", c.BufferCount)
	check(c.SampleRate > 0, "sampleRate must be positive: %d", c.SampleRate)
	check(c.Channels > 0 && c.Channels <= 8, "channels must be in [1, 8]: %d", c.Channels)
	check(c.Resync >= 0, "resync must not be negative: %d", c.Resync)
	if c.SampleRate > 0 {
		check(validFrameSize(c.BlockSize(), c.SampleRate),
			"sampleLength %vs is not a valid frame duration (2.5, 5, 10, 20, 40, 60, 80, 100, 120 ms)", c.SampleLength)
	}
	check(c.EffectName != "", "effectName is required")
	check(c.Effect.Socket != "", "effect socket is required")
	check(c.Effect.Timeout > 0, "effect timeout must be positive: %v", c.Effect.Timeout)

	switch c.Codec.Audio {
	case CodecPCM16, CodecMP3:
	default:
		errs = append(errs, fmt.Errorf("unknown audio codec %q", c.Codec.Audio))
	}

	if c.Local {
		switch c.Output.Kind {
		case OutputPortAudio, OutputDiscard:
		case OutputWav:
			check(c.Output.Path != "", "output path is required for %s output", OutputWav)
		default:
			errs = append(errs, fmt.Errorf("unknown output kind %q", c.Output.Kind))
		}
	}

	if c.Connect {
		switch c.Ingest.Kind {
		case IngestWebSocket, IngestUDP:
		default:
			errs = append(errs, fmt.Errorf("unknown ingest kind %q", c.Ingest.Kind))
		}
		check(c.Ingest.Endpoint != "", "ingest endpoint is required when connect is enabled")
		check(c.Ingest.Timeout > 0, "ingest timeout must be positive: %v", c.Ingest.Timeout)
	}

	if c.Video {
		check(c.Width > 0 && c.Height > 0, "video size must be positive: %dx%d", c.Width, c.Height)
		check(c.MaxFrameRate > 0, "maxFrameRate must be positive: %v", c.MaxFrameRate)
		check(c.IntraFrameIntervalUs >= 0, "intraFrameIntervalUs must not be negative: %d", c.IntraFrameIntervalUs)
		check(c.Codec.Video == CodecJPEG, "unknown video codec %q", c.Codec.Video)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// validFrameSize reports if block of n samples at rate fs lasts one of the
// frame durations accepted by real-time audio codecs.
func validFrameSize(n, fs int) bool {
	if n < fs/400 {
		return false
	}
	return 400*n == fs || 200*n == fs || 100*n == fs ||
		50*n == fs || 25*n == fs || 50*n == 3*fs ||
		50*n == 4*fs || 50*n == 5*fs || 50*n == 6*fs
}
