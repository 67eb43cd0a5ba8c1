package codecadapter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/tvarr/pkg/bytesize"
	"github.com/jmylchreest/tvarr/pkg/duration"
	"github.com/spf13/viper"
)

// Config holds everything needed to build a Core instance from a file or
// environment variables: logging, behavioral quirks, and the backend's
// resource limits. It mirrors the application's viper-based config layer,
// scaled down to this component's concerns.
type Config struct {
	Logging LogConfig    `mapstructure:"logging"`
	Buffer  BufferConfig `mapstructure:"buffer"`
	Quirks  QuirksConfig `mapstructure:"quirks"`
	FFmpeg  FFmpegConfig `mapstructure:"ffmpeg"`
}

// BufferConfig holds buffer sizing knobs, expressed in human-readable sizes
// ("4MB") rather than raw byte counts.
type BufferConfig struct {
	InputBufferSize  ByteSize `mapstructure:"input_buffer_size"`
	OutputBufferSize ByteSize `mapstructure:"output_buffer_size"`
}

// QuirksConfig is the file/env-driven subset of Quirks. Fields not exposed
// here (allocation modes, per-codec flags) are set programmatically by the
// component that knows which backend it is driving.
type QuirksConfig struct {
	CoalesceInputFrames bool          `mapstructure:"coalesce_input_frames"`
	CoalesceWindow      time.Duration `mapstructure:"coalesce_window"`
}

// FFmpegConfig locates the ffmpeg binary driving FFmpegBackend.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = auto-detect
}

// ByteSize is a human-readable size value for mapstructure/viper
// unmarshaling ("4MB", "512KB", or a raw byte count).
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler for viper/YAML.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := bytesize.Parse(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// Bytes returns the size as a plain byte count.
func (b ByteSize) Bytes() int64 { return int64(b) }

const (
	defaultInputBufferSize  = 256 * 1024
	defaultOutputBufferSize = 256 * 1024
	defaultCoalesceWindow   = DefaultCoalesceWindow
)

// LoadConfig reads configuration from an optional file and CODECADAPTER_
// prefixed environment variables, following the application's Load/viper
// convention. An empty configPath searches ./, ./configs, and
// /etc/codecadapterd.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setConfigDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/codecadapterd")
	}

	v.SetEnvPrefix("CODECADAPTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("buffer.input_buffer_size", defaultInputBufferSize)
	v.SetDefault("buffer.output_buffer_size", defaultOutputBufferSize)

	v.SetDefault("quirks.coalesce_input_frames", false)
	v.SetDefault("quirks.coalesce_window", defaultCoalesceWindow)

	v.SetDefault("ffmpeg.binary_path", "")
}

// ParseHumanDuration parses a value like "1h30m", "2d", or "1w" using the
// extended day/week/month/year units the application's config layer
// supports beyond time.ParseDuration.
func ParseHumanDuration(s string) (time.Duration, error) {
	return duration.Parse(s)
}
