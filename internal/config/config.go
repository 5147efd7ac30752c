// Package config resolves runtime settings from flags, TUBEGRAB_* env vars
// and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"tubegrab/internal/dirs"
)

// Keys shared by flags, env vars and the config file.
const (
	KeyDownloadDir    = "download_dir"
	KeyMaxConcurrent  = "max_concurrent"
	KeyFFmpeg         = "ffmpeg"
	KeyNormalizeAudio = "normalize_audio"
	KeyGracePeriod    = "grace_period"
	KeyListen         = "listen"
	KeyLogLevel       = "log_level"
	KeyVerbose        = "verbose"
	KeyCORSOrigins    = "cors_origins"
)

// Settings is the validated runtime configuration.
type Settings struct {
	DownloadDir    string        `mapstructure:"download_dir" validate:"required"`
	MaxConcurrent  int           `mapstructure:"max_concurrent" validate:"min=1,max=64"`
	FFmpegPath     string        `mapstructure:"ffmpeg" validate:"required"`
	NormalizeAudio bool          `mapstructure:"normalize_audio"`
	GracePeriod    time.Duration `mapstructure:"grace_period" validate:"min=0"`
	Listen         string        `mapstructure:"listen" validate:"required"`
	LogLevel       string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Verbose        bool          `mapstructure:"verbose"`
	CORSOrigins    []string      `mapstructure:"-"`
}

// Config wraps a viper instance bound to the CLI's flags.
type Config struct {
	v  *viper.Viper
	fs *pflag.FlagSet
}

// flag name -> key
var flagKeys = map[string]string{
	"out-dir":   KeyDownloadDir,
	"jobs":      KeyMaxConcurrent,
	"ffmpeg":    KeyFFmpeg,
	"verbose":   KeyVerbose,
	"log-level": KeyLogLevel,
	"listen":    KeyListen,
}

// Init sets defaults, env lookup and the config file search path, and binds
// the known flags present in fs. A missing config file is not an error.
func Init(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if out, err := dirs.DefaultOutputDir(); err == nil {
		v.SetDefault(KeyDownloadDir, out)
	}
	v.SetDefault(KeyMaxConcurrent, 5)
	v.SetDefault(KeyFFmpeg, "ffmpeg")
	v.SetDefault(KeyNormalizeAudio, true)
	v.SetDefault(KeyGracePeriod, 3*time.Second)
	v.SetDefault(KeyListen, ":8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyCORSOrigins, "")

	v.SetEnvPrefix("TUBEGRAB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(KeyCORSOrigins, "TUBEGRAB_CORS_ORIGINS", "CORS_ORIGINS"); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}

	c := &Config{v: v, fs: fs}
	if fs != nil {
		if err := c.BindFlags(fs); err != nil {
			return nil, err
		}
	}

	if cfgDir, err := dirs.ConfigDir(); err == nil {
		v.AddConfigPath(cfgDir)
	}
	v.SetConfigName("config") // config.{yaml|yml|json|toml}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}
	return c, nil
}

// BindFlags binds every known flag defined in fs. Subcommands call it for
// their local flags.
func (c *Config) BindFlags(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := c.v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("config: bind --%s: %w", f.Name, bindErr)
		}
	})
	return err
}

// SetConfigFile reads settings from an explicit file instead of the search
// path.
func (c *Config) SetConfigFile(path string) error {
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

// Load returns the merged settings, validated.
func (c *Config) Load() (Settings, error) {
	var s Settings
	if err := c.v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("config: decode: %w", err)
	}
	if c.fs != nil {
		if f := c.fs.Lookup("no-normalize"); f != nil && f.Changed && f.Value.String() == "true" {
			s.NormalizeAudio = false
		}
	}
	if s.Verbose {
		s.LogLevel = "debug"
	}
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	s.FFmpegPath = strings.TrimSpace(s.FFmpegPath)
	s.DownloadDir = strings.TrimSpace(s.DownloadDir)
	s.CORSOrigins = splitList(c.v.GetString(KeyCORSOrigins))

	if err := validator.New().Struct(s); err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
