package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Engine   EngineConfig `mapstructure:"engine"`
	Audio    AudioConfig  `mapstructure:"audio"`
	Say      SayConfig    `mapstructure:"say"`
	LogLevel string       `mapstructure:"log_level"`
}

type EngineConfig struct {
	LibraryPath string `mapstructure:"library_path"`
	Voice       string `mapstructure:"voice"`
	WakeQuirk   bool   `mapstructure:"wake_quirk"`
}

type AudioConfig struct {
	TrimSilence bool `mapstructure:"trim_silence"`
	PauseFactor int  `mapstructure:"pause_factor"`
	MaxLeadMs   int  `mapstructure:"max_lead_ms"`
}

type SayConfig struct {
	Sink       string `mapstructure:"sink"`
	Output     string `mapstructure:"output"`
	SampleRate int    `mapstructure:"sample_rate"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			LibraryPath: "softvoice.dll",
			Voice:       "",
			WakeQuirk:   false,
		},
		Audio: AudioConfig{
			TrimSilence: false,
			PauseFactor: 50,
			MaxLeadMs:   2000,
		},
		Say: SayConfig{
			Sink:       SinkFile,
			Output:     "out.wav",
			SampleRate: 0,
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("engine-library-path", defaults.Engine.LibraryPath, "Path to the speech engine shared library")
	fs.String("library", defaults.Engine.LibraryPath, "Path to the speech engine shared library (alias for --engine-library-path)")
	fs.String("engine-voice", defaults.Engine.Voice, "Initial voice name")
	fs.Bool("engine-wake-quirk", defaults.Engine.WakeQuirk, "Nudge personality away from zero before resetting it")
	fs.Bool("audio-trim-silence", defaults.Audio.TrimSilence, "Trim leading and trailing silence from each utterance")
	fs.Int("audio-pause-factor", defaults.Audio.PauseFactor, "Pause factor 0-100 scaling the silence-trim windows")
	fs.Int("audio-max-lead-ms", defaults.Audio.MaxLeadMs, "Maximum milliseconds of audio lead before pacing")
	fs.String("say-sink", defaults.Say.Sink, "Where to send audio: file or play")
	fs.String("say-output", defaults.Say.Output, "Output WAV path when the sink is file")
	fs.Int("say-sample-rate", defaults.Say.SampleRate, "Resample output to this rate (0 keeps the engine rate)")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("SOFTVOICE")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("engine.library_path", "SOFTVOICE_ENGINE_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind engine env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("softvoice")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if opts.Cmd != nil {
		if f := opts.Cmd.Flags().Lookup("library"); f != nil && f.Changed {
			cfg.Engine.LibraryPath = f.Value.String()
		}
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("engine.library_path", c.Engine.LibraryPath)
	v.SetDefault("engine.voice", c.Engine.Voice)
	v.SetDefault("engine.wake_quirk", c.Engine.WakeQuirk)
	v.SetDefault("audio.trim_silence", c.Audio.TrimSilence)
	v.SetDefault("audio.pause_factor", c.Audio.PauseFactor)
	v.SetDefault("audio.max_lead_ms", c.Audio.MaxLeadMs)
	v.SetDefault("say.sink", c.Say.Sink)
	v.SetDefault("say.output", c.Say.Output)
	v.SetDefault("say.sample_rate", c.Say.SampleRate)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	// Only one alias per key: viper keeps the last registration, so the
	// --library shorthand is resolved separately in Load.
	v.RegisterAlias("engine.library_path", "engine-library-path")
	v.RegisterAlias("engine.voice", "engine-voice")
	v.RegisterAlias("engine.wake_quirk", "engine-wake-quirk")
	v.RegisterAlias("audio.trim_silence", "audio-trim-silence")
	v.RegisterAlias("audio.pause_factor", "audio-pause-factor")
	v.RegisterAlias("audio.max_lead_ms", "audio-max-lead-ms")
	v.RegisterAlias("say.sink", "say-sink")
	v.RegisterAlias("say.output", "say-output")
	v.RegisterAlias("say.sample_rate", "say-sample-rate")
	v.RegisterAlias("log_level", "log-level")
}
