package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvConfigPath names the environment variable that selects the config file.
	EnvConfigPath     = "BOONER_CONFIG"
	DefaultConfigPath = "configs/config.yaml"
)

// ResolvePath picks the config file: explicit flag, then BOONER_CONFIG, then the default.
func ResolvePath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load reads path and every file it includes. Included files are merged
// first, so the including file wins on conflicting keys.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	l := &loader{merged: viper.New(), done: make(map[string]bool), active: make(map[string]bool)}
	l.merged.SetConfigType("yaml")
	if err := l.load(abs); err != nil {
		return nil, err
	}
	return decode(l.merged)
}

// Default returns a validated configuration built from defaults only.
func Default() (*Config, error) {
	return decode(viper.New())
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	explicit := make(keySet)
	for _, key := range v.AllKeys() {
		explicit.mark(key)
	}
	cfg.applyDefaults(explicit)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loader walks the include graph depth first. done holds merged files,
// active the files on the current include path.
type loader struct {
	merged *viper.Viper
	done   map[string]bool
	active map[string]bool
}

func (l *loader) load(path string) error {
	path = filepath.Clean(path)
	if l.active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if l.done[path] {
		return nil
	}
	file := viper.New()
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	l.active[path] = true
	for _, inc := range file.GetStringSlice("include") {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := l.load(inc); err != nil {
			return err
		}
	}
	delete(l.active, path)
	l.done[path] = true
	settings := file.AllSettings()
	delete(settings, "include")
	return l.merged.MergeConfigMap(settings)
}
