package strategy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"booner/internal/logger"
	"booner/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var log = logger.For("strategy")

const settingsSchema = `{
  "type": "object",
  "properties": {
    "weekly_close": {
      "type": "object",
      "properties": {
        "weekday": {"type": "string"},
        "time": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"},
        "lead_minutes": {"type": "integer", "minimum": 0}
      }
    },
    "strategies": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["stop_loss_pct", "take_profit_pct"],
        "properties": {
          "intraday": {"type": "boolean"},
          "stop_loss_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 50},
          "take_profit_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
          "weekly_close": {"type": "boolean"},
          "daily_close": {
            "type": "object",
            "required": ["start", "end"],
            "properties": {
              "start": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"},
              "end": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"}
            }
          },
          "default_weights": {
            "type": "object",
            "minProperties": 2,
            "maxProperties": 20,
            "additionalProperties": {"type": "number", "minimum": 0}
          }
        }
      }
    }
  },
  "required": ["strategies"]
}`

var compiledSchema = mustCompileSchema(settingsSchema)

// Snapshot is an immutable view of the loaded settings.
type Snapshot struct {
	Version     int64
	LoadedAt    time.Time
	WeeklyClose WeeklyClose
	Strategies  map[string]Settings
}

// ChangeListener is called after a successful reload.
type ChangeListener func(Snapshot)

// Registry serves strategy settings and reloads them when the file changes.
type Registry struct {
	path string

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry loads path and watches it. A missing file falls back to the
// built-in defaults without watching.
func NewRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewStaticRegistry(DefaultFileConfig())
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warnf("settings file %s not found, using built-in defaults", path)
		return NewStaticRegistry(DefaultFileConfig())
	}
	r := &Registry{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy settings failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			log.Errorf("reload failed, keeping version %d: %v", r.Snapshot().Version, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// NewStaticRegistry serves cfg without a backing file.
func NewStaticRegistry(cfg FileConfig) (*Registry, error) {
	r := &Registry{}
	if err := r.apply(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// OnChange registers fn to run after every reload.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Lookup returns the settings for a strategy tag.
func (r *Registry) Lookup(tag string) (Settings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshot.Strategies[types.NormalizeStrategy(tag)]
	return s, ok
}

// Resolve returns the settings for tag, falling back to the day trading entry
// and then to the built-in defaults.
func (r *Registry) Resolve(tag string) Settings {
	if s, ok := r.Lookup(tag); ok {
		return s
	}
	if s, ok := r.Lookup(types.StrategyDayTrading); ok {
		return s
	}
	s := DefaultFileConfig().Strategies[types.StrategyDayTrading]
	s.Name = types.StrategyDayTrading
	return s
}

func (r *Registry) WeeklyClose() WeeklyClose {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.WeeklyClose
}

func (r *Registry) reload() error {
	cfg, err := readSettingsFile(r.path)
	if err != nil {
		return err
	}
	if err := r.apply(cfg); err != nil {
		return err
	}
	log.Infof("loaded %d strategies from %s", len(cfg.Strategies), filepath.Base(r.path))
	return nil
}

func (r *Registry) apply(cfg FileConfig) error {
	strategies := make(map[string]Settings, len(cfg.Strategies))
	for name, s := range cfg.Strategies {
		key := types.NormalizeStrategy(name)
		s.Name = key
		if s.DailyClose != nil {
			if _, err := parseClock(s.DailyClose.Start); err != nil {
				return fmt.Errorf("strategy %s daily_close: %w", key, err)
			}
			if _, err := parseClock(s.DailyClose.End); err != nil {
				return fmt.Errorf("strategy %s daily_close: %w", key, err)
			}
		}
		strategies[key] = s
	}
	weekly := cfg.WeeklyClose
	if strings.TrimSpace(weekly.Weekday) == "" {
		weekly = DefaultFileConfig().WeeklyClose
	}
	if _, ok := parseWeekday(weekly.Weekday); !ok {
		return fmt.Errorf("weekly_close.weekday %q is not a weekday", weekly.Weekday)
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:     r.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		WeeklyClose: weekly,
		Strategies:  strategies,
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("strategy listener")
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := src
	dst.Strategies = make(map[string]Settings, len(src.Strategies))
	for k, v := range src.Strategies {
		dst.Strategies[k] = v
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		log.Errorf("%s panic: %v", tag, r)
	}
}

func mustCompileSchema(src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("strategies.json", strings.NewReader(src)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("strategies.json")
}

// readSettingsFile validates the document against the schema, then decodes it
// strictly so unknown keys fail the load.
func readSettingsFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read strategy settings failed: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return FileConfig{}, fmt.Errorf("parse strategy settings failed: %w", err)
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return FileConfig{}, fmt.Errorf("convert strategy settings failed: %w", err)
	}
	var doc any
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return FileConfig{}, fmt.Errorf("convert strategy settings failed: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return FileConfig{}, fmt.Errorf("strategy settings invalid: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse strategy settings failed: %w", err)
	}
	return cfg, nil
}
