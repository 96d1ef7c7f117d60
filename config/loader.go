package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "STORYLOOM_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// searchPaths are tried in order when no config file is given.
var searchPaths = []string{
	"storyloom.yaml",
	"config.yaml",
	"config.yml",
	"config.json",
	"configs/storyloom.yaml",
	"/etc/storyloom/config.yaml",
}

// Loader merges defaults, a config file, STORYLOOM_ environment variables
// and explicit overrides, in increasing priority.
type Loader struct {
	k *koanf.Koanf

	// source is the file the last Load read, if any.
	source string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load builds a validated Config. An empty configPath searches the
// standard locations and silently continues without a file.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	l.k = koanf.New(Delimiter)
	l.source = ""

	defaults := flatten(DefaultConfig())
	if err := l.k.Load(confmap.Provider(defaults, Delimiter), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path := configPath
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := l.loadFile(path); err != nil {
			if configPath != "" {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		} else {
			l.source = path
		}
	}

	if err := l.k.Load(env.Provider(EnvPrefix, Delimiter, envKeyMapper(defaults)), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	// A file section replaces the whole default subtree, so keys it does
	// not mention are restored here.
	for key, value := range defaults {
		if l.k.Exists(key) {
			continue
		}
		if err := l.k.Set(key, value); err != nil {
			return nil, fmt.Errorf("restore default %s: %w", key, err)
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Source returns the config file read by the last Load, or "".
func (l *Loader) Source() string {
	return l.source
}

func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format %q", ext)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return l.k.Load(file.Provider(path), parser)
}

func findConfigFile() string {
	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKeyMapper resolves STORYLOOM_RANKING_SIMILARITY_WEIGHT to
// ranking.similarity_weight. Underscores are ambiguous, so names are looked
// up in the known key set first.
func envKeyMapper(known map[string]interface{}) func(string) string {
	byEnv := make(map[string]string, len(known))
	for key := range known {
		byEnv[strings.ReplaceAll(key, Delimiter, "_")] = key
	}
	return func(s string) string {
		name := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		if key, ok := byEnv[name]; ok {
			return key
		}
		return strings.Replace(name, "_", Delimiter, 1)
	}
}

// Get returns the raw value at a dotted key.
func (l *Loader) Get(key string) interface{} {
	return l.k.Get(key)
}

// GetString returns the string at a dotted key.
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// GetInt returns the int at a dotted key.
func (l *Loader) GetInt(key string) int {
	return l.k.Int(key)
}

// flatten walks a struct by its mapstructure tags and returns the leaf
// values under dotted keys. Empty maps are left out.
func flatten(v interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	walk(reflect.ValueOf(v), "", out)
	return out
}

func walk(val reflect.Value, prefix string, out map[string]interface{}) {
	for val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + Delimiter + tag
		}

		fv := val.Field(i)
		switch fv.Kind() {
		case reflect.Struct, reflect.Ptr:
			walk(fv, key, out)
		case reflect.Map:
			if fv.Len() > 0 {
				out[key] = fv.Interface()
			}
		case reflect.Slice:
			items := make([]interface{}, fv.Len())
			for j := range items {
				items[j] = fv.Index(j).Interface()
			}
			out[key] = items
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			// time.Duration lands here as nanoseconds.
			out[key] = fv.Int()
		default:
			out[key] = fv.Interface()
		}
	}
}

// Load is a convenience function to load configuration.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}
