package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/recwake/errors"
)

// EnvPrefix prefixes every environment override: RECWAKE_WAKE_BACKEND=systemd
const EnvPrefix = "RECWAKE"

var (
	mu             sync.Mutex
	globalConfig   *Config
	viperInstance  *viper.Viper
	explicitConfig string
	activeFiles    []string

	// ConfigSources records which file supplied each key during the last load.
	ConfigSources = map[string]SourceInfo{}
)

// SetConfigFile pins loading to a single file (the --config flag). System,
// user and project files are then ignored.
func SetConfigFile(path string) {
	mu.Lock()
	defer mu.Unlock()
	explicitConfig = path
	globalConfig = nil
	viperInstance = nil
}

// Load reads the configuration using Viper, caching the result until Reset.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v, err := initViper()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	globalConfig = cfg
	return globalConfig, nil
}

// LoadWithViper decodes a Config from a prepared Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path over the
// defaults, without environment overrides.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	return LoadWithViper(v)
}

// Reset clears the cached configuration so the next Load rereads files.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
}

// GetViper returns the Viper instance backing the current configuration.
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	v, err := initViper()
	if err != nil {
		return viper.New()
	}
	return v
}

// ActiveFiles returns the config files merged by the last load, lowest
// precedence first.
func ActiveFiles() []string {
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), activeFiles...)
}

// UserConfigDir returns ~/.recwake
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recwake"
	}
	return filepath.Join(home, ".recwake")
}

// UserConfigPath returns ~/.recwake/am.toml
func UserConfigPath() string {
	return filepath.Join(UserConfigDir(), "am.toml")
}

// initViper must be called with mu held.
func initViper() (*viper.Viper, error) {
	if viperInstance != nil {
		return viperInstance, nil
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindEnvVars(v)
	SetDefaults(v)

	ConfigSources = map[string]SourceInfo{}
	activeFiles = nil

	if explicitConfig != "" {
		if err := mergeFile(v, explicitConfig, SourceExplicit); err != nil {
			return nil, err
		}
	} else {
		mergeConfigFiles(v)
	}

	viperInstance = v
	return v, nil
}

// findProjectConfig walks up from the working directory looking for am.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(dir, "am.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges config files in precedence order
// (lowest to highest): system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	candidates := []struct {
		path   string
		source ConfigSource
	}{
		{"/etc/recwake/am.toml", SourceSystem},
		{UserConfigPath(), SourceUser},
	}
	if p := findProjectConfig(); p != "" && p != UserConfigPath() {
		candidates = append(candidates, struct {
			path   string
			source ConfigSource
		}{p, SourceProject})
	}

	for _, c := range candidates {
		if _, err := os.Stat(c.path); err != nil {
			continue
		}
		// unreadable optional files are skipped, an explicit --config is not
		_ = mergeFile(v, c.path, c.source)
	}
}

func mergeFile(v *viper.Viper, path string, source ConfigSource) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	tmp.SetConfigType("toml")
	if err := tmp.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	// merged below the env layer, so RECWAKE_* still wins
	if err := v.MergeConfigMap(tmp.AllSettings()); err != nil {
		return errors.Wrapf(err, "failed to merge config file %s", path)
	}
	for _, key := range tmp.AllKeys() {
		ConfigSources[key] = SourceInfo{Source: source, Path: path}
	}
	activeFiles = append(activeFiles, path)
	return nil
}
