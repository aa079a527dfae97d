package repo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the section -> key -> value document persisted at
// .dotgit/config. Sections and keys are both case-sensitive strings;
// values are stored as strings, the CLI is responsible for any further
// typed parsing (e.g. "true"/"false" for booleans).
type Config struct {
	Sections map[string]map[string]string
}

func defaultConfig() *Config {
	return &Config{Sections: map[string]map[string]string{
		"core":   {"compression": "true"},
		"user":   {"name": "", "email": ""},
		"branch": {"default": "main"},
		"merge":  {},
		"diff":   {"context": "3", "color": "false"},
	}}
}

func (r *Repo) configPath() string {
	return filepath.Join(r.GotDir, "config")
}

// compressionEnabled reports whether core.compression is on, defaulting to
// true (matching defaultConfig) when the key is absent or unparsable.
func compressionEnabled(cfg *Config) bool {
	v, ok := cfg.Sections["core"]["compression"]
	if !ok {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return enabled
}

// tomlConfigDoc mirrors Config.Sections for (un)marshaling, since TOML
// requires a concrete nested map type rather than our zero-value-aware
// wrapper.
type tomlConfigDoc map[string]map[string]string

// ReadConfig reads .dotgit/config. A missing file returns the defaults
// synthesized on first load, per the configuration store's contract.
func (r *Repo) ReadConfig() (*Config, error) {
	data, err := os.ReadFile(r.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var doc tomlConfigDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("read config: unmarshal: %w", err)
	}

	cfg := defaultConfig()
	for section, kv := range doc {
		if cfg.Sections[section] == nil {
			cfg.Sections[section] = make(map[string]string)
		}
		for k, v := range kv {
			cfg.Sections[section][k] = v
		}
	}
	return cfg, nil
}

// WriteConfig atomically writes .dotgit/config as TOML.
func (r *Repo) WriteConfig(cfg *Config) error {
	if cfg == nil {
		cfg = defaultConfig()
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(tomlConfigDoc(cfg.Sections)); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}

	tmp, err := os.CreateTemp(r.GotDir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, r.configPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}

// GetConfig returns the value at section.key, and whether it was set.
func (r *Repo) GetConfig(section, key string) (string, bool, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return "", false, err
	}
	kv, ok := cfg.Sections[section]
	if !ok {
		return "", false, nil
	}
	v, ok := kv[key]
	return v, ok, nil
}

// SetConfig sets section.key = value, creating the section if needed.
func (r *Repo) SetConfig(section, key, value string) error {
	section = strings.TrimSpace(section)
	key = strings.TrimSpace(key)
	if section == "" || key == "" {
		return fmt.Errorf("set config: section and key are required")
	}

	cfg, err := r.ReadConfig()
	if err != nil {
		return err
	}
	if cfg.Sections[section] == nil {
		cfg.Sections[section] = make(map[string]string)
	}
	cfg.Sections[section][key] = value
	return r.WriteConfig(cfg)
}

// UnsetConfig removes section.key. If the section becomes empty, the
// section itself is removed from the in-memory map before the next save.
func (r *Repo) UnsetConfig(section, key string) error {
	cfg, err := r.ReadConfig()
	if err != nil {
		return err
	}
	kv, ok := cfg.Sections[section]
	if !ok {
		return nil
	}
	delete(kv, key)
	if len(kv) == 0 {
		delete(cfg.Sections, section)
	}
	return r.WriteConfig(cfg)
}

// ListConfig returns every "section.key=value" pair in stable order.
func (r *Repo) ListConfig() ([]string, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return nil, err
	}
	var lines []string
	for section, kv := range cfg.Sections {
		for key, val := range kv {
			lines = append(lines, fmt.Sprintf("%s.%s=%s", section, key, val))
		}
	}
	sort.Strings(lines)
	return lines, nil
}
