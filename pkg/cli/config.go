package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.duck-sandbox/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile" json:"current_profile"`
	Profiles       map[string]Profile `yaml:"profiles" json:"profiles"`
}

// Profile represents a single named configuration profile.
type Profile struct {
	Host   string `yaml:"host,omitempty" json:"host,omitempty"`
	APIKey string `yaml:"api-key,omitempty" json:"api_key,omitempty"`
	Token  string `yaml:"token,omitempty" json:"token,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// ActiveProfile returns the override profile, or the current one when
// override is empty. Naming a profile that does not exist is an error; a
// missing current profile yields an empty Profile.
func (c *UserConfig) ActiveProfile(override string) (Profile, error) {
	if override != "" {
		p, ok := c.Profiles[override]
		if !ok {
			return Profile{}, fmt.Errorf("profile %q not found", override)
		}
		return p, nil
	}
	return c.Profiles[c.CurrentProfile], nil
}

// activeName is the profile commands that write config update.
func (c *UserConfig) activeName() string {
	if c.CurrentProfile == "" {
		return "default"
	}
	return c.CurrentProfile
}

// ConfigDir returns the path to ~/.duck-sandbox/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".duck-sandbox")
}

// ConfigPath returns the path to ~/.duck-sandbox/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads the config file.
func LoadUserConfig() (*UserConfig, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// loadOrNewUserConfig is LoadUserConfig with an empty config when there is
// no file yet.
func loadOrNewUserConfig() *UserConfig {
	cfg, err := LoadUserConfig()
	if err != nil {
		return &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
	}
	return cfg
}

// SaveUserConfig writes the config file, creating its directory.
func SaveUserConfig(cfg *UserConfig) error {
	if err := os.MkdirAll(ConfigDir(), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}
