package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Source    Source    `yaml:"source"`
	Metadata  Metadata  `yaml:"metadata"`
	Languages Languages `yaml:"languages"`
	Ingestion Ingestion `yaml:"ingestion"`
	Server    Server    `yaml:"server"`
	Output    Output    `yaml:"output"`
}

type Source struct {
	BaseURL           string `yaml:"base_url"`
	PagesBackfill     int    `yaml:"pages_backfill"`
	PagesMaintenance  int    `yaml:"pages_maintenance"`
	BufferThreshold   int    `yaml:"buffer_threshold"`
	DetailConcurrency int    `yaml:"detail_concurrency"`
}

type Metadata struct {
	TMDBBaseURL     string `yaml:"tmdb_base_url"`
	TMDBAPIKeyEnv   string `yaml:"tmdb_api_key_env"`
	CinemetaBaseURL string `yaml:"cinemeta_base_url"`
}

// Languages holds the target languages per kind, consumed by the
// Stremio catalog surface. Empty lists mean no language filtering.
type Languages struct {
	Movies []string `yaml:"movies"`
	Series []string `yaml:"series"`
}

type Ingestion struct {
	IntervalHours int `yaml:"interval_hours"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

// ConfigDir returns the XDG config directory for mediaflow.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "mediaflow")
}

// DataDir returns the XDG data directory for mediaflow.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "mediaflow")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/mediaflow/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'mediaflow init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Source: Source{
			BaseURL:           "https://www.binged.com",
			PagesBackfill:     5,
			PagesMaintenance:  1,
			BufferThreshold:   100,
			DetailConcurrency: 5,
		},
		Metadata: Metadata{
			TMDBBaseURL:     "https://api.themoviedb.org/3",
			TMDBAPIKeyEnv:   "TMDB_API_KEY",
			CinemetaBaseURL: "https://v3-cinemeta.strem.io",
		},
		Ingestion: Ingestion{IntervalHours: 6},
		Server:    Server{Port: 8000},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// TMDBAPIKey reads the TMDB API key from the configured environment variable.
func (c *Config) TMDBAPIKey() string {
	return os.Getenv(c.Metadata.TMDBAPIKeyEnv)
}

// TargetLanguages returns the configured target languages for a kind string.
func (c *Config) TargetLanguages(kind string) []string {
	if kind == "series" {
		return c.Languages.Series
	}
	return c.Languages.Movies
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
