package dupwalk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-ini/ini"
)

// Config represents the dupwalk configuration stored in .duplicate_info/config
type Config struct {
	configPath string
	ini        *ini.File
}

// HashConfig represents hash algorithm configuration
type HashConfig struct {
	Default string // Default hash algorithm
}

// OutputConfig represents output format configuration
type OutputConfig struct {
	Format string // human, json, fdupes
}

// VerboseConfig represents verbosity configuration
type VerboseConfig struct {
	Level int    // 0=quiet, 1=basic, 2=detailed, 3=trace
	Debug string // comma-separated debug flags
}

// LogConfig selects the slog handler
type LogConfig struct {
	Format string // text or json
}

// PerformanceConfig represents pool sizing and throughput configuration
type PerformanceConfig struct {
	IOWorkers            int    // 0 selects max(1, NumCPU-1)
	OrchestrationWorkers int    // 0 selects max(1, NumCPU-1)
	HashBuffer           string // read chunk size, e.g. "1MiB"
	MaxInFlightFolders   int
}

// StateConfig selects the persistence backend and save cadence
type StateConfig struct {
	Backend      string // file or sqlite
	SaveInterval time.Duration
}

// WatchConfig configures watch mode
type WatchConfig struct {
	Debounce time.Duration
}

// AllConfig represents all configuration options
type AllConfig struct {
	Hash        *HashConfig
	Output      *OutputConfig
	Verbose     *VerboseConfig
	Log         *LogConfig
	Performance *PerformanceConfig
	State       *StateConfig
	Watch       *WatchConfig
}

// configDefaults lists every section and key written into a fresh config file
var configDefaults = []struct {
	section string
	keys    [][2]string
}{
	{"filehash", [][2]string{{"default", "sha256"}}},
	{"performance", [][2]string{
		{"io_workers", "0"},
		{"orchestration_workers", "0"},
		{"hash_buffer", DefaultHashBuffer},
		{"max_inflight_folders", fmt.Sprint(DefaultMaxInFlightFolders)},
	}},
	{"state", [][2]string{{"backend", DefaultStateBackend}, {"save_interval", DefaultSaveInterval}}},
	{"watch", [][2]string{{"debounce", DefaultDebounce}}},
	{"output", [][2]string{{"format", "human"}}},
	{"verbose", [][2]string{{"level", "0"}, {"debug", ""}}},
	{"log", [][2]string{{"format", "text"}}},
}

// overrideKeys maps a command-line override key onto its section and key
var overrideKeys = map[string][2]string{
	"default":               {"filehash", "default"},
	"io_workers":            {"performance", "io_workers"},
	"orchestration_workers": {"performance", "orchestration_workers"},
	"hash_buffer":           {"performance", "hash_buffer"},
	"max_inflight_folders":  {"performance", "max_inflight_folders"},
	"backend":               {"state", "backend"},
	"save_interval":         {"state", "save_interval"},
	"debounce":              {"watch", "debounce"},
	"format":                {"output", "format"},
	"level":                 {"verbose", "level"},
	"debug":                 {"verbose", "debug"},
	"log_format":            {"log", "format"},
}

// LoadConfig loads configuration from stateDir/config, writing defaults on first use
func LoadConfig(stateDir string) (*Config, error) {
	configPath := filepath.Join(stateDir, ConfigFile)

	cfg := &Config{
		configPath: configPath,
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.ini = ini.Empty()
		if err := cfg.setDefaults(); err != nil {
			return nil, fmt.Errorf("failed to set default config: %w", err)
		}
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	} else {
		iniFile, err := ini.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg.ini = iniFile
	}

	return cfg, nil
}

// DefaultConfig returns an in-memory config holding only defaults; nothing is written
func DefaultConfig() *Config {
	cfg := &Config{ini: ini.Empty()}
	if err := cfg.setDefaults(); err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) setDefaults() error {
	for _, def := range configDefaults {
		section, err := c.ini.NewSection(def.section)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", def.section, err)
		}
		for _, kv := range def.keys {
			if _, err := section.NewKey(kv[0], kv[1]); err != nil {
				return fmt.Errorf("failed to set default %s.%s: %w", def.section, kv[0], err)
			}
		}
	}
	return nil
}

// value returns section.key or fallback when either is missing or empty
func (c *Config) value(section, key, fallback string) string {
	if !c.ini.HasSection(section) {
		return fallback
	}
	s := c.ini.Section(section)
	if !s.HasKey(key) {
		return fallback
	}
	if v := strings.TrimSpace(s.Key(key).String()); v != "" {
		return v
	}
	return fallback
}

func (c *Config) intValue(section, key string, fallback int) int {
	if !c.ini.HasSection(section) || !c.ini.Section(section).HasKey(key) {
		return fallback
	}
	if v, err := c.ini.Section(section).Key(key).Int(); err == nil {
		return v
	}
	return fallback
}

func (c *Config) durationValue(section, key string, fallback time.Duration) time.Duration {
	if !c.ini.HasSection(section) || !c.ini.Section(section).HasKey(key) {
		return fallback
	}
	if v, err := c.ini.Section(section).Key(key).Duration(); err == nil {
		return v
	}
	return fallback
}

// GetHashConfig returns the hash configuration
func (c *Config) GetHashConfig() *HashConfig {
	return &HashConfig{Default: c.value("filehash", "default", "sha256")}
}

// GetOutputConfig returns the output configuration
func (c *Config) GetOutputConfig() *OutputConfig {
	return &OutputConfig{Format: c.value("output", "format", "human")}
}

// GetVerboseConfig returns the verbose configuration
func (c *Config) GetVerboseConfig() *VerboseConfig {
	return &VerboseConfig{
		Level: c.intValue("verbose", "level", 0),
		Debug: c.value("verbose", "debug", ""),
	}
}

// GetLogConfig returns the log handler configuration
func (c *Config) GetLogConfig() *LogConfig {
	return &LogConfig{Format: c.value("log", "format", "text")}
}

// GetPerformanceConfig returns the performance configuration
func (c *Config) GetPerformanceConfig() *PerformanceConfig {
	return &PerformanceConfig{
		IOWorkers:            c.intValue("performance", "io_workers", 0),
		OrchestrationWorkers: c.intValue("performance", "orchestration_workers", 0),
		HashBuffer:           c.value("performance", "hash_buffer", DefaultHashBuffer),
		MaxInFlightFolders:   c.intValue("performance", "max_inflight_folders", DefaultMaxInFlightFolders),
	}
}

// GetStateConfig returns the persistence configuration
func (c *Config) GetStateConfig() *StateConfig {
	return &StateConfig{
		Backend:      c.value("state", "backend", DefaultStateBackend),
		SaveInterval: c.durationValue("state", "save_interval", time.Minute),
	}
}

// GetWatchConfig returns the watch mode configuration
func (c *Config) GetWatchConfig() *WatchConfig {
	return &WatchConfig{Debounce: c.durationValue("watch", "debounce", 500*time.Millisecond)}
}

// GetAllConfig returns all configuration options
func (c *Config) GetAllConfig() *AllConfig {
	return &AllConfig{
		Hash:        c.GetHashConfig(),
		Output:      c.GetOutputConfig(),
		Verbose:     c.GetVerboseConfig(),
		Log:         c.GetLogConfig(),
		Performance: c.GetPerformanceConfig(),
		State:       c.GetStateConfig(),
		Watch:       c.GetWatchConfig(),
	}
}

// HashBufferBytes parses the configured read chunk size
func (c *Config) HashBufferBytes() (int, error) {
	return ParseHumanSize(c.GetPerformanceConfig().HashBuffer)
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	if c.configPath == "" {
		return fmt.Errorf("config has no file path")
	}
	return c.ini.SaveTo(c.configPath)
}

// ApplyOverrides applies command-line overrides to the configuration
// Accepts strings like "default:sha256", "format:json", "level:2", "hash_buffer:4MiB"
func (c *Config) ApplyOverrides(overrides []string) error {
	for _, override := range overrides {
		parts := strings.SplitN(override, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid override format '%s', expected 'key:value'", override)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		target, ok := overrideKeys[key]
		if !ok {
			return fmt.Errorf("unsupported override key '%s'", key)
		}
		c.ini.Section(target[0]).Key(target[1]).SetValue(value)
	}

	return nil
}

// Validate checks every value the run depends on
func (c *Config) Validate() error {
	all := c.GetAllConfig()
	if err := ValidateHashAlgorithm(all.Hash.Default); err != nil {
		return err
	}
	if err := ValidateOutputFormat(all.Output.Format); err != nil {
		return err
	}
	if err := ValidateVerboseLevel(all.Verbose.Level); err != nil {
		return err
	}
	if err := ValidateWorkers("io_workers", all.Performance.IOWorkers); err != nil {
		return err
	}
	if err := ValidateWorkers("orchestration_workers", all.Performance.OrchestrationWorkers); err != nil {
		return err
	}
	if _, err := ParseHumanSize(all.Performance.HashBuffer); err != nil {
		return err
	}
	if all.Performance.MaxInFlightFolders < 1 {
		return fmt.Errorf("max_inflight_folders must be at least 1, got: %d", all.Performance.MaxInFlightFolders)
	}
	if err := ValidateStateBackend(all.State.Backend); err != nil {
		return err
	}
	if all.State.SaveInterval <= 0 {
		return fmt.Errorf("save_interval must be positive, got: %v", all.State.SaveInterval)
	}
	return nil
}

// ValidateHashAlgorithm validates that a hash algorithm is supported and linked in
func ValidateHashAlgorithm(algorithm string) error {
	_, err := GetHashAlgorithm(normaliseAlgorithmName(algorithm))
	return err
}

// ValidateOutputFormat validates that an output format is supported
func ValidateOutputFormat(format string) error {
	switch strings.ToLower(format) {
	case "human", "json", "fdupes":
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s (supported: human, json, fdupes)", format)
	}
}

// ValidateVerboseLevel validates that a verbose level is valid
func ValidateVerboseLevel(level int) error {
	if level < 0 || level > 3 {
		return fmt.Errorf("invalid verbose level: %d (supported: 0-3)", level)
	}
	return nil
}

// ValidateWorkers accepts 0 (automatic) up to 256
func ValidateWorkers(name string, workers int) error {
	if workers < 0 {
		return fmt.Errorf("%s must not be negative, got: %d", name, workers)
	}
	if workers > 256 {
		return fmt.Errorf("%s should not exceed 256, got: %d", name, workers)
	}
	return nil
}

// ValidateStateBackend validates the persistence backend name
func ValidateStateBackend(backend string) error {
	switch strings.ToLower(backend) {
	case "file", "sqlite":
		return nil
	default:
		return fmt.Errorf("unsupported state backend: %s (supported: file, sqlite)", backend)
	}
}

// ParseHumanSize parses sizes such as "1MiB", "512K" or "2097152" into bytes
func ParseHumanSize(s string) (int, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("invalid size %q: must be positive", s)
	}
	if n > 1<<30 {
		return 0, fmt.Errorf("invalid size %q: larger than 1GiB", s)
	}
	return int(n), nil
}
