package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Sections the driver knows how to print. "all" expands to images and regions.
const (
	SectionImages  = "images"
	SectionRegions = "regions"
	SectionAll     = "all"
	SectionExePath = "exe-path"
	SectionHistory = "history"
	SectionShow    = "show"
)

const (
	LogConsole = "console"
	LogJSON    = "json"
)

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrNeedDatabase   = errors.New("section needs --db")
)

// Config is the resolved run configuration. Precedence is flags, then
// MACHMAP_* environment variables, then the optional config file, then defaults.
type Config struct {
	PID       int      `mapstructure:"pid"`
	JSON      bool     `mapstructure:"json"`
	Submaps   bool     `mapstructure:"submaps"`
	Filenames bool     `mapstructure:"filenames"`
	Database  string   `mapstructure:"db"`
	Debug     bool     `mapstructure:"debug"`
	LogFormat string   `mapstructure:"log_format"`
	Sections  []string `mapstructure:"sections"`
	// SnapshotID and Address select what "show" prints.
	SnapshotID string `mapstructure:"id"`
	Address    string `mapstructure:"addr"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Submaps:   true,
		Filenames: true,
		LogFormat: LogConsole,
		Sections:  []string{SectionAll},
	}
}

// Load parses args (without the program name) and merges env and file sources.
// debugDefault seeds the debug flag from a build-time setting; commands are
// listed in the usage text.
func Load(args []string, debugDefault bool, commands ...string) (Config, error) {
	def := Default()

	fs := pflag.NewFlagSet("machmap", pflag.ContinueOnError)
	fs.Int("pid", def.PID, "target process id (0 = this process)")
	fs.Bool("json", def.JSON, "emit JSON instead of tables")
	fs.Bool("submaps", def.Submaps, "descend into submaps")
	fs.Bool("no-submaps", false, "report submaps as opaque regions")
	fs.Bool("no-filenames", false, "skip backing path lookups")
	fs.String("db", def.Database, "record the snapshot in this sqlite file")
	fs.String("config", "", "config file (yaml, json or toml)")
	fs.Bool("debug", debugDefault, "debug logging")
	fs.String("log-format", def.LogFormat, "log output: console or json")
	fs.String("id", "", "snapshot id for show (default newest)")
	fs.String("addr", "", "address to resolve in show")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usageText(fs, commands))
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("MACHMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("submaps", def.Submaps)
	v.SetDefault("filenames", def.Filenames)
	v.SetDefault("sections", def.Sections)
	v.SetDefault("log_format", def.LogFormat)

	bindings := map[string]string{
		"pid":        "pid",
		"json":       "json",
		"submaps":    "submaps",
		"db":         "db",
		"debug":      "debug",
		"log_format": "log-format",
		"id":         "id",
		"addr":       "addr",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.StringToSliceHookFunc(","))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	// Negative switches win over everything else.
	if off, _ := fs.GetBool("no-submaps"); off {
		cfg.Submaps = false
	}
	if off, _ := fs.GetBool("no-filenames"); off {
		cfg.Filenames = false
	}
	if fs.NArg() > 0 {
		cfg.Sections = fs.Args()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown sections, negative pids and unknown log formats.
func (c Config) Validate() error {
	if c.PID < 0 {
		return fmt.Errorf("invalid pid %d", c.PID)
	}
	switch c.LogFormat {
	case "", LogConsole, LogJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	for _, s := range c.Sections {
		switch s {
		case SectionImages, SectionRegions, SectionAll, SectionExePath:
		case SectionHistory, SectionShow:
			if c.Database == "" {
				return fmt.Errorf("%w: %s", ErrNeedDatabase, s)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownSection, s)
		}
	}
	return nil
}

// Wants reports whether section s should be printed.
func (c Config) Wants(s string) bool {
	for _, want := range c.Sections {
		if want == s || (want == SectionAll && (s == SectionImages || s == SectionRegions)) {
			return true
		}
	}
	return false
}

func usageText(fs *pflag.FlagSet, commands []string) string {
	var sb strings.Builder
	sb.WriteString("Usage: machmap [flags] [images|regions|all|exe-path|history|show]...\n")
	if len(commands) > 0 {
		sb.WriteString("\nCommands: " + strings.Join(commands, ", ") + "\n")
	}
	sb.WriteString("\nFlags:\n")
	sb.WriteString(fs.FlagUsages())
	return sb.String()
}
