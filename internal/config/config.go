package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/blockhost/internal/config/loader"
	"github.com/dshills/blockhost/internal/locale"
	"github.com/dshills/blockhost/internal/plugin"
	"github.com/dshills/blockhost/internal/plugin/security"
)

// FileName is the configuration file looked up in DefaultDir.
const FileName = "blockhost.toml"

// MaxIncludeDepth bounds "@include" chains.
const MaxIncludeDepth = 8

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Paths are the directories the host works in.
type Paths struct {
	Plugins string
	Data    string
	Servers string
	Global  string
	State   string
}

// Log configures the host logger.
type Log struct {
	Level  string
	Format string
}

// Store selects where the enabled-plugin list is persisted.
type Store struct {
	Backend string
	Path    string
}

// Watch configures plugin directory watching.
type Watch struct {
	Enabled  bool
	Debounce time.Duration
}

// Config is the resolved host configuration.
type Config struct {
	Paths    Paths
	Log      Log
	Store    Store
	Watch    Watch
	Locale   string
	Limits   security.Limits
	Archive  plugin.ArchiveLimits
	Commands security.CommandPolicy

	// NotifyConcurrency bounds parallel hook delivery per notification.
	NotifyConcurrency int

	// Source is the file that was loaded, empty when none existed.
	Source string
	// Unknown lists settings that were present but not recognised.
	Unknown []string
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return ".blockhost"
		}
		return filepath.Join(home, ".blockhost")
	}
	return filepath.Join(dir, "blockhost")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), FileName)
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	base := DefaultDir()
	return &Config{
		Paths: Paths{
			Plugins: filepath.Join(base, "plugins"),
			Data:    filepath.Join(base, "plugin-data"),
			Servers: filepath.Join(base, "servers"),
			Global:  filepath.Join(base, "global"),
			State:   base,
		},
		Log:   Log{Level: "info", Format: FormatText},
		Store: Store{Backend: BackendFile},
		Watch: Watch{Enabled: false, Debounce: 500 * time.Millisecond},

		Locale:   locale.DefaultLocale,
		Limits:   security.DefaultLimits(),
		Archive:  plugin.DefaultArchiveLimits(),
		Commands: security.CommandPolicy{MaxLength: security.DefaultLimits().ConsoleMaxCommandLength},

		NotifyConcurrency: 8,
	}
}

// Load builds the configuration from defaults, the TOML file at path and
// BLOCKHOST_* environment variables, in increasing priority. An empty path
// uses DefaultPath. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	path = expandHome(path)

	data, err := loader.NewTOMLLoader(path).LoadWithIncludes(path, MaxIncludeDepth)
	if err != nil {
		return nil, err
	}
	source := ""
	if data != nil {
		source = path
	}

	env, err := loader.NewEnvLoader(loader.EnvPrefix).Load()
	if err != nil {
		return nil, err
	}
	merged := loader.DeepMerge(data, env)

	cfg, err := FromMap(merged)
	if err != nil {
		return nil, err
	}
	cfg.Source = source
	return cfg, nil
}

// FromMap applies settings on top of Default.
func FromMap(data map[string]any) (*Config, error) {
	cfg := Default()
	a := newAccessor(data)

	a.str("paths.plugins", &cfg.Paths.Plugins)
	a.str("paths.data", &cfg.Paths.Data)
	a.str("paths.servers", &cfg.Paths.Servers)
	a.str("paths.global", &cfg.Paths.Global)
	a.str("paths.state", &cfg.Paths.State)

	a.str("log.level", &cfg.Log.Level)
	a.str("log.format", &cfg.Log.Format)

	a.str("store.backend", &cfg.Store.Backend)
	a.str("store.path", &cfg.Store.Path)

	a.boolean("watch.enabled", &cfg.Watch.Enabled)
	a.duration("watch.debounce", &cfg.Watch.Debounce)

	a.str("locale", &cfg.Locale)
	a.integer("notify.concurrency", &cfg.NotifyConcurrency)

	l := &cfg.Limits
	a.integer("limits.storageMaxKeyLength", &l.StorageMaxKeyLength)
	a.size("limits.storageMaxValueSize", &l.StorageMaxValueSize)
	a.size("limits.storageMaxTotalSize", &l.StorageMaxTotalSize)
	a.size("limits.httpMaxBodySize", &l.HTTPMaxBodySize)
	a.duration("limits.httpTimeout", &l.HTTPTimeout)
	a.float("limits.httpRequestsPerSec", &l.HTTPRequestsPerSec)
	a.integer("limits.httpBurst", &l.HTTPBurst)
	a.size("limits.httpMaxRequestBytes", &l.HTTPMaxRequestBytes)
	a.size("limits.fsMaxReadSize", &l.FSMaxReadSize)
	a.integer("limits.fsMaxList", &l.FSMaxList)
	a.integer("limits.consoleMaxCommandLength", &l.ConsoleMaxCommandLength)
	a.integer("limits.logMaxLines", &l.LogMaxLines)
	a.integer("limits.logMaxLineBytes", &l.LogMaxLineBytes)
	a.size("limits.logMaxBytes", &l.LogMaxBytes)
	a.size("limits.processMaxOutput", &l.ProcessMaxOutput)
	a.duration("limits.processTimeout", &l.ProcessTimeout)
	a.integer("limits.processMaxRunning", &l.ProcessMaxRunning)
	a.duration("limits.hookTimeout", &l.HookTimeout)
	a.duration("limits.apiCallTimeout", &l.APICallTimeout)
	a.duration("limits.elementReadTimeout", &l.ElementReadTimeout)

	a.integer("archive.maxEntries", &cfg.Archive.MaxEntries)
	a.size("archive.maxFileSize", &cfg.Archive.MaxFileSize)
	a.size("archive.maxTotalSize", &cfg.Archive.MaxTotalSize)

	cfg.Commands.MaxLength = l.ConsoleMaxCommandLength
	a.strings("commands.allow", &cfg.Commands.Allow)
	a.strings("commands.deny", &cfg.Commands.Deny)

	cfg.Unknown = a.unused()
	errs := append(a.errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, &ValidationError{Path: "log.level", Message: "unknown level", Value: c.Log.Level})
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		errs = append(errs, &ValidationError{Path: "log.format", Message: "must be text or json", Value: c.Log.Format})
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, &ValidationError{Path: "store.backend", Message: "must be file or sqlite", Value: c.Store.Backend})
	}
	if c.Paths.Plugins == "" {
		errs = append(errs, &ValidationError{Path: "paths.plugins", Message: "must not be empty", Value: ""})
	}
	if c.NotifyConcurrency < 1 {
		errs = append(errs, &ValidationError{Path: "notify.concurrency", Message: "must be at least 1", Value: c.NotifyConcurrency})
	}
	return errs
}

func (c *Config) resolvePaths() error {
	for _, p := range []*string{
		&c.Paths.Plugins, &c.Paths.Data, &c.Paths.Servers,
		&c.Paths.Global, &c.Paths.State, &c.Store.Path,
	} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(expandHome(*p))
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	if c.Paths.Data == "" {
		c.Paths.Data = filepath.Join(c.Paths.State, "plugin-data")
	}
	if c.Store.Path == "" {
		name := "enabled-plugins.json"
		if c.Store.Backend == BackendSQLite {
			name = "plugins.db"
		}
		c.Store.Path = filepath.Join(c.Paths.State, name)
	}
	return nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Logger builds the host logger.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
	if c.Log.Format == FormatJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// OpenStore opens the configured enabled-plugin store.
func (c *Config) OpenStore() (plugin.EnabledStore, error) {
	if err := os.MkdirAll(filepath.Dir(c.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	if c.Store.Backend == BackendSQLite {
		return plugin.NewSQLiteStore(c.Store.Path)
	}
	return plugin.NewFileStore(c.Store.Path), nil
}

// SystemConfig translates the configuration for plugin.NewSystem. The
// opened store is closed by the registry on shutdown.
func (c *Config) SystemConfig(log logrus.FieldLogger) (plugin.SystemConfig, error) {
	store, err := c.OpenStore()
	if err != nil {
		return plugin.SystemConfig{}, err
	}
	return plugin.SystemConfig{
		PluginsDir:        c.Paths.Plugins,
		DataDir:           c.Paths.Data,
		ServersDir:        c.Paths.Servers,
		GlobalDir:         c.Paths.Global,
		Store:             store,
		Archive:           c.Archive,
		Log:               log,
		Locale:            locale.New(c.Locale),
		Commands:          c.Commands,
		Limits:            c.Limits,
		NotifyConcurrency: c.NotifyConcurrency,
	}, nil
}
