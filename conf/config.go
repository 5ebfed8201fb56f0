package conf

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

/*
[engine]
page_size        = 4096
max_pages        = 1048576
min_fill_percent = 40
cache_pages      = 2048
busy_timeout     = 2s
no_sync          = false

[integrity]
max_findings = 100

[logs]
log_error = /var/log/xvdbe/error.log
log_infos = /var/log/xvdbe/xvdbe.log
log_level = info
*/

// Cfg is the engine configuration.
type Cfg struct {
	Raw *ini.File `toml:"-"`

	Engine    EngineCfg    `toml:"engine"`
	Integrity IntegrityCfg `toml:"integrity"`
	Logs      LogsCfg      `toml:"logs"`
}

// EngineCfg 存储引擎配置
type EngineCfg struct {
	PageSize       int    `toml:"page_size"`
	MaxPages       int64  `toml:"max_pages"`
	MinFillPercent int    `toml:"min_fill_percent"`
	CachePages     int64  `toml:"cache_pages"`
	BusyTimeout    string `toml:"busy_timeout"`
	NoSync         bool   `toml:"no_sync"`

	BusyTimeoutDuration time.Duration `toml:"-"`
}

// IntegrityCfg 完整性检查配置
type IntegrityCfg struct {
	MaxFindings int `toml:"max_findings"`
}

// LogsCfg 日志配置
type LogsCfg struct {
	LogError string `toml:"log_error"`
	LogInfos string `toml:"log_infos"`
	LogLevel string `toml:"log_level"`
}

const (
	DefaultPageSize       = 4096
	DefaultMaxPages       = 1 << 20
	DefaultMinFillPercent = 40
	DefaultCachePages     = 2048
	DefaultBusyTimeout    = "2s"
	DefaultMaxFindings    = 100
)

// NewCfg returns the default configuration.
func NewCfg() *Cfg {
	return &Cfg{
		Raw: ini.Empty(),
		Engine: EngineCfg{
			PageSize:            DefaultPageSize,
			MaxPages:            DefaultMaxPages,
			MinFillPercent:      DefaultMinFillPercent,
			CachePages:          DefaultCachePages,
			BusyTimeout:         DefaultBusyTimeout,
			BusyTimeoutDuration: 2 * time.Second,
		},
		Integrity: IntegrityCfg{
			MaxFindings: DefaultMaxFindings,
		},
		Logs: LogsCfg{
			LogLevel: "info",
		},
	}
}

// Load reads path into a copy of the defaults. A missing file keeps the
// defaults. Files ending in .toml are parsed as TOML, everything else as ini.
func Load(path string) (*Cfg, error) {
	cfg := NewCfg()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var err error
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = cfg.loadToml(path)
	} else {
		err = cfg.loadIni(path)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Cfg) loadIni(path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return errors.Wrapf(err, "load config %s", path)
	}
	cfg.Raw = f

	cfg.parseEngineCfg(f.Section("engine"))
	cfg.parseIntegrityCfg(f.Section("integrity"))
	cfg.parseLogsCfg(f.Section("logs"))
	return nil
}

func (cfg *Cfg) loadToml(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}

	e := &cfg.Engine
	e.PageSize = int(tomlInt(tree, "engine.page_size", int64(e.PageSize)))
	e.MaxPages = tomlInt(tree, "engine.max_pages", e.MaxPages)
	e.MinFillPercent = int(tomlInt(tree, "engine.min_fill_percent", int64(e.MinFillPercent)))
	e.CachePages = tomlInt(tree, "engine.cache_pages", e.CachePages)
	e.BusyTimeout = tomlString(tree, "engine.busy_timeout", e.BusyTimeout)
	if v, ok := tree.Get("engine.no_sync").(bool); ok {
		e.NoSync = v
	}
	cfg.Integrity.MaxFindings = int(tomlInt(tree, "integrity.max_findings", int64(cfg.Integrity.MaxFindings)))
	cfg.Logs.LogError = tomlString(tree, "logs.log_error", cfg.Logs.LogError)
	cfg.Logs.LogInfos = tomlString(tree, "logs.log_infos", cfg.Logs.LogInfos)
	cfg.Logs.LogLevel = tomlString(tree, "logs.log_level", cfg.Logs.LogLevel)
	return nil
}

func tomlInt(tree *toml.Tree, key string, def int64) int64 {
	if v, ok := tree.Get(key).(int64); ok {
		return v
	}
	return def
}

func tomlString(tree *toml.Tree, key string, def string) string {
	if v, ok := tree.Get(key).(string); ok && v != "" {
		return v
	}
	return def
}

func (cfg *Cfg) parseEngineCfg(section *ini.Section) {
	e := &cfg.Engine
	e.PageSize = section.Key("page_size").MustInt(e.PageSize)
	e.MaxPages = section.Key("max_pages").MustInt64(e.MaxPages)
	e.MinFillPercent = section.Key("min_fill_percent").MustInt(e.MinFillPercent)
	e.CachePages = section.Key("cache_pages").MustInt64(e.CachePages)
	e.BusyTimeout = valueAsString(section, "busy_timeout", e.BusyTimeout)
	e.NoSync = section.Key("no_sync").MustBool(e.NoSync)
}

func (cfg *Cfg) parseIntegrityCfg(section *ini.Section) {
	cfg.Integrity.MaxFindings = section.Key("max_findings").MustInt(cfg.Integrity.MaxFindings)
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) {
	cfg.Logs.LogError = valueAsString(section, "log_error", cfg.Logs.LogError)
	cfg.Logs.LogInfos = valueAsString(section, "log_infos", cfg.Logs.LogInfos)
	cfg.Logs.LogLevel = valueAsString(section, "log_level", cfg.Logs.LogLevel)
}

func (cfg *Cfg) validate() error {
	e := &cfg.Engine

	if e.PageSize < 512 || e.PageSize > 65536 || e.PageSize&(e.PageSize-1) != 0 {
		return errors.Errorf("page_size %d must be a power of two in [512, 65536]", e.PageSize)
	}
	if e.MaxPages < 2 {
		return errors.Errorf("max_pages %d is too small", e.MaxPages)
	}
	if e.MinFillPercent < 0 || e.MinFillPercent > 45 {
		return errors.Errorf("min_fill_percent %d out of range [0, 45]", e.MinFillPercent)
	}

	d, err := time.ParseDuration(e.BusyTimeout)
	if err != nil {
		return errors.Wrapf(err, "busy_timeout %q", e.BusyTimeout)
	}
	e.BusyTimeoutDuration = d

	if cfg.Integrity.MaxFindings <= 0 {
		cfg.Integrity.MaxFindings = DefaultMaxFindings
	}
	return nil
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) string {
	if section == nil || !section.HasKey(keyName) {
		return defaultValue
	}
	v := strings.TrimSpace(section.Key(keyName).String())
	if v == "" {
		return defaultValue
	}
	return v
}
