package conf

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-kernel/logger"

	"gopkg.in/ini.v1"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

// 页面置换策略
const (
	PolicyClock = "clock"
	PolicyLRU   = "lru"
)

/*
*
[kernel]
data_dir  = data
log_dir   = redo
page_size = 4096

[buffer_pool]
pool_pages         = 1024
replacement_policy = clock
evict_dirty        = true

[transaction]
force               = true
checkpoint_interval = 60

[logs]
log_error = /var/log/xmysql/error.log
log_infos = /var/log/xmysql/kernel.log
log_level = info
*/
type Cfg struct {
	Raw *ini.File

	// kernel
	DataDir  string `default:"data" yaml:"data_dir" json:"data_dir,omitempty"`
	LogDir   string `default:"redo" yaml:"log_dir" json:"log_dir,omitempty"`
	PageSize int    `default:"4096" yaml:"page_size" json:"page_size,omitempty"`

	// buffer_pool
	PoolPages         int    `default:"1024" yaml:"pool_pages" json:"pool_pages,omitempty"`
	ReplacementPolicy string `default:"clock" yaml:"replacement_policy" json:"replacement_policy,omitempty"`
	EvictDirty        bool   `default:"true" yaml:"evict_dirty" json:"evict_dirty,omitempty"`

	// transaction
	Force              bool `default:"true" yaml:"force" json:"force,omitempty"`
	CheckpointInterval int  `default:"60" yaml:"checkpoint_interval" json:"checkpoint_interval,omitempty"` // 秒，0表示不做周期检查点

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:                ini.Empty(),
		DataDir:            "data",
		LogDir:             "redo",
		PageSize:           4096,
		PoolPages:          1024,
		ReplacementPolicy:  PolicyClock,
		EvictDirty:         true,
		Force:              true,
		CheckpointInterval: 60,
		LogLevel:           "info",
	}
}

// Load 读取配置文件覆盖默认值。文件不存在时沿用默认配置，
// 以 .toml 结尾的路径按 TOML 解析，其余按 INI 解析。
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	setHomePath(args)

	configFile := "conf/kernel.ini"
	if args != nil && args.ConfigPath != "" {
		configFile = args.ConfigPath
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置", configFile)
		return cfg, cfg.Validate()
	}

	if strings.EqualFold(filepath.Ext(configFile), ".toml") {
		tree, err := toml.LoadFile(configFile)
		if err != nil {
			return nil, errors.Wrapf(err, "parse toml config %s", configFile)
		}
		if err := cfg.parseToml(tree); err != nil {
			return nil, err
		}
		logger.Debugf("成功加载配置文件: %s", configFile)
		return cfg, cfg.Validate()
	}

	iniFile, err := ini.Load(configFile)
	if err != nil {
		return nil, errors.Wrapf(err, "parse ini config %s", configFile)
	}
	cfg.Raw = iniFile
	if err := cfg.parseKernelCfg(iniFile.Section("kernel")); err != nil {
		return nil, err
	}
	if err := cfg.parseBufferPoolCfg(iniFile.Section("buffer_pool")); err != nil {
		return nil, err
	}
	if err := cfg.parseTransactionCfg(iniFile.Section("transaction")); err != nil {
		return nil, err
	}
	cfg.parseLogsCfg(iniFile.Section("logs"))
	logger.Debugf("成功加载配置文件: %s", configFile)
	return cfg, cfg.Validate()
}

func setHomePath(args *CommandLineArgs) {
	if args != nil && args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}
	ConfigPath, _ = filepath.Abs(".")
}

// Validate 检查取值范围
func (cfg *Cfg) Validate() error {
	if cfg.PageSize <= 0 {
		return errors.Errorf("invalid page_size %d", cfg.PageSize)
	}
	if cfg.PoolPages <= 0 {
		return errors.Errorf("invalid pool_pages %d", cfg.PoolPages)
	}
	switch cfg.ReplacementPolicy {
	case PolicyClock, PolicyLRU:
	default:
		return errors.Errorf("unknown replacement_policy %q", cfg.ReplacementPolicy)
	}
	if cfg.CheckpointInterval < 0 {
		return errors.Errorf("invalid checkpoint_interval %d", cfg.CheckpointInterval)
	}
	if cfg.DataDir == "" || cfg.LogDir == "" {
		return errors.New("data_dir and log_dir must not be empty")
	}
	return nil
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) string {
	if section == nil {
		return defaultValue
	}
	value := section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value
}

func valueAsInt(section *ini.Section, keyName string, defaultValue int) (int, error) {
	if section == nil || !section.HasKey(keyName) {
		return defaultValue, nil
	}
	v, err := section.Key(keyName).Int()
	if err != nil {
		return 0, errors.Wrapf(err, "[%s] %s", section.Name(), keyName)
	}
	return v, nil
}

func valueAsBool(section *ini.Section, keyName string, defaultValue bool) (bool, error) {
	if section == nil || !section.HasKey(keyName) {
		return defaultValue, nil
	}
	v, err := section.Key(keyName).Bool()
	if err != nil {
		return false, errors.Wrapf(err, "[%s] %s", section.Name(), keyName)
	}
	return v, nil
}

func (cfg *Cfg) parseKernelCfg(section *ini.Section) error {
	var err error
	cfg.DataDir = valueAsString(section, "data_dir", cfg.DataDir)
	cfg.LogDir = valueAsString(section, "log_dir", cfg.LogDir)
	cfg.PageSize, err = valueAsInt(section, "page_size", cfg.PageSize)
	return err
}

func (cfg *Cfg) parseBufferPoolCfg(section *ini.Section) error {
	var err error
	if cfg.PoolPages, err = valueAsInt(section, "pool_pages", cfg.PoolPages); err != nil {
		return err
	}
	cfg.ReplacementPolicy = strings.ToLower(valueAsString(section, "replacement_policy", cfg.ReplacementPolicy))
	cfg.EvictDirty, err = valueAsBool(section, "evict_dirty", cfg.EvictDirty)
	return err
}

func (cfg *Cfg) parseTransactionCfg(section *ini.Section) error {
	var err error
	if cfg.Force, err = valueAsBool(section, "force", cfg.Force); err != nil {
		return err
	}
	cfg.CheckpointInterval, err = valueAsInt(section, "checkpoint_interval", cfg.CheckpointInterval)
	return err
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) {
	cfg.LogError = valueAsString(section, "log_error", cfg.LogError)
	cfg.LogInfos = valueAsString(section, "log_infos", cfg.LogInfos)
	cfg.LogLevel = normalizeLogLevel(valueAsString(section, "log_level", cfg.LogLevel))
}

func normalizeLogLevel(level string) string {
	level = strings.ToLower(level)
	switch level {
	case "debug", "info", "warn", "error", "fatal", "panic":
		return level
	}
	logger.Warnf("无效的日志级别 '%s', 使用默认级别 'info'", level)
	return "info"
}

func (cfg *Cfg) parseToml(tree *toml.Tree) error {
	var err error
	getString := func(key string, def string) string {
		if v, ok := tree.Get(key).(string); ok && v != "" {
			return v
		}
		return def
	}
	getInt := func(key string, def int) (int, error) {
		raw := tree.Get(key)
		if raw == nil {
			return def, nil
		}
		v, ok := raw.(int64)
		if !ok {
			return 0, errors.Errorf("%s: expected integer, got %T", key, raw)
		}
		return int(v), nil
	}
	getBool := func(key string, def bool) (bool, error) {
		raw := tree.Get(key)
		if raw == nil {
			return def, nil
		}
		v, ok := raw.(bool)
		if !ok {
			return false, errors.Errorf("%s: expected bool, got %T", key, raw)
		}
		return v, nil
	}

	cfg.DataDir = getString("kernel.data_dir", cfg.DataDir)
	cfg.LogDir = getString("kernel.log_dir", cfg.LogDir)
	if cfg.PageSize, err = getInt("kernel.page_size", cfg.PageSize); err != nil {
		return err
	}
	if cfg.PoolPages, err = getInt("buffer_pool.pool_pages", cfg.PoolPages); err != nil {
		return err
	}
	cfg.ReplacementPolicy = strings.ToLower(getString("buffer_pool.replacement_policy", cfg.ReplacementPolicy))
	if cfg.EvictDirty, err = getBool("buffer_pool.evict_dirty", cfg.EvictDirty); err != nil {
		return err
	}
	if cfg.Force, err = getBool("transaction.force", cfg.Force); err != nil {
		return err
	}
	if cfg.CheckpointInterval, err = getInt("transaction.checkpoint_interval", cfg.CheckpointInterval); err != nil {
		return err
	}
	cfg.LogError = getString("logs.log_error", cfg.LogError)
	cfg.LogInfos = getString("logs.log_infos", cfg.LogInfos)
	cfg.LogLevel = normalizeLogLevel(getString("logs.log_level", cfg.LogLevel))
	return nil
}

// LogConfig 转换为 logger 的配置
func (cfg *Cfg) LogConfig() logger.LogConfig {
	return logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}
}
