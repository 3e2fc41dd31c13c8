// Package config loads piremote settings from a YAML file, a .env file and
// PIREMOTE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/marcuoli/go-piremote/pkg/piremote"
	"github.com/marcuoli/go-piremote/pkg/piremote/discovery"
	"github.com/marcuoli/go-piremote/pkg/piremote/network"
	"github.com/marcuoli/go-piremote/pkg/piremote/probe"
	"github.com/marcuoli/go-piremote/pkg/piremote/session"
)

// EnvPrefix prefixes every environment override ("PIREMOTE_SSH_HOST").
const EnvPrefix = "PIREMOTE"

// Config is the full application configuration.
type Config struct {
	Scan ScanConfig `mapstructure:"scan"`
	SSH  SSHConfig  `mapstructure:"ssh"`
	Log  LogConfig  `mapstructure:"log"`
}

// ScanConfig configures discovery.
type ScanConfig struct {
	// Prefix is the range to sweep; empty means the local /24.
	Prefix          string        `mapstructure:"prefix"`
	Workers         int           `mapstructure:"workers"`
	Ports           []int         `mapstructure:"ports"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	NameTimeout     time.Duration `mapstructure:"name_timeout"`
	Ping            bool          `mapstructure:"ping"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	LookupMAC       bool          `mapstructure:"lookup_mac"`
	OUIDatabase     string        `mapstructure:"oui_db"`
	Hints           bool          `mapstructure:"hints"`
	PassInterval    time.Duration `mapstructure:"pass_interval"`
	FailureCooldown time.Duration `mapstructure:"failure_cooldown"`
	TargetPatterns  []string      `mapstructure:"target_patterns"`
}

// SSHConfig configures the remote session.
type SSHConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReconnectTimeout time.Duration `mapstructure:"reconnect_timeout"`
	KeepAlive        time.Duration `mapstructure:"keepalive"`
	ExecTimeout      time.Duration `mapstructure:"exec_timeout"`
	UploadAttempts   int           `mapstructure:"upload_attempts"`
	UploadDelay      time.Duration `mapstructure:"upload_delay"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	// DebugLevel gates library debug output: off, basic or verbose.
	DebugLevel string `mapstructure:"debug_level"`
}

// Loader reads a Config.
type Loader struct {
	// ConfigPath is an explicit YAML file. Empty falls back to
	// $PIREMOTE_CONFIG, then piremote.yaml in the working directory or
	// $HOME/.config/piremote.
	ConfigPath string
	// EnvFile is loaded into the environment first; a missing file is fine.
	EnvFile string
}

// Load reads the configuration with the default .env file.
func Load(path string) (*Config, error) {
	return Loader{ConfigPath: path, EnvFile: ".env"}.Load()
}

// Load reads, decodes and validates the configuration.
func (l Loader) Load() (*Config, error) {
	if l.EnvFile != "" {
		if err := godotenv.Load(l.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", l.EnvFile, err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := readConfigFile(v, l.ConfigPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("piremote")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "piremote"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scan.prefix", "")
	v.SetDefault("scan.workers", discovery.DefaultWorkers)
	v.SetDefault("scan.ports", probe.DefaultPorts)
	v.SetDefault("scan.dial_timeout", probe.DefaultDialTimeout)
	v.SetDefault("scan.name_timeout", probe.DefaultNameTimeout)
	v.SetDefault("scan.ping", false)
	v.SetDefault("scan.ping_timeout", probe.DefaultPingTimeout)
	v.SetDefault("scan.lookup_mac", false)
	v.SetDefault("scan.oui_db", "")
	v.SetDefault("scan.hints", false)
	v.SetDefault("scan.pass_interval", discovery.DefaultPassInterval)
	v.SetDefault("scan.failure_cooldown", discovery.DefaultFailureCooldown)
	v.SetDefault("scan.target_patterns", discovery.DefaultTargetPatterns)

	v.SetDefault("ssh.host", "")
	v.SetDefault("ssh.port", session.DefaultPort)
	v.SetDefault("ssh.username", "pi")
	v.SetDefault("ssh.password", "")
	v.SetDefault("ssh.connect_timeout", session.DefaultConnectTimeout)
	v.SetDefault("ssh.reconnect_timeout", session.DefaultReconnectTimeout)
	v.SetDefault("ssh.keepalive", session.DefaultKeepAlive)
	v.SetDefault("ssh.exec_timeout", session.DefaultExecTimeout)
	v.SetDefault("ssh.upload_attempts", session.DefaultUploadAttempts)
	v.SetDefault("ssh.upload_delay", session.DefaultUploadDelay)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.debug_level", "off")
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	var errs []error

	if c.Scan.Prefix != "" {
		if _, err := network.PrefixCIDR(c.Scan.Prefix); err != nil {
			errs = append(errs, fmt.Errorf("scan.prefix: %w", err))
		}
	}
	if c.Scan.Workers <= 0 {
		errs = append(errs, fmt.Errorf("scan.workers must be positive, got %d", c.Scan.Workers))
	}
	if len(c.Scan.Ports) == 0 && !c.Scan.Ping {
		errs = append(errs, errors.New("scan.ports is empty and scan.ping is off"))
	}
	for _, p := range c.Scan.Ports {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("scan.ports: %d out of range", p))
		}
	}
	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		errs = append(errs, fmt.Errorf("ssh.port: %d out of range", c.SSH.Port))
	}
	if c.SSH.UploadAttempts < 1 {
		errs = append(errs, fmt.Errorf("ssh.upload_attempts must be at least 1, got %d", c.SSH.UploadAttempts))
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Output) {
	case "stdout", "stderr":
	case "file":
		if c.Log.File == "" {
			errs = append(errs, errors.New("log.file is required when log.output is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("log.output: unsupported %q", c.Log.Output))
	}
	if _, err := piremote.ParseDebugLevel(c.Log.DebugLevel); err != nil {
		errs = append(errs, fmt.Errorf("log.debug_level: %w", err))
	}

	return errors.Join(errs...)
}

// EngineOptions converts the scan settings.
func (c ScanConfig) EngineOptions() discovery.Options {
	opts := discovery.DefaultOptions()
	opts.Workers = c.Workers
	opts.TargetPatterns = c.TargetPatterns
	opts.PassInterval = c.PassInterval
	opts.FailureCooldown = c.FailureCooldown
	opts.Hints = c.Hints
	opts.Probe.Ports = c.Ports
	opts.Probe.DialTimeout = c.DialTimeout
	opts.Probe.NameTimeout = c.NameTimeout
	opts.Probe.Ping = c.Ping
	opts.Probe.PingTimeout = c.PingTimeout
	opts.Probe.LookupMAC = c.LookupMAC
	return opts
}

// ManagerOptions converts the SSH settings.
func (c SSHConfig) ManagerOptions() session.Options {
	return session.Options{
		ConnectTimeout:   c.ConnectTimeout,
		ReconnectTimeout: c.ReconnectTimeout,
		KeepAlive:        c.KeepAlive,
		ExecTimeout:      c.ExecTimeout,
		UploadAttempts:   c.UploadAttempts,
		UploadDelay:      c.UploadDelay,
	}
}

// Credentials returns the configured login.
func (c SSHConfig) Credentials() session.Credentials {
	return session.Credentials{Host: c.Host, Port: c.Port, Username: c.Username, Password: c.Password}
}
