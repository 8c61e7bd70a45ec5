package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akshar-raaj/bluegreen/internal/core/domain"
)

// DefaultFile is the config file looked up in the working directory when no
// --config flag is given.
const DefaultFile = "bluegreen.yaml"

// Duration is a time.Duration that unmarshals from yaml strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config describes one deployable application and the host singletons the
// orchestrator mutates: the two rotation ports and the proxy config file.
type Config struct {
	AppName string `yaml:"app_name"` // instance names are <app_name>-blue / <app_name>-green
	Image   string `yaml:"image"`

	BluePort  int `yaml:"blue_port"`  // the two host ports used in rotation
	GreenPort int `yaml:"green_port"`
	AppPort   int `yaml:"app_port"` // port the application listens on inside the container

	WorkDir     string `yaml:"workdir"`      // build context and rw mount source
	MountTarget string `yaml:"mount_target"` // application root inside the container

	ProxyConf   string   `yaml:"proxy_conf"`   // nginx config carrying the proxy_pass line
	ProxyBackup string   `yaml:"proxy_backup"` // single backup slot, overwritten each cycle
	ReloadCmd   []string `yaml:"reload_cmd"`

	HealthPath    string   `yaml:"health_path"`    // liveness endpoint on the app
	HealthTimeout Duration `yaml:"health_timeout"` // 0 disables the pre-switch probe

	LockDir string `yaml:"lock_dir"`

	LogLevel  string `yaml:"log_level"`
	PrettyLog bool   `yaml:"pretty_log"`
}

// Load reads the yaml file at path (missing file means defaults), then
// applies BLUEGREEN_* environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus env are a complete config.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)
	fillDerived(cfg)

	if cfg.BluePort == cfg.GreenPort {
		return nil, fmt.Errorf("blue_port and green_port must differ, both are %d", cfg.BluePort)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		AppName:       "app",
		BluePort:      8000,
		GreenPort:     8001,
		AppPort:       8000,
		WorkDir:       ".",
		MountTarget:   "/app",
		ReloadCmd:     []string{"nginx", "-s", "reload"},
		HealthPath:    "/health",
		HealthTimeout: Duration(30 * time.Second),
		LockDir:       os.TempDir(),
		LogLevel:      "info",
		PrettyLog:     true,
	}
}

func applyEnv(cfg *Config) {
	cfg.AppName = getenv("BLUEGREEN_APP_NAME", cfg.AppName)
	cfg.Image = getenv("BLUEGREEN_IMAGE", cfg.Image)
	cfg.BluePort = getenvInt("BLUEGREEN_BLUE_PORT", cfg.BluePort)
	cfg.GreenPort = getenvInt("BLUEGREEN_GREEN_PORT", cfg.GreenPort)
	cfg.AppPort = getenvInt("BLUEGREEN_APP_PORT", cfg.AppPort)
	cfg.WorkDir = getenv("BLUEGREEN_WORKDIR", cfg.WorkDir)
	cfg.ProxyConf = getenv("BLUEGREEN_PROXY_CONF", cfg.ProxyConf)
	cfg.ProxyBackup = getenv("BLUEGREEN_PROXY_BACKUP", cfg.ProxyBackup)
	cfg.HealthPath = getenv("BLUEGREEN_HEALTH_PATH", cfg.HealthPath)
	cfg.HealthTimeout = Duration(getenvDuration("BLUEGREEN_HEALTH_TIMEOUT", cfg.HealthTimeout.Std()))
	cfg.LockDir = getenv("BLUEGREEN_LOCK_DIR", cfg.LockDir)
	cfg.LogLevel = getenv("BLUEGREEN_LOG_LEVEL", cfg.LogLevel)
	cfg.PrettyLog = getenvBool("BLUEGREEN_PRETTY_LOG", cfg.PrettyLog)
}

func fillDerived(cfg *Config) {
	if cfg.Image == "" {
		cfg.Image = cfg.AppName + ":latest"
	}
	if cfg.ProxyConf == "" {
		cfg.ProxyConf = filepath.Join("/etc/nginx/conf.d", cfg.AppName+".conf")
	}
	if cfg.ProxyBackup == "" {
		cfg.ProxyBackup = cfg.ProxyConf + ".bak"
	}
}

// InstanceName returns the container name for a slot, e.g. "app-blue".
func (c *Config) InstanceName(color domain.Color) string {
	return fmt.Sprintf("%s-%s", c.AppName, color)
}

// helpers

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
