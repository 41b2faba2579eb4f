// Package config loads tesd configuration from a YAML file, a .env file and
// TESD_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Paging    PagingConfig    `mapstructure:"paging"`
	Service   ServiceConfig   `mapstructure:"service"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// DatabaseConfig selects the task store. Driver is sqlite or postgres.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// SchedulerConfig bounds how many tasks run at once, overall and per
// connector, and how often the queue is polled.
type SchedulerConfig struct {
	GlobalMax    int            `mapstructure:"global_max"`
	PollInterval time.Duration  `mapstructure:"poll_interval"`
	ByConnector  map[string]int `mapstructure:"by_connector"`
}

// SandboxConfig configures the connector that executes steps and the
// workspaces tasks run in.
type SandboxConfig struct {
	Connector       string   `mapstructure:"connector"`
	DockerBin       string   `mapstructure:"docker_bin"`
	WorkDir         string   `mapstructure:"work_dir"`
	KeepWorkspace   bool     `mapstructure:"keep_workspace"`
	HostIP          string   `mapstructure:"host_ip"`
	TailBytes       int      `mapstructure:"tail_bytes"`
	ForceCancel     bool     `mapstructure:"force_cancel"`
	MaxAttempts     int      `mapstructure:"max_attempts"`
	AllowedCommands []string `mapstructure:"allowed_commands"`
	// ApplyResourceLimits turns executor cpu and ram requests into docker
	// --cpus and --memory limits.
	ApplyResourceLimits bool `mapstructure:"apply_resource_limits"`
}

// StorageConfig configures the backends inputs and outputs move through.
type StorageConfig struct {
	Local LocalStorageConfig `mapstructure:"local"`
	S3    S3StorageConfig    `mapstructure:"s3"`
}

// LocalStorageConfig lists the host directories file:// URLs may name.
type LocalStorageConfig struct {
	AllowedDirs []string `mapstructure:"allowed_dirs"`
}

// S3StorageConfig enables the s3:// backend when Endpoint is set.
type S3StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// PagingConfig holds the secret page tokens are signed with.
type PagingConfig struct {
	TokenSecret string `mapstructure:"token_secret"`
}

// ServiceConfig is reported by service-info.
type ServiceConfig struct {
	Name string `mapstructure:"name"`
	Doc  string `mapstructure:"doc"`
}

// LogConfig sets the slog level and the text or json format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DataDir returns ~/.tesd, the default home of the database and workspaces.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tesd"
	}
	return filepath.Join(home, ".tesd")
}

func setDefaults(v *viper.Viper) {
	dataDir := DataDir()
	v.SetDefault("server.listen", "127.0.0.1:7466")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", filepath.Join(dataDir, "tesd.db"))
	v.SetDefault("scheduler.global_max", 10)
	v.SetDefault("scheduler.poll_interval", time.Second)
	v.SetDefault("scheduler.by_connector", map[string]int{})
	v.SetDefault("sandbox.connector", "docker")
	v.SetDefault("sandbox.docker_bin", "docker")
	v.SetDefault("sandbox.work_dir", filepath.Join(dataDir, "work"))
	v.SetDefault("sandbox.keep_workspace", false)
	v.SetDefault("sandbox.host_ip", "")
	v.SetDefault("sandbox.tail_bytes", 64*1024)
	v.SetDefault("sandbox.force_cancel", true)
	v.SetDefault("sandbox.max_attempts", 1)
	v.SetDefault("sandbox.allowed_commands", []string{})
	v.SetDefault("sandbox.apply_resource_limits", false)
	v.SetDefault("storage.local.allowed_dirs", []string{})
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("paging.token_secret", "")
	v.SetDefault("service.name", "tesd")
	v.SetDefault("service.doc", "Task Execution Service")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. With an empty configPath, tesd.yaml is looked
// up in the working directory and in ~/.tesd; a missing file is not an
// error.
func Load(configPath string) (*Config, error) {
	// .env only fills variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tesd")
		v.AddConfigPath(".")
		v.AddConfigPath(DataDir())
	}

	setDefaults(v)

	v.SetEnvPrefix("TESD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Scheduler.GlobalMax < 1 {
		errs = append(errs, errors.New("scheduler.global_max must be at least 1"))
	}
	if c.Scheduler.PollInterval <= 0 {
		errs = append(errs, errors.New("scheduler.poll_interval must be positive"))
	}
	for name, n := range c.Scheduler.ByConnector {
		if n < 1 {
			errs = append(errs, fmt.Errorf("scheduler.by_connector.%s must be at least 1", name))
		}
	}
	switch c.Sandbox.Connector {
	case "docker", "localexec":
	default:
		errs = append(errs, fmt.Errorf("sandbox.connector must be docker or localexec, got %q", c.Sandbox.Connector))
	}
	if c.Sandbox.MaxAttempts < 1 {
		errs = append(errs, errors.New("sandbox.max_attempts must be at least 1"))
	}
	if c.Sandbox.TailBytes < 0 {
		errs = append(errs, errors.New("sandbox.tail_bytes must not be negative"))
	}
	if s3 := c.Storage.S3; s3.Endpoint != "" && (s3.AccessKey == "" || s3.SecretKey == "") {
		errs = append(errs, errors.New("storage.s3 requires access_key and secret_key"))
	}
	return errors.Join(errs...)
}
