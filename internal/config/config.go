package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/avbelov/fanout/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Project   ProjectConfig   `yaml:"project"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	// Path is the database file for the sqlite type.
	Path string `yaml:"path"`
}

// ProjectConfig scopes which project_settings rows feed the publish config.
type ProjectConfig struct {
	Key string `yaml:"key"`
}

type SchedulerConfig struct {
	PollInterval string `yaml:"poll_interval"`
	Enabled      bool   `yaml:"enabled"`
	// MaxPerPlatform caps concurrent dispatches against one provider.
	MaxPerPlatform int `yaml:"max_per_platform"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5336
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "fanout.db"
	}
	if cfg.Project.Key == "" {
		cfg.Project.Key = "ainews"
	}
	if cfg.Scheduler.PollInterval == "" {
		cfg.Scheduler.PollInterval = "1m"
	}
	if cfg.Scheduler.MaxPerPlatform == 0 {
		cfg.Scheduler.MaxPerPlatform = 1
	}

	return cfg, nil
}
