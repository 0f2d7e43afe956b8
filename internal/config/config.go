package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Mongo     MongoConfig    `yaml:"mongo"`
	Snapshot  SnapshotConfig `yaml:"snapshot"`
	Storage   StorageConfig  `yaml:"storage"`
	LockFile  string         `yaml:"lock_file"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
	LogDir    string         `yaml:"log_dir"`
}

// MongoConfig holds MongoDB connection settings
type MongoConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	AuthSource     string        `yaml:"auth_source"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Direct         bool          `yaml:"direct"`
}

// URI builds the MongoDB connection string.
func (m MongoConfig) URI() string {
	host := fmt.Sprintf("%s:%d", m.Host, m.Port)
	if m.Username != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s", m.Username, m.Password, host)
	}
	return fmt.Sprintf("mongodb://%s", host)
}

// SnapshotConfig holds EBS snapshot settings
type SnapshotConfig struct {
	Region              string        `yaml:"region"`
	VolumeTagKey        string        `yaml:"volume_tag_key"`
	WaitForCompletion   bool          `yaml:"wait_for_completion"`
	WaitTimeout         time.Duration `yaml:"wait_timeout"`
	IncludeConfigServer bool          `yaml:"include_config_server"`
}

// StorageConfig holds manifest storage backend settings
type StorageConfig struct {
	Type   string   `yaml:"type"` // s3 or local
	Path   string   `yaml:"path"` // bucket name or local path
	Region string   `yaml:"region"`
	Prefix string   `yaml:"prefix"`
	S3     S3Config `yaml:"s3"`
}

// S3Config holds AWS S3 specific settings
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override from environment variables
	cfg.overrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Mongo: MongoConfig{
			Host:           "localhost",
			Port:           27017,
			ConnectTimeout: 10 * time.Second,
		},
		Snapshot: SnapshotConfig{
			VolumeTagKey:        "mongodb:replset",
			WaitForCompletion:   false,
			WaitTimeout:         30 * time.Minute,
			IncludeConfigServer: true,
		},
		Storage: StorageConfig{
			Type:   "local",
			Path:   "./backup",
			Prefix: "mongo-snapshots",
		},
		LockFile:  "/var/run/aws-snapshot.lock",
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if c.Mongo.Host == "" {
		return fmt.Errorf("mongo host must be specified")
	}
	if c.Mongo.Port < 1 || c.Mongo.Port > 65535 {
		return fmt.Errorf("mongo port must be between 1 and 65535")
	}

	if c.LockFile == "" {
		return fmt.Errorf("lock file path must be specified")
	}

	if c.Snapshot.Region == "" {
		return fmt.Errorf("snapshot region must be specified")
	}
	if err := v.ValidateTagKey(c.Snapshot.VolumeTagKey); err != nil {
		return err
	}
	if c.Snapshot.WaitForCompletion && c.Snapshot.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive when waiting for completion")
	}

	if c.Storage.Type == "" {
		return fmt.Errorf("storage type must be specified")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path must be specified")
	}
	if err := v.ValidateStorageType(c.Storage.Type); err != nil {
		return err
	}
	if c.Storage.Type == "s3" && c.Storage.Region == "" {
		return fmt.Errorf("s3 region must be specified")
	}

	if err := v.ValidateLogFormat(c.LogFormat); err != nil {
		return err
	}

	return nil
}

// overrideFromEnv overrides configuration from environment variables
func (c *Config) overrideFromEnv() {
	// Mongo overrides
	if val := os.Getenv("MONGO_HOST"); val != "" {
		c.Mongo.Host = val
	}
	if val := os.Getenv("MONGO_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Mongo.Port = port
		}
	}
	if val := os.Getenv("MONGO_USERNAME"); val != "" {
		c.Mongo.Username = val
	}
	if val := os.Getenv("MONGO_PASSWORD"); val != "" {
		c.Mongo.Password = val
	}

	// Snapshot overrides
	if val := os.Getenv("AWS_REGION"); val != "" {
		c.Snapshot.Region = val
		if c.Storage.Region == "" {
			c.Storage.Region = val
		}
	}

	// Storage overrides
	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		c.Storage.Type = val
	}
	if val := os.Getenv("STORAGE_PATH"); val != "" {
		c.Storage.Path = val
	}

	// S3 overrides
	if val := os.Getenv("AWS_ACCESS_KEY_ID"); val != "" {
		c.Storage.S3.AccessKeyID = val
	}
	if val := os.Getenv("AWS_SECRET_ACCESS_KEY"); val != "" {
		c.Storage.S3.SecretAccessKey = val
	}

	// Lock file override
	if val := os.Getenv("SNAPSHOT_LOCK_FILE"); val != "" {
		c.LockFile = val
	}
}
