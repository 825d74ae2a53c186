package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MongoDB   MongoDBConfig   `mapstructure:"mongodb"`
	Search    SearchConfig    `mapstructure:"search"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Indexes   []IndexConfig   `mapstructure:"indexes"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MongoDBConfig contains MongoDB connection settings
type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Timeout  int    `mapstructure:"timeout"` // in seconds
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	IndexPath     string `mapstructure:"index_path"`
	FlushInterval int    `mapstructure:"flush_interval"` // in seconds, per-index refresh cadence
}

// ReconcileConfig contains settings for the reconciliation scheduler
type ReconcileConfig struct {
	WorkerCount       int    `mapstructure:"worker_count"`        // Number of concurrent reconcile workers
	QueueSize         int    `mapstructure:"queue_size"`          // Executor queue capacity before backpressure
	BatchSize         int    `mapstructure:"batch_size"`          // Documents per work unit
	BackoffIntervalMs int    `mapstructure:"backoff_interval_ms"` // Sleep between submit retries under backpressure
	MaxSubmitAttempts int    `mapstructure:"max_submit_attempts"` // 0 retries submission indefinitely
	StatePath         string `mapstructure:"state_path"`          // Path to store reconcile state for persistence
}

// IndexConfig describes one index/collection pair to keep reconciled
type IndexConfig struct {
	Name            string          `mapstructure:"name"`
	Database        string          `mapstructure:"database"`
	Collection      string          `mapstructure:"collection"`
	IDField         string          `mapstructure:"id_field,omitempty"`         // Custom field name for document ID (defaults to "_id")
	RefreshInterval string          `mapstructure:"refresh_interval,omitempty"` // Per-index refresh cadence, e.g. "30s"; "-1" disables
	Definition      IndexDefinition `mapstructure:"definition"`
}

// IndexDefinition mirrors the index mapping structure
type IndexDefinition struct {
	Mappings IndexMappings `mapstructure:"mappings"`
}

// IndexMappings contains field mappings for the index
type IndexMappings struct {
	Dynamic bool          `mapstructure:"dynamic"`
	Fields  []FieldConfig `mapstructure:"fields"`
}

// FieldConfig represents field-specific indexing configuration
type FieldConfig struct {
	Name     string `mapstructure:"name"`  // Field name in the index
	Field    string `mapstructure:"field"` // Source field name in the document
	Type     string `mapstructure:"type"`
	Analyzer string `mapstructure:"analyzer,omitempty"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/atlas-reconciler")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("OAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mongodb.timeout", 30)
	viper.SetDefault("search.index_path", "./indexes")
	viper.SetDefault("search.flush_interval", 30)
	// Reconcile scheduler defaults
	viper.SetDefault("reconcile.worker_count", 4)          // 4 concurrent workers
	viper.SetDefault("reconcile.queue_size", 16)           // 16 queued work units before backpressure
	viper.SetDefault("reconcile.batch_size", 1000)         // 1000 documents per work unit
	viper.SetDefault("reconcile.backoff_interval_ms", 100) // 100ms between submit retries
	viper.SetDefault("reconcile.max_submit_attempts", 0)   // Retry submission indefinitely
	viper.SetDefault("reconcile.state_path", "./reconcile_state.json")
}

// GetMongoURI returns the complete MongoDB connection URI
func (c *MongoDBConfig) GetMongoURI() string {
	if c.URI != "" {
		return c.URI
	}

	// Build URI from components if not provided directly
	uri := "mongodb://"
	if c.Username != "" && c.Password != "" {
		uri += fmt.Sprintf("%s:%s@", c.Username, c.Password)
	}
	uri += "localhost:27017"
	return uri
}
