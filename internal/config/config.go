package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	LogFile     struct {
		Path       string `mapstructure:"path"`
		MaxSizeMB  int    `mapstructure:"maxSizeMB"`
		MaxBackups int    `mapstructure:"maxBackups"`
		MaxAgeDays int    `mapstructure:"maxAgeDays"`
	} `mapstructure:"logFile"`
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"` // canonical (Identity) store
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
		SpokeDSN            string `mapstructure:"spokeDSN"` // external (Spoke) store
	} `mapstructure:"database"`
	NATS struct {
		URL          string `mapstructure:"url"`
		JobSubject   string `mapstructure:"jobSubject"`   // job descriptors (request/reply)
		QueueGroup   string `mapstructure:"queueGroup"`   // shared by all replicas
		AlertSubject string `mapstructure:"alertSubject"` // non-fatal sync warnings
		AlertStream  string `mapstructure:"alertStream"`  // JetStream stream retaining alerts; empty keeps alerts in the log only
	} `mapstructure:"nats"`
	Spoke    SpokeConfig    `mapstructure:"spoke"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Metrics  struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Handlers HandlerWorkerPoolConfig `mapstructure:"handlers"`
	} `mapstructure:"workerPools"`
}

// SpokeConfig is the sync surface for the external campaign system.
type SpokeConfig struct {
	PullBatchAmount int    `mapstructure:"pullBatchAmount"`
	PushBatchAmount int    `mapstructure:"pushBatchAmount"`
	BaseCampaignURL string `mapstructure:"baseCampaignURL"` // fmt template taking the campaign id, e.g. https://spoke.example/admin/%s
	// OptOutSubscriptionID is the canonical subscription opt-outs unsubscribe from; 0 disables opt-out sync.
	OptOutSubscriptionID uint     `mapstructure:"optOutSubscriptionID"`
	MobilePrefixes       []string `mapstructure:"mobilePrefixes"`
}

// ScheduleConfig holds the interval of each pull job. Zero disables the job.
type ScheduleConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	FetchNewMessages     time.Duration `mapstructure:"fetchNewMessages"`
	FetchNewOptOuts      time.Duration `mapstructure:"fetchNewOptOuts"`
	FetchActiveCampaigns time.Duration `mapstructure:"fetchActiveCampaigns"`
}

// HandlerWorkerPoolConfig holds configuration for the per-record handler pool
type HandlerWorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Max submitters blocked waiting for a worker
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("logFile.maxSizeMB", 100)
	v.SetDefault("logFile.maxBackups", 5)
	v.SetDefault("logFile.maxAgeDays", 14)
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("nats.jobSubject", "spoke.sync.jobs")
	v.SetDefault("nats.queueGroup", "spoke-identity-sync")
	v.SetDefault("nats.alertSubject", "spoke.sync.alerts")
	v.SetDefault("nats.alertStream", "SPOKE_SYNC_ALERTS")

	v.SetDefault("spoke.pullBatchAmount", 1000)
	v.SetDefault("spoke.pushBatchAmount", 1000)
	v.SetDefault("spoke.mobilePrefixes", []string{"614"})

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.fetchNewMessages", 5*time.Minute)
	v.SetDefault("schedule.fetchNewOptOuts", 30*time.Minute)
	v.SetDefault("schedule.fetchActiveCampaigns", 10*time.Minute)

	v.SetDefault("workerPools.handlers.poolSize", 10)
	v.SetDefault("workerPools.handlers.queueSize", 10000)
	v.SetDefault("workerPools.handlers.expiryTime", time.Minute)

	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.spoke-identity-sync")
	v.AddConfigPath("/etc/spoke-identity-sync")

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if dsn := os.Getenv("SPOKE_DSN"); dsn != "" {
		v.Set("database.spokeDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// PullBatch returns the configured pull page size, falling back to 1000.
func (c SpokeConfig) PullBatch() int {
	if c.PullBatchAmount > 0 {
		return c.PullBatchAmount
	}
	return 1000
}

// PushBatch returns the configured push batch size, falling back to 1000.
func (c SpokeConfig) PushBatch() int {
	if c.PushBatchAmount > 0 {
		return c.PushBatchAmount
	}
	return 1000
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
