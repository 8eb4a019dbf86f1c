package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zhangzqs/shardpager-go"
)

const envPrefix = "SHARDPAGER"

// Config is the file and environment configuration of the command line tool.
type Config struct {
	Query struct {
		Timeout      time.Duration `mapstructure:"timeout"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"query"`
	Shards struct {
		Min int `mapstructure:"min"`
		Max int `mapstructure:"max"`
	} `mapstructure:"shards"`
	// Collections lists the collections of a query, the last one being the max collection.
	Collections []string `mapstructure:"collections"`
	Export      struct {
		KeepCSVHeader     bool  `mapstructure:"keep_csv_header"`
		EscapeCSV         bool  `mapstructure:"escape_csv"`
		MaxRecordsPerFile int64 `mapstructure:"max_records_per_file"`
	} `mapstructure:"export"`
	// Envelope is an optional JSON response template.
	Envelope string `mapstructure:"envelope"`
	Redis    struct {
		URL     string        `mapstructure:"url"`
		TTL     time.Duration `mapstructure:"ttl"`
		Retries int           `mapstructure:"retries"`
	} `mapstructure:"redis"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("query.timeout", shardpager.DefaultQueryTimeout)
	v.SetDefault("query.poll_interval", shardpager.DefaultPollInterval)
	v.SetDefault("shards.min", 0)
	v.SetDefault("shards.max", 0)
	v.SetDefault("collections", []string{})
	v.SetDefault("export.keep_csv_header", false)
	v.SetDefault("export.escape_csv", false)
	v.SetDefault("export.max_records_per_file", shardpager.DefaultMaxRecordsPerFile)
	v.SetDefault("envelope", "")
	v.SetDefault("redis.url", "redis://127.0.0.1:6379/0")
	v.SetDefault("redis.ttl", 30*time.Minute)
	v.SetDefault("redis.retries", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// loadConfig reads path (optional) and SHARDPAGER_* environment variables,
// e.g. SHARDPAGER_QUERY_TIMEOUT=30s.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &conf, nil
}

// options builds pager and exporter options from conf.
func (conf *Config) options() (shardpager.Options, error) {
	opts := shardpager.DefaultOptions()
	opts.QueryTimeout = conf.Query.Timeout
	opts.PollInterval = conf.Query.PollInterval
	opts.KeepCSVHeader = conf.Export.KeepCSVHeader
	opts.EscapeCSV = conf.Export.EscapeCSV
	opts.MaxRecordsPerFile = conf.Export.MaxRecordsPerFile
	if conf.Envelope != "" {
		tmpl := []byte(conf.Envelope)
		if !strings.HasPrefix(strings.TrimSpace(conf.Envelope), "{") {
			data, err := os.ReadFile(conf.Envelope)
			if err != nil {
				return opts, fmt.Errorf("read envelope template: %w", err)
			}
			tmpl = data
		}
		env, err := shardpager.NewEnvelope(tmpl)
		if err != nil {
			return opts, err
		}
		opts.Envelope = env
	}
	return opts, opts.Validate()
}

// order builds the partition order of a query from conf.
func (conf *Config) order() (shardpager.PartitionOrder, error) {
	return shardpager.NewShardRangeOrder(conf.Collections, conf.Shards.Min, conf.Shards.Max)
}
