package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/zhangzqs/shardpager-go"
	"github.com/zhangzqs/shardpager-go/rediscache"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "shardpager",
		Usage: "page through and export sharded query results cached in Redis",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path of a yaml, toml or json config file",
			},
			&cli.StringFlag{
				Name:  "redis",
				Usage: "redis URL, overrides redis.url",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (trace, debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			seedFlags(),
			progressFlags(),
			pageFlags(),
			exportFlags(),
		},
	}
}

// env holds what every command needs.
type env struct {
	conf  *Config
	opts  shardpager.Options
	cache *rediscache.Cache
}

func (e *env) close() {
	if err := e.cache.Close(); err != nil {
		logger.Warnf("close redis: %s", err)
	}
}

// setup loads the configuration and opens the cache.
func setup(c *cli.Context) (*env, error) {
	conf, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if url := c.String("redis"); url != "" {
		conf.Redis.URL = url
	}
	if lvl := c.String("log-level"); lvl != "" {
		conf.Log.Level = lvl
	}
	if err := setupLogger(conf.Log.Level, conf.Log.Format); err != nil {
		return nil, err
	}

	opts, err := conf.options()
	if err != nil {
		return nil, err
	}
	opts.Logger = logger
	opts.Metrics = shardpager.NewMetrics(prometheus.DefaultRegisterer)

	cache, err := rediscache.Open(conf.Redis.URL, rediscache.Config{
		TTL:     conf.Redis.TTL,
		Retries: conf.Redis.Retries,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return &env{conf: conf, opts: opts, cache: cache}, nil
}

func printJson(v any) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Fatalf("json: %s", err)
	}
	fmt.Println(string(output))
}
