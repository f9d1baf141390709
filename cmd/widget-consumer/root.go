package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Batos41/cloud-computing-hw/config"
)

// runFunc starts the consumer with a validated configuration.
type runFunc func(ctx context.Context, cfg *config.Config, log *logrus.Logger) error

type flags struct {
	configPath string

	requestBucket string
	requestPrefix string
	destination   string
	bucket        string
	table         string
	prefix        string
	format        string
	keyLayout     string

	quarantineBucket   string
	quarantinePrefix   string
	quarantineQueueURL string

	region   string
	endpoint string

	workers      int
	idleTimeout  time.Duration
	pollInterval time.Duration
	maxDeferrals int

	logLevel string
	logJSON  bool
}

func newRootCmd(run runFunc) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "widget-consumer",
		Short: "Consume widget requests from S3 and store the widgets",
		Long: `widget-consumer polls a request bucket, turns every request object into a
widget and writes it to an S3 bucket or a DynamoDB table. Requests are deleted
only after their widget was stored. The process exits when no request has
arrived for the idle timeout.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, &f, os.Getenv)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, log)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "YAML config file")
	fs.StringVarP(&f.requestBucket, "request-bucket", "r", "", "bucket to read requests from")
	fs.StringVar(&f.requestPrefix, "request-prefix", "", "only consume request keys with this prefix")
	fs.StringVarP(&f.destination, "destination", "d", "", "destination store: s3 or dynamo")
	fs.StringVarP(&f.bucket, "bucket", "b", "", "destination bucket (s3)")
	fs.StringVarP(&f.table, "table", "t", "", "destination table (dynamo)")
	fs.StringVar(&f.prefix, "prefix", "", "destination key prefix (s3)")
	fs.StringVar(&f.format, "format", "", "widget encoding: json, msgpack or parquet (s3)")
	fs.StringVar(&f.keyLayout, "key-layout", "", "widget key layout: owner or flat (s3)")
	fs.StringVar(&f.quarantineBucket, "quarantine-bucket", "", "bucket for rejected requests")
	fs.StringVar(&f.quarantinePrefix, "quarantine-prefix", "", "key prefix inside the quarantine bucket")
	fs.StringVar(&f.quarantineQueueURL, "quarantine-queue-url", "", "SQS queue URL for rejected requests")
	fs.StringVar(&f.region, "region", "", "AWS region")
	fs.StringVar(&f.endpoint, "endpoint", "", "AWS endpoint override, e.g. a local stack")
	fs.IntVar(&f.workers, "workers", 0, "requests processed concurrently")
	fs.DurationVar(&f.idleTimeout, "idle-timeout", 0, "exit after this long without requests")
	fs.DurationVar(&f.pollInterval, "poll-interval", 0, "pause between empty listings")
	fs.IntVar(&f.maxDeferrals, "max-deferrals", 0, "failed passes before a request is quarantined")
	fs.StringVar(&f.logLevel, "log-level", "", "log level")
	fs.BoolVar(&f.logJSON, "log-json", false, "log as JSON")

	return cmd
}

// resolveConfig layers the config file, the environment and the flags that
// were set explicitly, then validates the result.
func resolveConfig(cmd *cobra.Command, f *flags, getenv func(string) string) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(getenv)

	fs := cmd.Flags()
	str := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	str("request-bucket", &cfg.RequestBucket, f.requestBucket)
	str("request-prefix", &cfg.RequestPrefix, f.requestPrefix)
	str("destination", &cfg.Destination.Kind, f.destination)
	str("bucket", &cfg.Destination.Bucket, f.bucket)
	str("table", &cfg.Destination.Table, f.table)
	str("prefix", &cfg.Destination.Prefix, f.prefix)
	str("format", &cfg.Destination.Format, f.format)
	str("key-layout", &cfg.Destination.KeyLayout, f.keyLayout)
	str("quarantine-bucket", &cfg.Quarantine.Bucket, f.quarantineBucket)
	str("quarantine-prefix", &cfg.Quarantine.Prefix, f.quarantinePrefix)
	str("quarantine-queue-url", &cfg.Quarantine.QueueURL, f.quarantineQueueURL)
	str("region", &cfg.Region, f.region)
	str("endpoint", &cfg.Endpoint, f.endpoint)
	str("log-level", &cfg.Log.Level, f.logLevel)

	if fs.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fs.Changed("idle-timeout") {
		cfg.IdleTimeout = f.idleTimeout
	}
	if fs.Changed("poll-interval") {
		cfg.PollInterval = f.pollInterval
	}
	if fs.Changed("max-deferrals") {
		cfg.MaxDeferrals = f.maxDeferrals
	}
	if fs.Changed("log-json") {
		cfg.Log.JSON = f.logJSON
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(c config.Log) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	if c.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
