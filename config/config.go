// Package config holds the consumer settings. Values are layered: defaults,
// then an optional YAML file, then environment variables, then CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/Batos41/cloud-computing-hw/encoder"
	"github.com/Batos41/cloud-computing-hw/sink"
)

// Destination kinds.
const (
	KindS3     = "s3"
	KindDynamo = "dynamo"
)

// Destination selects the store widgets are written to. Exactly one of
// Bucket or Table is set, matching Kind.
type Destination struct {
	Kind   string `yaml:"kind"`
	Bucket string `yaml:"bucket"`
	Table  string `yaml:"table"`

	// Object store only.
	Prefix    string `yaml:"prefix"`
	Format    string `yaml:"format"`
	KeyLayout string `yaml:"key_layout"`
}

// Quarantine is the optional dead-letter location. At most one of Bucket or
// QueueURL is set.
type Quarantine struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	QueueURL string `yaml:"queue_url"`
}

func (q Quarantine) Enabled() bool { return q.Bucket != "" || q.QueueURL != "" }

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Config struct {
	RequestBucket string      `yaml:"request_bucket"`
	RequestPrefix string      `yaml:"request_prefix"`
	Destination   Destination `yaml:"destination"`
	Quarantine    Quarantine  `yaml:"quarantine"`

	// Region and Endpoint override the AWS SDK defaults; Endpoint is meant
	// for local stacks.
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	Workers      int           `yaml:"workers"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxDeferrals int           `yaml:"max_deferrals"`
	// MaxBodyBytes bounds a single request body; larger requests are poison.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	Log Log `yaml:"log"`
}

func Default() Config {
	return Config{
		Destination: Destination{
			Kind:      KindS3,
			Format:    encoder.FormatJSON,
			KeyLayout: sink.LayoutOwner,
		},
		Workers:      1,
		IdleTimeout:  30 * time.Second,
		PollInterval: time.Second,
		MaxDeferrals: 5,
		MaxBodyBytes: 1 << 20,
		Log:          Log{Level: "info"},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides settings from environment variables. getenv is usually
// os.Getenv; unset or empty variables leave the current value alone.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, name string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	set(&c.RequestBucket, "REQUEST_BUCKET")
	set(&c.Destination.Kind, "DESTINATION")
	set(&c.Destination.Bucket, "DESTINATION_BUCKET")
	set(&c.Destination.Table, "DESTINATION_TABLE")
	set(&c.Quarantine.Bucket, "QUARANTINE_BUCKET")
	set(&c.Quarantine.QueueURL, "QUARANTINE_QUEUE_URL")
	set(&c.Region, "AWS_REGION")
	set(&c.Endpoint, "AWS_ENDPOINT_URL")
	set(&c.Log.Level, "LOG_LEVEL")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.RequestBucket == "" {
		return errors.New("request bucket is required")
	}

	d := c.Destination
	switch d.Kind {
	case KindS3:
		if d.Bucket == "" {
			return errors.New("destination bucket is required when destination is s3")
		}
		if d.Table != "" {
			return errors.New("destination table must not be set when destination is s3")
		}
		if d.Bucket == c.RequestBucket && overlaps(c.RequestPrefix, destinationRoot(d)) {
			return errors.New("destination keys must not fall under the request prefix of the same bucket")
		}
		if _, err := encoder.ForFormat(d.Format); err != nil {
			return err
		}
		if _, err := sink.KeyFuncFor(d.KeyLayout); err != nil {
			return err
		}
	case KindDynamo:
		if d.Table == "" {
			return errors.New("destination table is required when destination is dynamo")
		}
		if d.Bucket != "" {
			return errors.New("destination bucket must not be set when destination is dynamo")
		}
	default:
		return fmt.Errorf("unsupported destination: %q", d.Kind)
	}

	if c.Quarantine.Bucket != "" && c.Quarantine.QueueURL != "" {
		return errors.New("quarantine bucket and queue url are mutually exclusive")
	}
	if c.Quarantine.Bucket == c.RequestBucket && overlaps(c.RequestPrefix, keyRoot(c.Quarantine.Prefix)) {
		return errors.New("quarantine keys must not fall under the request prefix of the same bucket")
	}

	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be > 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be > 0")
	}
	if c.MaxDeferrals < 0 {
		return errors.New("max deferrals must be >= 0")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be > 0")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// keyRoot is the literal prefix every key written under prefix starts with.
func keyRoot(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// destinationRoot is the literal prefix shared by every widget key the S3
// sink writes for d.
func destinationRoot(d Destination) string {
	if root := keyRoot(d.Prefix); root != "" {
		return root
	}
	return sink.LayoutRoot(d.KeyLayout)
}

// overlaps reports whether a listing of requestPrefix can return keys that
// start with root.
func overlaps(requestPrefix, root string) bool {
	return strings.HasPrefix(root, requestPrefix) || strings.HasPrefix(requestPrefix, root)
}
