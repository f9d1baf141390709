package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "consumer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func valid() Config {
	c := Default()
	c.RequestBucket = "requests"
	c.Destination.Bucket = "widgets"
	return c
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeFile(t, `
request_bucket: requests
destination:
  kind: dynamo
  table: widgets
quarantine:
  queue_url: https://sqs.us-east-1.amazonaws.com/123/dead
workers: 4
idle_timeout: 45s
poll_interval: 250ms
log:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "requests", cfg.RequestBucket)
	assert.Equal(t, Destination{Kind: KindDynamo, Table: "widgets", Format: "json", KeyLayout: "owner"}, cfg.Destination)
	assert.True(t, cfg.Quarantine.Enabled())
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 45*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxDeferrals)
	assert.Equal(t, Log{Level: "debug", JSON: true}, cfg.Log)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "request_bucket: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "request_bukket: typo\n"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := valid()
	env := map[string]string{
		"REQUEST_BUCKET":    "incoming",
		"DESTINATION":       "dynamo",
		"DESTINATION_TABLE": "widgets-table",
		"AWS_REGION":        "eu-west-1",
		"LOG_LEVEL":         " warn ",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "incoming", cfg.RequestBucket)
	assert.Equal(t, KindDynamo, cfg.Destination.Kind)
	assert.Equal(t, "widgets-table", cfg.Destination.Table)
	assert.Equal(t, "widgets", cfg.Destination.Bucket, "unset variables keep the current value")
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	require.NoError(t, func() error { c := valid(); return c.Validate() }())

	cases := map[string]func(*Config){
		"no request bucket":       func(c *Config) { c.RequestBucket = "" },
		"s3 without bucket":       func(c *Config) { c.Destination.Bucket = "" },
		"s3 with table":           func(c *Config) { c.Destination.Table = "t" },
		"dynamo without table":    func(c *Config) { c.Destination.Kind = KindDynamo },
		"dynamo with bucket":      func(c *Config) { c.Destination.Kind = KindDynamo; c.Destination.Table = "t" },
		"unknown destination":     func(c *Config) { c.Destination.Kind = "mysql" },
		"destination is requests": func(c *Config) { c.Destination.Bucket = "requests" },
		"unknown format":          func(c *Config) { c.Destination.Format = "avro" },
		"unknown key layout":      func(c *Config) { c.Destination.KeyLayout = "nested" },
		"two quarantines":         func(c *Config) { c.Quarantine = Quarantine{Bucket: "q", QueueURL: "u"} },
		"no workers":              func(c *Config) { c.Workers = 0 },
		"zero idle timeout":       func(c *Config) { c.IdleTimeout = 0 },
		"negative poll interval":  func(c *Config) { c.PollInterval = -time.Second },
		"negative max deferrals":  func(c *Config) { c.MaxDeferrals = -1 },
		"zero max body":           func(c *Config) { c.MaxBodyBytes = 0 },
		"unknown log level":       func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	dyn := valid()
	dyn.Destination = Destination{Kind: KindDynamo, Table: "widgets"}
	assert.NoError(t, dyn.Validate())
}

func TestValidate_SharedBucketKeySpaces(t *testing.T) {
	cases := []struct {
		name          string
		requestPrefix string
		dest          Destination
		quarantine    Quarantine
		ok            bool
	}{
		{name: "whole bucket consumed", dest: Destination{Prefix: "out"}},
		{name: "owner layout under request prefix", requestPrefix: "widgets/", dest: Destination{}},
		{name: "flat layout under short request prefix", requestPrefix: "wid", dest: Destination{KeyLayout: "flat"}},
		{name: "destination prefix under request prefix", requestPrefix: "in/", dest: Destination{Prefix: "in/out"}},
		{name: "request prefix under destination prefix", requestPrefix: "out/in/", dest: Destination{Prefix: "out"}},
		{name: "prefix without slash matches longer key", requestPrefix: "in", dest: Destination{Prefix: "incoming"}},
		{name: "disjoint prefixes", requestPrefix: "in/", dest: Destination{Prefix: "out"}, ok: true},
		{name: "owner layout beside request prefix", requestPrefix: "in/", dest: Destination{}, ok: true},
		{name: "quarantine under request prefix", requestPrefix: "in/", dest: Destination{Prefix: "out"}, quarantine: Quarantine{Bucket: "shared", Prefix: "in/dead"}},
		{name: "quarantine without prefix", requestPrefix: "in/", dest: Destination{Prefix: "out"}, quarantine: Quarantine{Bucket: "shared"}},
		{name: "quarantine beside request prefix", requestPrefix: "in/", dest: Destination{Prefix: "out"}, quarantine: Quarantine{Bucket: "shared", Prefix: "dead"}, ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			c.RequestBucket = "shared"
			c.RequestPrefix = tc.requestPrefix
			tc.dest.Kind = KindS3
			tc.dest.Bucket = "shared"
			c.Destination = tc.dest
			c.Quarantine = tc.quarantine
			if tc.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}
