package parquet

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoint = "http://minio:9000"
	cfg.Bucket = "irma-archive"
	cfg.AccessKey = "access"
	cfg.SecretKey = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestConfigMissing(t *testing.T) {
	err := DefaultConfig().Validate()
	if err == nil {
		t.Fatal("expected validation error for missing endpoint/bucket/credentials")
	}
	for _, want := range []string{"s3 endpoint", "s3 bucket", "s3 secret key"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PARQUET_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("PARQUET_S3_BUCKET", "irma-archive")
	t.Setenv("PARQUET_S3_ACCESS_KEY", "access")
	t.Setenv("PARQUET_S3_SECRET_KEY", "secret")
	t.Setenv("PARQUET_PREFIX", "archive/")
	t.Setenv("PARQUET_FLUSH_INTERVAL", "10m")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Prefix != "archive/" {
		t.Fatalf("unexpected prefix %s", cfg.Prefix)
	}
	if cfg.FlushInterval != 10*time.Minute {
		t.Fatalf("unexpected flush interval %s", cfg.FlushInterval)
	}
	if cfg.BatchRows != 5000 || cfg.Region != "us-east-1" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestServiceConfigFromEnv(t *testing.T) {
	t.Setenv("PARQUET_NATS_URL", "nats://nats:4222")
	t.Setenv("PARQUET_NATS_STREAM", "IRMA")
	t.Setenv("PARQUET_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("PARQUET_S3_BUCKET", "irma-archive")
	t.Setenv("PARQUET_S3_ACCESS_KEY", "access")
	t.Setenv("PARQUET_S3_SECRET_KEY", "secret")
	t.Setenv("PARQUET_PULL_TIMEOUT", "2s")

	cfg, err := ServiceConfigFromEnv()
	if err != nil {
		t.Fatalf("ServiceConfigFromEnv() error = %v", err)
	}
	if cfg.Consumer.Durable != "irma_parquet" || cfg.Consumer.PullBatch != 256 {
		t.Fatalf("unexpected consumer %+v", cfg.Consumer)
	}
	if cfg.Consumer.PullTimeout != 2*time.Second {
		t.Fatalf("unexpected pull timeout %s", cfg.Consumer.PullTimeout)
	}
	if cfg.Subject() != "irma.events.>" || cfg.Writer.Bucket != "irma-archive" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
