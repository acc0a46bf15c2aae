package intake

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.Stream = "IRMA"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if got := cfg.Subject(); got != "irma.instructions.>" {
		t.Fatalf("unexpected subject %s", got)
	}

	cfg.Durable = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected durable validation error")
	}
}

func TestConfigMissing(t *testing.T) {
	if err := DefaultConfig().Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subjects.yaml")
	content := "mappings:\n  - source: \"irma.instructions.sell\"\n    target: \"irma.instructions.sale\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("NATS_STREAM", "IRMA")
	t.Setenv(envDurable, "intake_devnet")
	t.Setenv(envSubjectMap, path)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Durable != "intake_devnet" {
		t.Fatalf("unexpected durable %s", cfg.Durable)
	}
	if len(cfg.SubjectMappings) != 1 || cfg.SubjectMappings[0].Target != "irma.instructions.sale" {
		t.Fatalf("unexpected mappings %+v", cfg.SubjectMappings)
	}
}
