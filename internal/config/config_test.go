package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Falcon.ClientID = "abc123"
	cfg.Falcon.ClientSecret = "s3cret"
	return cfg
}

func TestValidate_ResolvesRegion(t *testing.T) {
	cfg := validConfig()
	cfg.Falcon.Cloud = "eu-1"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Falcon.BaseURL != "https://api.eu-1.crowdstrike.com" {
		t.Errorf("base URL = %q, want eu-1 endpoint", cfg.Falcon.BaseURL)
	}
}

func TestValidate_RejectsUnknownRegion(t *testing.T) {
	cfg := validConfig()
	cfg.Falcon.Cloud = "mars-1"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "invalid falcon cloud") {
		t.Fatalf("expected invalid cloud error, got %v", err)
	}
}

func TestValidate_RejectsMissingCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Falcon.ClientIDEnv = ""
	cfg.Falcon.ClientSecretEnv = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

// TestValidate_OffsetAndLatestAreMutuallyExclusive verifies the conflicting
// resumption modes are rejected before any network call.
func TestValidate_OffsetAndLatestAreMutuallyExclusive(t *testing.T) {
	cfg := validConfig()
	offset := int64(100)
	cfg.Stream.Offset = &offset
	cfg.Stream.Latest = true

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected mutual exclusivity error, got %v", err)
	}
}

func TestValidate_StreamName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"eda", true},
		{"falconstream01", true},
		{"UPPER", true}, // lowercased before validation
		{"", false},
		{"has-dashes", false},
		{"waytoolongastreamnamethatkeepsongoing", false},
	}

	for _, tt := range tests {
		cfg := validConfig()
		cfg.Stream.Name = tt.name
		err := cfg.Validate()
		if tt.ok && err != nil {
			t.Errorf("stream name %q rejected: %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("stream name %q accepted, want rejection", tt.name)
		}
	}
}

func TestValidate_LowercasesStreamName(t *testing.T) {
	cfg := validConfig()
	cfg.Stream.Name = "MyStream"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Stream.Name != "mystream" {
		t.Errorf("stream name = %q, want %q", cfg.Stream.Name, "mystream")
	}
}

func TestValidate_RejectsNegativeDelay(t *testing.T) {
	cfg := validConfig()
	cfg.Stream.Delay = -1 * time.Second

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative delay")
	}
}

func TestValidate_KafkaNeedsBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for kafka without brokers")
	}
}

func TestLoad_ReadsFileAndEnv(t *testing.T) {
	t.Setenv("TEST_FALCON_SECRET", "from-env")

	data := `
falcon:
  client_id: abc123
  client_secret_env: TEST_FALCON_SECRET
  cloud: us-2
stream:
  name: eda
  exclude_event_types:
    - AuthActivityAuditEvent
  delay: 250ms
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Falcon.ClientSecret != "from-env" {
		t.Errorf("client secret = %q, want env-resolved value", cfg.Falcon.ClientSecret)
	}
	if cfg.Falcon.BaseURL != "https://api.us-2.crowdstrike.com" {
		t.Errorf("base URL = %q, want us-2 endpoint", cfg.Falcon.BaseURL)
	}
	if cfg.Stream.Delay != 250*time.Millisecond {
		t.Errorf("delay = %v, want 250ms", cfg.Stream.Delay)
	}
	if len(cfg.Stream.ExcludeEventTypes) != 1 {
		t.Errorf("exclude list = %v, want one entry", cfg.Stream.ExcludeEventTypes)
	}
	// Defaults survive a partial file.
	if cfg.Sink.QueueSize != 1000 {
		t.Errorf("queue size = %d, want default 1000", cfg.Sink.QueueSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
