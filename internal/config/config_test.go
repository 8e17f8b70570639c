package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseEnvFile(t *testing.T) {
	input := `# comment
POOLVIEW_ADDR=:9000

POOLVIEW_PORTAL_EMAIL="user@example.com"
POOLVIEW_PORTAL_PASSWORD='se cret'
MALFORMED LINE
`
	values, err := ParseEnvFile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseEnvFile failed: %v", err)
	}

	if values["POOLVIEW_ADDR"] != ":9000" {
		t.Errorf("Expected :9000, got %q", values["POOLVIEW_ADDR"])
	}
	if values["POOLVIEW_PORTAL_EMAIL"] != "user@example.com" {
		t.Errorf("Expected quotes stripped, got %q", values["POOLVIEW_PORTAL_EMAIL"])
	}
	if values["POOLVIEW_PORTAL_PASSWORD"] != "se cret" {
		t.Errorf("Expected single quotes stripped, got %q", values["POOLVIEW_PORTAL_PASSWORD"])
	}
	if _, ok := values["MALFORMED LINE"]; ok {
		t.Error("Malformed line should be skipped")
	}
}

func TestLoadCreatesFileWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Addr() != DefaultAddr {
		t.Errorf("Expected default addr %q, got %q", DefaultAddr, cfg.Addr())
	}
	if cfg.PortalBaseURL() != DefaultPortalBaseURL {
		t.Errorf("Expected default base URL, got %q", cfg.PortalBaseURL())
	}
	if cfg.PollInterval() != DefaultPollInterval {
		t.Errorf("Expected default poll interval, got %v", cfg.PollInterval())
	}
	if cfg.JWTSecret() == "" {
		t.Error("Expected generated JWT secret")
	}

	// The file should have been created with the generated secret
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected config file to be written: %v", err)
	}

	// A second load keeps the same secret
	cfg2, err := Load(path)
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if cfg2.JWTSecret() != cfg.JWTSecret() {
		t.Error("Expected JWT secret to survive reloads")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `POOLVIEW_ADDR=:9999
POOLVIEW_PORTAL_EMAIL=pool@example.com
POOLVIEW_PORTAL_PASSWORD=hunter2
POOLVIEW_POOL_ID=123
POOLVIEW_POLL_INTERVAL=60
POOLVIEW_LEGACY_TEMPERATURE=yes
POOLVIEW_MQTT_BROKER=tcp://broker:1883
POOLVIEW_JWT_SECRET=fixedsecret
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Addr() != ":9999" {
		t.Errorf("Expected :9999, got %q", cfg.Addr())
	}
	if cfg.PortalEmail() != "pool@example.com" {
		t.Errorf("Unexpected portal email %q", cfg.PortalEmail())
	}
	if cfg.PoolID() != "123" {
		t.Errorf("Unexpected pool ID %q", cfg.PoolID())
	}
	if cfg.PollInterval() != 60*time.Second {
		t.Errorf("Expected 60s poll interval, got %v", cfg.PollInterval())
	}
	if !cfg.LegacyTemperature() {
		t.Error("Expected legacy temperature enabled")
	}
	if cfg.MQTTBroker() != "tcp://broker:1883" {
		t.Errorf("Unexpected MQTT broker %q", cfg.MQTTBroker())
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad address", "POOLVIEW_ADDR=not-an-address\n"},
		{"poll interval too low", "POOLVIEW_POLL_INTERVAL=5\n"},
		{"bad portal URL", "POOLVIEW_PORTAL_BASE_URL=ftp://myindygo.com\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ".env")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestStringRedactsPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "POOLVIEW_PORTAL_PASSWORD=topsecret\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if strings.Contains(cfg.String(), "topsecret") {
		t.Error("String() must not leak the portal password")
	}
}
