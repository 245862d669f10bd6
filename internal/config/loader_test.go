package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  gemini:
    api_key: test-key
    model: gemini-2.0-flash
  fallbacks:
    - name: openai-tier
      provider: openai
      api_key: sk-test
      model: gpt-4o-mini
    - name: local
      provider: ollama
      model: llama3.2
retry:
  max_retries: 3
  base_delay: 2s
  max_jitter: 1s
breaker:
  max_failures: 5
  cooldown: 30s
snapshots:
  postgres_dsn: postgres://u:p@localhost:5432/citydna
live:
  model: gemini-2.5-flash-native-audio-preview
  user_language: English
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.Gemini.APIKey != "test-key" {
		t.Errorf("Gemini.APIKey = %q", cfg.Providers.Gemini.APIKey)
	}
	if len(cfg.Providers.Fallbacks) != 2 {
		t.Fatalf("got %d fallbacks, want 2", len(cfg.Providers.Fallbacks))
	}
	if cfg.Providers.Fallbacks[1].Provider != "ollama" {
		t.Errorf("fallback[1].Provider = %q", cfg.Providers.Fallbacks[1].Provider)
	}
	if cfg.Retry.BaseDelay.Std() != 2*time.Second {
		t.Errorf("Retry.BaseDelay = %v", cfg.Retry.BaseDelay)
	}
	if cfg.Breaker.Cooldown.Std() != 30*time.Second {
		t.Errorf("Breaker.Cooldown = %v", cfg.Breaker.Cooldown)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	yaml := `
server:
  listen_addr: ":8080"
  lisssten_addr: typo
providers:
  gemini:
    api_key: k
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("LoadFromReader() error = nil, want unknown-field error")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	yaml := `
server:
  log_level: verbose
providers:
  fallbacks:
    - name: ""
      provider: ""
      model: ""
retry:
  max_retries: -1
`
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("LoadFromReader() error = nil, want joined validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"server.log_level",
		"providers.gemini.api_key is required",
		"providers.fallbacks[0].name is required",
		"providers.fallbacks[0].provider is required",
		"providers.fallbacks[0].model is required",
		"retry.max_retries",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestValidateDuplicateFallbackNames(t *testing.T) {
	yaml := `
providers:
  gemini:
    api_key: k
  fallbacks:
    - name: tier
      provider: openai
      model: gpt-4o-mini
    - name: tier
      provider: ollama
      model: llama3.2
`
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("error = %v, want duplicate-name error", err)
	}
}

func TestValidateTLSRequiresBothFiles(t *testing.T) {
	yaml := `
server:
  tls:
    cert_file: /etc/tls/cert.pem
providers:
  gemini:
    api_key: k
`
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "server.tls.key_file") {
		t.Fatalf("error = %v, want missing key_file error", err)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("CITYDNA_TEST_KEY", "from-env")

	path := t.TempDir() + "/config.yaml"
	yaml := `
providers:
  gemini:
    api_key: ${CITYDNA_TEST_KEY}
`
	if err := writeFile(path, yaml); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Gemini.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want env expansion", cfg.Providers.Gemini.APIKey)
	}
}
