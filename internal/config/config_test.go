package config

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if v, ok := m.values[account]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]string

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	return i, true, err
}

func (m mapBackend) SetString(key, val string) error {
	m[key] = val
	return nil
}

func (m mapBackend) SetInt(key string, val int) error {
	m[key] = strconv.Itoa(val)
	return nil
}

func (m mapBackend) Delete(key string) error {
	delete(m, key)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{values: map[string]string{"openrouter_api_key": "kc-key"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.LLM.Provider != ProviderOpenRouter {
		t.Errorf("LLM.Provider = %q", cfg.LLM.Provider)
	}
	if cfg.Jobs.Backend != "sqlite" || cfg.Jobs.PollInterval != 500*time.Millisecond {
		t.Errorf("Jobs = %+v", cfg.Jobs)
	}
	if cfg.Pipeline.DirectMaxDepth != 3 || cfg.Pipeline.DirectTimeout != 30*time.Second {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.ChunkSize != 2 || cfg.Pipeline.ChunkDelay != time.Second || cfg.Pipeline.ContextWindow != 6 {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Compression.CacheSize != 256 {
		t.Errorf("Compression.CacheSize = %d", cfg.Compression.CacheSize)
	}
}

// TestBackendValues verifies that all value types are read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := mapBackend{
		"server.port":              "5000",
		"llm.provider":             "template",
		"jobs.backend":             "redis",
		"jobs.redis_addr":          "redis:6379",
		"pipeline.chunk_delay":     "250ms",
		"pipeline.chunk_size":      "3",
		"pipeline.worker_url":      "http://worker:4100",
		"pipeline.archetypes_file": "/etc/genius/archetypes.yaml",
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Jobs.Backend != "redis" || cfg.Jobs.RedisAddr != "redis:6379" {
		t.Errorf("Jobs = %+v", cfg.Jobs)
	}
	if cfg.Pipeline.ChunkDelay != 250*time.Millisecond || cfg.Pipeline.ChunkSize != 3 {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.WorkerURL != "http://worker:4100" || cfg.Pipeline.ArchetypesFile != "/etc/genius/archetypes.yaml" {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("GENIUS_OPENROUTER_API_KEY", "env-key")
	t.Setenv("GENIUS_SERVER_PORT", "7000")
	t.Setenv("GENIUS_PIPELINE_DIRECT_TIMEOUT", "45s")

	cfg, err := loadWith(mapBackend{"server.port": "5000"}, mockKeychain{values: map[string]string{"openrouter_api_key": "kc-key"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.OpenRouterAPIKey != "env-key" {
		t.Errorf("OpenRouterAPIKey = %q, want %q", cfg.LLM.OpenRouterAPIKey, "env-key")
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Pipeline.DirectTimeout != 45*time.Second {
		t.Errorf("DirectTimeout = %s, want 45s", cfg.Pipeline.DirectTimeout)
	}
}

// TestInvalidEnvKeepsDefault verifies that unparsable values fall back to defaults.
func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("GENIUS_LLM_PROVIDER", "template")
	t.Setenv("GENIUS_PIPELINE_CHUNK_DELAY", "soon")

	cfg, err := loadWith(mapBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.ChunkDelay != time.Second {
		t.Errorf("ChunkDelay = %s, want default 1s", cfg.Pipeline.ChunkDelay)
	}
}

// TestMissingRequiredField verifies a clear error when the API key is missing everywhere.
func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(mapBackend{}, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if got := err.Error(); !strings.Contains(got, "missing required config") {
		t.Errorf("error = %q, want it to contain %q", got, "missing required config")
	}
}

func TestGeminiProviderNeedsKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("GENIUS_LLM_PROVIDER", "gemini")

	if _, err := loadWith(mapBackend{}, mockKeychain{}); err == nil {
		t.Fatal("expected error for missing Gemini key")
	}
	cfg, err := loadWith(mapBackend{}, mockKeychain{values: map[string]string{"gemini_api_key": "g-key"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.GeminiAPIKey != "g-key" {
		t.Errorf("GeminiAPIKey = %q", cfg.LLM.GeminiAPIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)
	tests := []mapBackend{
		{"llm.provider": "ollama"},
		{"llm.provider": "template", "jobs.backend": "postgres"},
		{"llm.provider": "template", "pipeline.chunk_size": "0"},
	}
	for _, b := range tests {
		if _, err := loadWith(b, mockKeychain{}); err == nil {
			t.Errorf("expected error for %v", b)
		}
	}
}

// TestKeychainFallback verifies the secret store is consulted when no API key is set.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{values: map[string]string{"openrouter_api_key": "keychain-secret"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.OpenRouterAPIKey != "keychain-secret" {
		t.Errorf("OpenRouterAPIKey = %q, want %q", cfg.LLM.OpenRouterAPIKey, "keychain-secret")
	}
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}
	var secretAcct, secretVal string
	setSecret := func(service, account, value string) error {
		secretAcct, secretVal = account, value
		return nil
	}

	if err := setKey(b, setSecret, "pipeline.chunk_delay", "2s"); err != nil {
		t.Fatalf("setKey duration: %v", err)
	}
	if b["pipeline.chunk_delay"] != "2s" {
		t.Errorf("backend = %v", b)
	}
	if err := setKey(b, setSecret, "pipeline.chunk_delay", "later"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKey(b, setSecret, "server.port", "abc"); err == nil {
		t.Error("expected error for invalid integer")
	}
	if err := setKey(b, setSecret, "no.such.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKey(b, setSecret, "llm.gemini_api_key", "secret"); err != nil {
		t.Fatalf("setKey secret: %v", err)
	}
	if secretAcct != "gemini_api_key" || secretVal != "secret" {
		t.Errorf("secret stored as %q=%q", secretAcct, secretVal)
	}
	if _, ok := b["llm.gemini_api_key"]; ok {
		t.Error("secret written to plain backend")
	}
}

func TestUnsetKey(t *testing.T) {
	clearEnv(t)
	b := mapBackend{"server.port": "4100", "llm.model": "m", "llm.provider": ProviderTemplate}
	secrets := map[string]string{"openrouter_api_key": "sk-1"}
	setSecret := func(service, account, value string) error {
		secrets[account] = value
		return nil
	}

	if err := unsetKey(b, setSecret, "server.port"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	if _, ok := b["server.port"]; ok {
		t.Error("server.port still in backend")
	}
	if b["llm.model"] != "m" {
		t.Error("unrelated key removed")
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != defaults().Server.Port {
		t.Errorf("port = %d, want default %d", cfg.Server.Port, defaults().Server.Port)
	}

	if err := unsetKey(b, setSecret, "llm.openrouter_api_key"); err != nil {
		t.Fatalf("unsetKey secret: %v", err)
	}
	if secrets["openrouter_api_key"] != "" {
		t.Errorf("secret = %q, want blank", secrets["openrouter_api_key"])
	}

	if err := unsetKey(b, setSecret, "no.such.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.OpenRouterAPIKey = "sk-or-1234567890"

	found := false
	for _, k := range ShowAll(cfg) {
		switch k.Key {
		case "llm.openrouter_api_key":
			found = true
			if k.Value != "sk-o...7890" {
				t.Errorf("masked value = %q", k.Value)
			}
		case "llm.gemini_api_key":
			if k.Value != "(not set)" {
				t.Errorf("unset secret shown as %q", k.Value)
			}
		case "pipeline.chunk_delay":
			if k.Value != "1s" {
				t.Errorf("chunk_delay shown as %q", k.Value)
			}
		}
	}
	if !found {
		t.Error("openrouter key missing from ShowAll")
	}
}
