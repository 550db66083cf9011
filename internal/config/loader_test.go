package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %s, got %s", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}

	def := Default()
	if cfg.Room != def.Room || cfg.APIURL != def.APIURL || cfg.Provider != ProviderREST {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.EnableAudioDelay != time.Second {
		t.Fatalf("expected 1s enable audio delay, got %s", cfg.EnableAudioDelay)
	}
	if !cfg.AutoEnableAudio {
		t.Fatalf("expected auto enable audio by default")
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("room: lobby\nrequest_timeout: 2s\nlivekit:\n  url: ws://media:7880\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("VOICEROOM_ROOM", "from-env")
	t.Setenv("VOICEROOM_API_KEY", "k1")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Room != "from-env" {
		t.Errorf("expected env to win over file, got room %q", cfg.Room)
	}
	if cfg.APIKey != "k1" {
		t.Errorf("expected api key from env, got %q", cfg.APIKey)
	}
	if cfg.RequestTimeout != 2*time.Second {
		t.Errorf("expected request timeout from file, got %s", cfg.RequestTimeout)
	}
	if cfg.LiveKit.URL != "ws://media:7880" {
		t.Errorf("expected nested livekit url from file, got %q", cfg.LiveKit.URL)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("provider: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(nil, path); err == nil {
		t.Fatalf("expected validation error for unknown provider")
	}
}

func TestDefaultConfigOmitsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.APIKey = "secret-key"
	cfg.LiveKit.APISecret = "secret"

	if err := writeDefaultConfig(path, cfg); err != nil {
		t.Fatalf("write default: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, secret := range []string{"secret-key", "api_secret: secret"} {
		if strings.Contains(string(data), secret) {
			t.Fatalf("default config leaked %q:\n%s", secret, data)
		}
	}
}

func TestUpdateFromOverridesNonZero(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Room: "other", APIKey: "k2", LiveKit: LiveKitConfig{APISecret: "s"}})

	if cfg.Room != "other" || cfg.APIKey != "k2" || cfg.LiveKit.APISecret != "s" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.APIURL != Default().APIURL {
		t.Fatalf("zero value must not override api url, got %q", cfg.APIURL)
	}
}

func TestDefaultAPIURLIsLocalDevRoomAPI(t *testing.T) {
	cfg := Default()
	if cfg.Provider != ProviderREST || cfg.APIURL != "http://localhost:8082" {
		t.Fatalf("expected rest provider against the local dev room api, got %s %s", cfg.Provider, cfg.APIURL)
	}
}
