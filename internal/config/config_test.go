package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/InternetOfPeers/hiero-message-box/internal/keys"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.EncryptionScheme != keys.SchemeRSA {
		t.Fatalf("default scheme should be RSA, got %q", cfg.EncryptionScheme)
	}
	if cfg.MaxChunkPayloadBytes != 1024 {
		t.Fatalf("default chunk payload should track the ledger limit, got %d", cfg.MaxChunkPayloadBytes)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "encryptionScheme: ECIES\nnetwork: mainnet\nmaxChunkPayloadBytes: 512\npollInterval: 2s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.EncryptionScheme != keys.SchemeECIES || cfg.Network != "mainnet" {
		t.Fatalf("file values not merged: %+v", cfg)
	}
	if cfg.MaxChunkPayloadBytes != 512 || cfg.PollInterval != 2*time.Second {
		t.Fatalf("file values not merged: %+v", cfg)
	}
	if cfg.ReassemblyStaleAfter != 10*time.Minute {
		t.Fatalf("unset fields must keep defaults: %+v", cfg)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("network: testnet\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MSGBOX_NETWORK", "mainnet")
	t.Setenv("MSGBOX_MAX_CHUNK_PAYLOAD_BYTES", "256")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Network != "mainnet" || cfg.MaxChunkPayloadBytes != 256 {
		t.Fatalf("environment overrides not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.EncryptionScheme = "ROT13"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidScheme) {
		t.Fatalf("expected ErrInvalidScheme, got %v", err)
	}
	cfg = Default()
	cfg.Network = "localnet"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidNetwork) {
		t.Fatalf("expected ErrInvalidNetwork, got %v", err)
	}
	cfg = Default()
	cfg.MaxChunkPayloadBytes = 4096
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize, got %v", err)
	}
}

func TestMirrorURLOverride(t *testing.T) {
	cfg := Default()
	if cfg.MirrorURL() == "" {
		t.Fatalf("default mirror URL should resolve from network")
	}
	cfg.MirrorBaseURL = "http://127.0.0.1:5551"
	if cfg.MirrorURL() != "http://127.0.0.1:5551" {
		t.Fatalf("override not honored: %q", cfg.MirrorURL())
	}
}
