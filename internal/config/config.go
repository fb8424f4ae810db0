// Package config loads message box settings from an optional yaml file,
// merges them over defaults, and applies MSGBOX_* environment overrides.
// Secrets (the operator key, key file passphrases) are environment-only and
// never round-trip through the yaml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/InternetOfPeers/hiero-message-box/internal/keys"
	"github.com/InternetOfPeers/hiero-message-box/internal/ledger"
	"github.com/InternetOfPeers/hiero-message-box/internal/mirror"
)

var (
	ErrInvalidScheme    = errors.New("encryptionScheme must be RSA or ECIES")
	ErrInvalidNetwork   = errors.New("network must be testnet, mainnet, or local")
	ErrInvalidChunkSize = errors.New("maxChunkPayloadBytes must be positive and at most the ledger entry limit")
)

type Config struct {
	EncryptionScheme     keys.Scheme   `yaml:"encryptionScheme"`
	Network              string        `yaml:"network"`
	MirrorBaseURL        string        `yaml:"mirrorBaseUrl"`
	AccountID            string        `yaml:"accountId"`
	DataDir              string        `yaml:"dataDir"`
	MaxChunkPayloadBytes int           `yaml:"maxChunkPayloadBytes"`
	PollInterval         time.Duration `yaml:"pollInterval"`
	ReassemblyStaleAfter time.Duration `yaml:"reassemblyStaleAfter"`
}

func Default() Config {
	return Config{
		EncryptionScheme:     keys.SchemeRSA,
		Network:              mirror.NetworkTestnet,
		MaxChunkPayloadBytes: ledger.DefaultEntryLimit,
		PollInterval:         5 * time.Second,
		ReassemblyStaleAfter: 10 * time.Minute,
		DataDir:              ".msgbox",
	}
}

// Load reads the yaml file at path when it exists, merges it over the
// defaults, then applies environment overrides. A missing file is not an
// error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		} else {
			var parsed Config
			if err := yaml.Unmarshal(data, &parsed); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
			merge(&cfg, parsed)
		}
	}
	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func merge(dst *Config, src Config) {
	if src.EncryptionScheme != "" {
		dst.EncryptionScheme = src.EncryptionScheme
	}
	if src.Network != "" {
		dst.Network = src.Network
	}
	if src.MirrorBaseURL != "" {
		dst.MirrorBaseURL = src.MirrorBaseURL
	}
	if src.AccountID != "" {
		dst.AccountID = src.AccountID
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.MaxChunkPayloadBytes != 0 {
		dst.MaxChunkPayloadBytes = src.MaxChunkPayloadBytes
	}
	if src.PollInterval != 0 {
		dst.PollInterval = src.PollInterval
	}
	if src.ReassemblyStaleAfter != 0 {
		dst.ReassemblyStaleAfter = src.ReassemblyStaleAfter
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := envString("MSGBOX_ENCRYPTION_SCHEME"); v != "" {
		cfg.EncryptionScheme = keys.Scheme(v)
	}
	if v := envString("MSGBOX_NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := envString("MSGBOX_MIRROR_BASE_URL"); v != "" {
		cfg.MirrorBaseURL = v
	}
	if v := envString("MSGBOX_ACCOUNT_ID"); v != "" {
		cfg.AccountID = v
	}
	if v := envString("MSGBOX_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	cfg.MaxChunkPayloadBytes = envIntWithFallback("MSGBOX_MAX_CHUNK_PAYLOAD_BYTES", cfg.MaxChunkPayloadBytes)
	cfg.PollInterval = envDurationWithFallback("MSGBOX_POLL_INTERVAL", cfg.PollInterval)
	cfg.ReassemblyStaleAfter = envDurationWithFallback("MSGBOX_REASSEMBLY_STALE_AFTER", cfg.ReassemblyStaleAfter)
}

// OperatorSecret returns the hex-encoded operator secret from the
// environment. It intentionally has no yaml counterpart.
func OperatorSecret() string {
	return envString("MSGBOX_OPERATOR_KEY")
}

// KeyPassphrase returns the passphrase sealing the persisted RSA key file,
// empty when the file is stored unsealed.
func KeyPassphrase() string {
	return envString("MSGBOX_KEY_PASSPHRASE")
}

func (c Config) Validate() error {
	switch c.EncryptionScheme {
	case keys.SchemeRSA, keys.SchemeECIES:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScheme, c.EncryptionScheme)
	}
	switch c.Network {
	case mirror.NetworkTestnet, mirror.NetworkMainnet, mirror.NetworkLocal:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidNetwork, c.Network)
	}
	if c.MaxChunkPayloadBytes <= 0 || c.MaxChunkPayloadBytes > ledger.DefaultEntryLimit {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, c.MaxChunkPayloadBytes)
	}
	return nil
}

// MirrorURL resolves the effective query service base URL.
func (c Config) MirrorURL() string {
	if c.MirrorBaseURL != "" {
		return c.MirrorBaseURL
	}
	return mirror.BaseURLForNetwork(c.Network)
}
