package keys

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

const mnemonicSecretInfo = "hiero-message-box/ecies-secret/v1"

// NewECIES derives an ECIES key pair from an externally supplied account
// secret. Only secp256k1 secrets can perform ECDH; any other key type is
// rejected rather than silently degraded.
func NewECIES(secretType SecretKeyType, secret []byte) (*KeyPair, error) {
	priv, err := eciesPrivateKey(secretType, secret)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Scheme: SchemeECIES,
		ECIES:  priv,
		Public: PublicKeyRecord{
			Scheme:      SchemeECIES,
			Curve:       CurveSecp256k1,
			KeyMaterial: priv.PubKey().SerializeCompressed(),
		},
	}, nil
}

// DerivePublicKey is the pure counterpart of NewECIES: the same secret
// always yields the same public record, so a published record can be
// verified without holding a local copy of the secret.
func DerivePublicKey(secretType SecretKeyType, secret []byte) (PublicKeyRecord, error) {
	kp, err := NewECIES(secretType, secret)
	if err != nil {
		return PublicKeyRecord{}, err
	}
	return kp.Public, nil
}

func eciesPrivateKey(secretType SecretKeyType, secret []byte) (*secp256k1.PrivateKey, error) {
	if secretType != SecretKeySecp256k1 {
		return nil, fmt.Errorf("%w: ECIES requires a secp256k1 secret, got %q", ErrUnsupportedSchemeForKeyType, secretType)
	}
	if len(secret) != 32 {
		return nil, fmt.Errorf("%w: secp256k1 secret must be 32 bytes, got %d", ErrUnsupportedSchemeForKeyType, len(secret))
	}
	priv := secp256k1.PrivKeyFromBytes(secret)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("%w: secret is the zero scalar", ErrUnsupportedSchemeForKeyType)
	}
	return priv, nil
}

// SecretFromMnemonic turns a BIP-39 wallet mnemonic into a secp256k1 secret
// usable with NewECIES. Derivation is deterministic.
func SecretFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic", ErrUnsupportedSchemeForKeyType)
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	reader := hkdf.New(sha256.New, seed, nil, []byte(mnemonicSecretInfo))
	secret := make([]byte, 32)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, err
	}
	return secret, nil
}
