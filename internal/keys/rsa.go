package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	rsaKeyBits = 2048

	privateKeyFile = "msgbox_rsa_private.pem"
	publicKeyFile  = "msgbox_rsa_public.pem"
)

// GenerateRSA creates a fresh RSA key pair. Generation is randomized, so the
// result must be persisted: losing the private key makes every message sent
// to the box permanently undecryptable.
func GenerateRSA() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return rsaKeyPair(priv)
}

// SaveRSA writes the key pair to dir as two PEM files. When passphrase is
// non-empty the private key file is sealed (argon2id + XChaCha20-Poly1305)
// instead of being stored as plaintext PEM.
func SaveRSA(dir string, kp *KeyPair, passphrase string) error {
	if kp == nil || kp.Scheme != SchemeRSA || kp.RSA == nil {
		return fmt.Errorf("%w: not an RSA key pair", ErrUnsupportedScheme)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.RSA),
	})
	privData := privPEM
	if passphrase != "" {
		sealed, err := sealKeyFile([]byte(passphrase), privPEM)
		if err != nil {
			return err
		}
		privData = sealed
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), privData, 0o600); err != nil {
		return err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: kp.Public.KeyMaterial,
	})
	return os.WriteFile(filepath.Join(dir, publicKeyFile), pubPEM, 0o644)
}

// LoadRSA reads a previously persisted key pair from dir.
func LoadRSA(dir string, passphrase string) (*KeyPair, error) {
	data, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyMaterialMissing, filepath.Join(dir, privateKeyFile))
		}
		return nil, err
	}
	if isSealedKeyFile(data) {
		data, err = openKeyFile([]byte(passphrase), data)
		if err != nil {
			return nil, err
		}
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("%w: malformed private key file", ErrInvalidKeyRecord)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse rsa private key: %w", err)
	}
	return rsaKeyPair(priv)
}

// LoadOrCreateRSA loads the persisted pair when present and generates and
// persists a new one otherwise.
func LoadOrCreateRSA(dir string, passphrase string) (*KeyPair, error) {
	kp, err := LoadRSA(dir, passphrase)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, ErrKeyMaterialMissing) {
		return nil, err
	}
	kp, err = GenerateRSA()
	if err != nil {
		return nil, err
	}
	if err := SaveRSA(dir, kp, passphrase); err != nil {
		return nil, err
	}
	return kp, nil
}

func rsaKeyPair(priv *rsa.PrivateKey) (*KeyPair, error) {
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Scheme: SchemeRSA,
		RSA:    priv,
		Public: PublicKeyRecord{Scheme: SchemeRSA, KeyMaterial: der},
	}, nil
}
