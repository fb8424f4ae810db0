package keys

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// At-rest protection for the persisted RSA private key file. The file is a
// self-describing envelope so KDF parameters can be raised later without a
// migration tool.

const (
	keyFilePrefix      = "MBOXSEALED1\n"
	keyEnvelopeVersion = 1

	sealArgonTime    = uint32(2)
	sealArgonMemKB   = uint32(64 * 1024)
	sealArgonThreads = uint8(1)
)

var (
	ErrPassphraseRequired = errors.New("key file is sealed and requires a passphrase")
	ErrSealAuthFailed     = errors.New("sealed key file authentication failed")
)

type sealedKeyEnvelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

func sealKeyFile(passphrase, plaintext []byte) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := argon2.IDKey(passphrase, salt, sealArgonTime, sealArgonMemKB, sealArgonThreads, chacha20poly1305.KeySize)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	env := sealedKeyEnvelope{
		Version:     keyEnvelopeVersion,
		KDF:         "argon2id",
		KDFTime:     sealArgonTime,
		KDFMemoryKB: sealArgonMemKB,
		KDFThreads:  sealArgonThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(keyFilePrefix), raw...), nil
}

func isSealedKeyFile(data []byte) bool {
	return len(data) >= len(keyFilePrefix) && string(data[:len(keyFilePrefix)]) == keyFilePrefix
}

func openKeyFile(passphrase, data []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	var env sealedKeyEnvelope
	if err := json.Unmarshal(data[len(keyFilePrefix):], &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyRecord, err)
	}
	if env.Version != keyEnvelopeVersion || env.KDF != "argon2id" {
		return nil, fmt.Errorf("%w: unsupported seal parameters", ErrInvalidKeyRecord)
	}
	key := argon2.IDKey(passphrase, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer zeroBytes(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrSealAuthFailed
	}
	return plaintext, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
