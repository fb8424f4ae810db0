// Package envelope encrypts plaintext messages into scheme-tagged envelopes
// and back. The envelope's type field is the sole signal a decrypting party
// uses to pick a decryption path; it is never inferred from byte shape.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/InternetOfPeers/hiero-message-box/internal/keys"
)

const (
	aesKeySize   = 32
	gcmNonceSize = 12
	gcmTagSize   = 16
)

var (
	// ErrSchemeMismatch is returned when an envelope's scheme differs from
	// the private key's scheme. It indicates a configuration or routing
	// error, never corruption, and is surfaced distinctly from
	// ErrAuthenticationFailed.
	ErrSchemeMismatch = errors.New("envelope scheme does not match key scheme")
	// ErrAuthenticationFailed is returned when the GCM tag does not verify
	// or the RSA-OAEP unwrap fails.
	ErrAuthenticationFailed = errors.New("envelope authentication failed")
	ErrMalformedEnvelope    = errors.New("malformed envelope")
	ErrEncryption           = errors.New("encryption failed")
)

// hexBytes marshals binary envelope fields as lowercase hex strings, the
// wire form readers of existing boxes expect.
type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// Envelope is the scheme-tagged ciphertext structure carrying everything
// needed to decrypt, given the right private key.
//
// RSA: EncryptedKey wraps the AES session key under RSA-OAEP(SHA-256) and
// EncryptedData is the AES-256-GCM ciphertext (tag appended).
// ECIES: EphemeralPublicKey is a fresh compressed secp256k1 point,
// EncryptedData is AES-256-GCM ciphertext with the tag carried separately
// in AuthTag, and the AES key is SHA-256 of the ECDH shared x-coordinate.
type Envelope struct {
	Type               keys.Scheme `json:"type"`
	EncryptedKey       hexBytes    `json:"encryptedKey,omitempty"`
	EphemeralPublicKey hexBytes    `json:"ephemeralPublicKey,omitempty"`
	IV                 hexBytes    `json:"iv"`
	EncryptedData      hexBytes    `json:"encryptedData"`
	AuthTag            hexBytes    `json:"authTag,omitempty"`
	Curve              string      `json:"curve,omitempty"`
}

// Encrypt seals plaintext for the recipient described by rec, dispatching
// purely on the record's scheme.
func Encrypt(plaintext []byte, rec keys.PublicKeyRecord) (Envelope, error) {
	switch rec.Scheme {
	case keys.SchemeRSA:
		return encryptRSA(plaintext, rec)
	case keys.SchemeECIES:
		return encryptECIES(plaintext, rec)
	default:
		return Envelope{}, fmt.Errorf("%w: unknown scheme %q", ErrEncryption, rec.Scheme)
	}
}

// Decrypt opens env with kp. The scheme check runs before any key material
// is touched so routing errors never look like corruption.
func Decrypt(env Envelope, kp *keys.KeyPair) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	if kp == nil || env.Type != kp.Scheme {
		return nil, fmt.Errorf("%w: envelope %q, key %q", ErrSchemeMismatch, env.Type, kpScheme(kp))
	}
	switch env.Type {
	case keys.SchemeRSA:
		return decryptRSA(env, kp)
	case keys.SchemeECIES:
		return decryptECIES(env, kp)
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrMalformedEnvelope, env.Type)
	}
}

// Encode renders the envelope as its JSON wire form.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses the JSON wire form, rejecting envelopes whose type field is
// absent or ambiguous.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(bytes.TrimSpace(data), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch env.Type {
	case keys.SchemeRSA, keys.SchemeECIES:
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Type)
	}
}

func encryptRSA(plaintext []byte, rec keys.PublicKeyRecord) (Envelope, error) {
	pub, err := rec.RSAPublicKey()
	if err != nil {
		return Envelope{}, err
	}
	sessionKey := make([]byte, aesKeySize)
	if _, err := rand.Read(sessionKey); err != nil {
		return Envelope{}, err
	}
	defer zeroBytes(sessionKey)
	iv := make([]byte, gcmNonceSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, err
	}
	aead, err := newAESGCM(sessionKey)
	if err != nil {
		return Envelope{}, err
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return Envelope{
		Type:          keys.SchemeRSA,
		EncryptedKey:  wrapped,
		IV:            iv,
		EncryptedData: aead.Seal(nil, iv, plaintext, nil),
	}, nil
}

func decryptRSA(env Envelope, kp *keys.KeyPair) ([]byte, error) {
	if len(env.EncryptedKey) == 0 || len(env.IV) != gcmNonceSize {
		return nil, fmt.Errorf("%w: missing RSA fields", ErrMalformedEnvelope)
	}
	sessionKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, kp.RSA, env.EncryptedKey, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	defer zeroBytes(sessionKey)
	aead, err := newAESGCM(sessionKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.IV, env.EncryptedData, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func encryptECIES(plaintext []byte, rec keys.PublicKeyRecord) (Envelope, error) {
	recipient, err := secp256k1.ParsePubKey(rec.KeyMaterial)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	ephemeral, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return Envelope{}, err
	}
	key := eciesSymmetricKey(ephemeral, recipient)
	defer zeroBytes(key)
	iv := make([]byte, gcmNonceSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, err
	}
	aead, err := newAESGCM(key)
	if err != nil {
		return Envelope{}, err
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - gcmTagSize
	return Envelope{
		Type:               keys.SchemeECIES,
		EphemeralPublicKey: ephemeral.PubKey().SerializeCompressed(),
		IV:                 iv,
		EncryptedData:      sealed[:split],
		AuthTag:            sealed[split:],
		Curve:              keys.CurveSecp256k1,
	}, nil
}

func decryptECIES(env Envelope, kp *keys.KeyPair) ([]byte, error) {
	if len(env.IV) != gcmNonceSize || len(env.AuthTag) != gcmTagSize {
		return nil, fmt.Errorf("%w: missing ECIES fields", ErrMalformedEnvelope)
	}
	if env.Curve != "" && env.Curve != keys.CurveSecp256k1 {
		return nil, fmt.Errorf("%w: unsupported curve %q", ErrMalformedEnvelope, env.Curve)
	}
	ephemeral, err := secp256k1.ParsePubKey(env.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ephemeral key", ErrMalformedEnvelope)
	}
	key := eciesSymmetricKey(kp.ECIES, ephemeral)
	defer zeroBytes(key)
	aead, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte(nil), env.EncryptedData...), env.AuthTag...)
	plaintext, err := aead.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// eciesSymmetricKey hashes the ECDH shared x-coordinate into an AES-256 key.
func eciesSymmetricKey(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) []byte {
	shared := secp256k1.GenerateSharedSecret(priv, pub)
	defer zeroBytes(shared)
	sum := sha256.Sum256(shared)
	return sum[:]
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func kpScheme(kp *keys.KeyPair) keys.Scheme {
	if kp == nil {
		return ""
	}
	return kp.Scheme
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
