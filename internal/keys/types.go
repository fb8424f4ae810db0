package keys

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58/base58"
)

// Scheme identifies one of the two supported hybrid encryption schemes.
// The values double as wire values in published key records and envelopes.
type Scheme string

const (
	SchemeRSA   Scheme = "RSA"
	SchemeECIES Scheme = "ECIES"
)

// SecretKeyType names the curve or algorithm of an externally supplied
// account secret.
type SecretKeyType string

const (
	SecretKeySecp256k1 SecretKeyType = "secp256k1"
	SecretKeyEd25519   SecretKeyType = "ed25519"
)

const (
	// CurveSecp256k1 is the only curve used for ECIES boxes.
	CurveSecp256k1 = "secp256k1"

	// RecordType is the discriminator of a published public key document.
	RecordType = "PUBLIC_KEY"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported encryption scheme")
	// ErrUnsupportedSchemeForKeyType is returned when ECIES is requested with
	// a secret that cannot perform ECDH (for example an ed25519 signing key).
	ErrUnsupportedSchemeForKeyType = errors.New("key type cannot serve the requested encryption scheme")
	// ErrKeyMaterialMissing is returned when persisted RSA key files are
	// absent from the local key directory.
	ErrKeyMaterialMissing = errors.New("persisted key material is missing")
	ErrInvalidKeyRecord   = errors.New("invalid public key record")
)

// PublicKeyRecord is the canonical serializable form of a key pair's public
// half. For RSA, KeyMaterial holds PKIX DER bytes. For ECIES, KeyMaterial
// holds a 33-byte compressed secp256k1 point and Curve names the curve.
type PublicKeyRecord struct {
	Scheme      Scheme
	Curve       string
	KeyMaterial []byte
}

// KeyPair holds the private key of exactly one scheme together with its
// public record. The scheme on the private half and on Public always match.
type KeyPair struct {
	Scheme Scheme
	RSA    *rsa.PrivateKey
	ECIES  *secp256k1.PrivateKey
	Public PublicKeyRecord
}

// publishedKeyDocument is the JSON document published as the first entry of
// a message box topic.
type publishedKeyDocument struct {
	Type           string `json:"type"`
	PublicKey      string `json:"publicKey"`
	EncryptionType Scheme `json:"encryptionType"`
	Curve          string `json:"curve,omitempty"`
}

// MarshalPublished renders the record as the canonical PUBLIC_KEY document.
// The same record always yields the same bytes, so the output is directly
// comparable and immutable for the life of a topic.
func MarshalPublished(rec PublicKeyRecord) ([]byte, error) {
	doc := publishedKeyDocument{Type: RecordType, EncryptionType: rec.Scheme}
	switch rec.Scheme {
	case SchemeRSA:
		block := &pem.Block{Type: "PUBLIC KEY", Bytes: rec.KeyMaterial}
		doc.PublicKey = string(pem.EncodeToMemory(block))
	case SchemeECIES:
		doc.PublicKey = hex.EncodeToString(rec.KeyMaterial)
		doc.Curve = CurveSecp256k1
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, rec.Scheme)
	}
	return json.Marshal(doc)
}

// ParsePublished decodes a PUBLIC_KEY document back into a record, verifying
// that the embedded key material parses for the declared scheme.
func ParsePublished(data []byte) (PublicKeyRecord, error) {
	var doc publishedKeyDocument
	if err := json.Unmarshal(bytes.TrimSpace(data), &doc); err != nil {
		return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrInvalidKeyRecord, err)
	}
	if doc.Type != RecordType {
		return PublicKeyRecord{}, fmt.Errorf("%w: unexpected document type %q", ErrInvalidKeyRecord, doc.Type)
	}
	switch doc.EncryptionType {
	case SchemeRSA:
		material, err := decodeRSAPublicKey(doc.PublicKey)
		if err != nil {
			return PublicKeyRecord{}, err
		}
		return PublicKeyRecord{Scheme: SchemeRSA, KeyMaterial: material}, nil
	case SchemeECIES:
		if doc.Curve != "" && doc.Curve != CurveSecp256k1 {
			return PublicKeyRecord{}, fmt.Errorf("%w: unsupported curve %q", ErrInvalidKeyRecord, doc.Curve)
		}
		material, err := hex.DecodeString(strings.TrimSpace(doc.PublicKey))
		if err != nil {
			return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrInvalidKeyRecord, err)
		}
		if _, err := secp256k1.ParsePubKey(material); err != nil {
			return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrInvalidKeyRecord, err)
		}
		return PublicKeyRecord{Scheme: SchemeECIES, Curve: CurveSecp256k1, KeyMaterial: material}, nil
	default:
		return PublicKeyRecord{}, fmt.Errorf("%w: unknown encryption type %q", ErrInvalidKeyRecord, doc.EncryptionType)
	}
}

func decodeRSAPublicKey(body string) ([]byte, error) {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "-----BEGIN") {
		block, _ := pem.Decode([]byte(body))
		if block == nil {
			return nil, fmt.Errorf("%w: malformed PEM", ErrInvalidKeyRecord)
		}
		if _, err := parsePKIXRSA(block.Bytes); err != nil {
			return nil, err
		}
		return block.Bytes, nil
	}
	der, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyRecord, err)
	}
	if _, err := parsePKIXRSA(der); err != nil {
		return nil, err
	}
	return der, nil
}

func parsePKIXRSA(der []byte) (*rsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyRecord, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKeyRecord)
	}
	return pub, nil
}

// RSAPublicKey parses the record's key material as an RSA public key.
func (r PublicKeyRecord) RSAPublicKey() (*rsa.PublicKey, error) {
	if r.Scheme != SchemeRSA {
		return nil, fmt.Errorf("%w: not an RSA record", ErrInvalidKeyRecord)
	}
	return parsePKIXRSA(r.KeyMaterial)
}

// Equal reports whether two records describe the same public key.
func (r PublicKeyRecord) Equal(other PublicKeyRecord) bool {
	return r.Scheme == other.Scheme && r.Curve == other.Curve && bytes.Equal(r.KeyMaterial, other.KeyMaterial)
}

// Fingerprint returns a short operator-facing identifier for a record:
// base58 of the SHA-256 over its canonical published form.
func Fingerprint(rec PublicKeyRecord) (string, error) {
	canonical, err := MarshalPublished(rec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return base58.Encode(sum[:]), nil
}
