package vapid

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"strings"
	"sync"

	sha256 "github.com/minio/sha256-simd"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const (
	scalarSize    = 32
	publicKeySize = 65 // uncompressed point: 0x04 || X || Y
)

var oidNamedCurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}

// SigningKey is an imported P-256 key pair.
type SigningKey struct {
	Private *ecdsa.PrivateKey
	// Public is the uncompressed point, as sent in the Crypto-Key header.
	Public []byte
}

func newSigningKey(priv *ecdsa.PrivateKey) (*SigningKey, error) {
	if priv == nil || priv.Curve != elliptic.P256() {
		return nil, &KeyFormatError{Reason: "curve is not P-256"}
	}
	pub, err := priv.PublicKey.ECDH()
	if err != nil {
		return nil, &KeyFormatError{Reason: "public point", Err: err}
	}
	return &SigningKey{Private: priv, Public: pub.Bytes()}, nil
}

// PublicKeyBase64 returns the public point, base64url without padding.
func (k *SigningKey) PublicKeyBase64() string {
	return base64.RawURLEncoding.EncodeToString(k.Public)
}

// PrivateKeyBase64 returns the raw 32-byte scalar, base64url without padding.
func (k *SigningKey) PrivateKeyBase64() (string, error) {
	d, err := k.Private.ECDH()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(d.Bytes()), nil
}

// PEM returns the private key as a PKCS#8 PEM block.
func (k *SigningKey) PEM() (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Private)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// Generate creates a fresh key pair.
func Generate() (*SigningKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return newSigningKey(priv)
}

// Import parses private key material and, when public is non-empty, checks
// that it is the matching point.
//
// Accepted private encodings: PEM (PKCS#8 "PRIVATE KEY" or SEC1
// "EC PRIVATE KEY"), the same DER without armour in base64, or the raw 32-byte
// scalar in base64url/base64.
func Import(private, public string) (*SigningKey, error) {
	priv, err := parsePrivate(private)
	if err != nil {
		return nil, err
	}
	k, err := newSigningKey(priv)
	if err != nil {
		return nil, err
	}

	if public = strings.TrimSpace(public); public != "" {
		want, err := decodeBase64(public)
		if err != nil {
			return nil, &KeyFormatError{Reason: "public key is not base64", Err: err}
		}
		if len(want) != publicKeySize || want[0] != 0x04 {
			return nil, &KeyFormatError{Reason: "public key must be a 65-byte uncompressed P-256 point"}
		}
		if !bytes.Equal(want, k.Public) {
			return nil, &KeyFormatError{Reason: "public key does not match private key"}
		}
	}
	return k, nil
}

func parsePrivate(secret string) (*ecdsa.PrivateKey, error) {
	s := strings.TrimSpace(secret)
	if s == "" {
		return nil, &KeyFormatError{Reason: "private key is empty"}
	}

	if strings.Contains(s, "-----BEGIN") {
		block, _ := pem.Decode([]byte(s))
		if block == nil {
			return nil, &KeyFormatError{Reason: "malformed PEM block"}
		}
		return parsePrivateDER(block.Bytes)
	}

	raw, err := decodeBase64(s)
	if err != nil {
		return nil, &KeyFormatError{Reason: "private key is neither PEM nor base64", Err: err}
	}
	if len(raw) == scalarSize {
		return privateFromScalar(raw)
	}
	if len(raw) < scalarSize {
		return nil, &KeyFormatError{Reason: "private key too short"}
	}
	return parsePrivateDER(raw)
}

func parsePrivateDER(der []byte) (*ecdsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		ec, ok := k.(*ecdsa.PrivateKey)
		if !ok {
			return nil, &KeyFormatError{Reason: "PKCS#8 key is not ECDSA"}
		}
		return ec, nil
	}
	k, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, &KeyFormatError{Reason: "DER is neither PKCS#8 nor SEC1", Err: err}
	}
	return k, nil
}

// privateFromScalar wraps d in a SEC1 structure so x509 validates the range
// and derives the public point.
func privateFromScalar(d []byte) (*ecdsa.PrivateKey, error) {
	if bytes.Equal(d, make([]byte, scalarSize)) {
		return nil, &KeyFormatError{Reason: "private scalar is zero"}
	}
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(1)
		b.AddASN1OctetString(d)
		b.AddASN1(cbasn1.Tag(0).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidNamedCurveP256)
		})
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, &KeyFormatError{Reason: "encode scalar", Err: err}
	}
	k, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, &KeyFormatError{Reason: "private scalar out of range", Err: err}
	}
	return k, nil
}

// decodeBase64 accepts url-safe or standard alphabets, padded or not, with
// embedded line breaks.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// KeySource hands the relay the key to sign with.
type KeySource interface {
	Current() (*SigningKey, error)
}

type staticKey struct{ k *SigningKey }

func (s staticKey) Current() (*SigningKey, error) {
	if s.k == nil {
		return nil, ErrNoKey
	}
	return s.k, nil
}

// Static returns a KeySource that always yields k.
func Static(k *SigningKey) KeySource { return staticKey{k: k} }

// KeyMaterial imports keys once per distinct secret and tracks the key in use.
//
// Imported keys are cached under a digest of the raw secret, so re-applying an
// unchanged config costs one hash. A new secret flushes the cache.
type KeyMaterial struct {
	cache *gocache.Cache

	mu      sync.RWMutex
	current *SigningKey
}

func NewKeyMaterial() *KeyMaterial {
	return &KeyMaterial{cache: gocache.New(gocache.NoExpiration, 0)}
}

// Load imports (or reuses) the key for private/public and makes it current.
// On error the previous current key is left untouched.
func (m *KeyMaterial) Load(private, public string) (*SigningKey, error) {
	id := secretDigest(private, public)
	if v, ok := m.cache.Get(id); ok {
		k := v.(*SigningKey)
		m.setCurrent(k)
		return k, nil
	}

	k, err := Import(private, public)
	if err != nil {
		return nil, err
	}
	m.cache.Flush()
	m.cache.Set(id, k, gocache.NoExpiration)
	m.setCurrent(k)
	return k, nil
}

func (m *KeyMaterial) setCurrent(k *SigningKey) {
	m.mu.Lock()
	m.current = k
	m.mu.Unlock()
}

func (m *KeyMaterial) Current() (*SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoKey
	}
	return m.current, nil
}

func secretDigest(private, public string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(private) + "\x00" + strings.TrimSpace(public)))
	return hex.EncodeToString(sum[:])
}

// IsKeyFormat reports whether err is (or wraps) a KeyFormatError.
func IsKeyFormat(err error) bool { return errors.Is(err, ErrKeyFormat) }
