package vapid

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// DefaultTokenTTL is the JWT lifetime used when none is configured.
const DefaultTokenTTL = 12 * time.Hour

// joseHeader is the fixed, pre-encoded JWS header.
var joseHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ES256","typ":"JWT"}`))

// Claims is the VAPID JWT payload. Field order matches the wire form.
type Claims struct {
	Audience string `json:"aud"`
	Expiry   int64  `json:"exp"`
	Subject  string `json:"sub"`
}

// Signer produces compact ES256 JWS tokens.
type Signer struct {
	now  func() time.Time
	rand io.Reader
}

type SignerOption func(*Signer)

// WithClock fixes the time source (tests).
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

func NewSigner(opts ...SignerOption) *Signer {
	s := &Signer{now: time.Now, rand: rand.Reader}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sign returns header.payload.signature for the given audience and subject.
// ttl is truncated to whole seconds and must be positive.
func (s *Signer) Sign(key *SigningKey, audience, subject string, ttl time.Duration) (string, error) {
	secs := int64(ttl / time.Second)
	if secs <= 0 {
		return "", &SigningError{Reason: "ttl must be at least one second, got " + ttl.String()}
	}
	if key == nil || key.Private == nil {
		return "", &SigningError{Reason: "no signing key"}
	}
	if strings.TrimSpace(audience) == "" {
		return "", &SigningError{Reason: "empty audience"}
	}

	payload, err := json.Marshal(Claims{
		Audience: audience,
		Expiry:   s.now().Unix() + secs,
		Subject:  subject,
	})
	if err != nil {
		return "", &SigningError{Reason: "encode claims", Err: err}
	}

	signingInput := joseHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	digest := sha256.Sum256([]byte(signingInput))

	der, err := ecdsa.SignASN1(s.rand, key.Private, digest[:])
	if err != nil {
		return "", &SigningError{Reason: "ecdsa", Err: err}
	}
	raw, err := DERToJOSE(der, scalarSize)
	if err != nil {
		return "", &SigningError{Reason: "signature encoding", Err: err}
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(raw), nil
}
