package vapid

import (
	"crypto/ecdsa"
	"fmt"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Inspection is a decoded token, for debugging push-service rejections.
type Inspection struct {
	Header   map[string]any `json:"header"`
	Claims   map[string]any `json:"claims"`
	Verified bool           `json:"verified"`
	Error    string         `json:"error,omitempty"`
}

// Inspect decodes token and verifies its ES256 signature against pub. When
// audience is non-empty the aud claim must match it.
func Inspect(token string, pub *ecdsa.PublicKey, audience string) Inspection {
	opts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodES256.Alg()}),
		jwtv5.WithExpirationRequired(),
	}
	if audience != "" {
		opts = append(opts, jwtv5.WithAudience(audience))
	}
	p := jwtv5.NewParser(opts...)

	var out Inspection
	tok, err := p.Parse(token, func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		if pub == nil {
			return nil, fmt.Errorf("no public key to verify with")
		}
		return pub, nil
	})
	if err != nil {
		out.Error = err.Error()
		// Still show what was sent.
		if tok, _, perr := p.ParseUnverified(token, jwtv5.MapClaims{}); perr == nil {
			out.Header = tok.Header
			out.Claims, _ = tok.Claims.(jwtv5.MapClaims)
		}
		return out
	}

	out.Verified = tok.Valid
	out.Header = tok.Header
	out.Claims, _ = tok.Claims.(jwtv5.MapClaims)
	return out
}
