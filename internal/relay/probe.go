package relay

import (
	"context"
	"fmt"
	"strings"

	"pushrelay/internal/vapid"
	"pushrelay/internal/webpush"
)

// ProbeResult describes one diagnostic push: what was signed, what was sent
// and what the push service answered.
type ProbeResult struct {
	Endpoint        string            `json:"endpoint"`
	Audience        string            `json:"audience"`
	Header64        string            `json:"header64"`
	Payload64       string            `json:"payload64"`
	CryptoKeyHeader string            `json:"cryptoKeyHeader"`
	Token           vapid.Inspection  `json:"token"`
	Outcome         string            `json:"outcome,omitempty"`
	Response        *webpush.Response `json:"pushResponse,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Probe signs and sends one push to endpoint without touching the store:
// a gone subscription is reported, not pruned. The error is non-nil only
// when nothing could be sent (no key, bad endpoint, signing failure).
func (r *Relay) Probe(ctx context.Context, endpoint string) (*ProbeResult, error) {
	cfg, _, _ := r.snapshot()
	key, err := r.keys.Current()
	if err != nil {
		return nil, fmt.Errorf("relay: signing key: %w", err)
	}
	aud, err := vapid.Audience(endpoint)
	if err != nil {
		return nil, err
	}
	token, err := r.signer.Sign(key, aud, cfg.Subject, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	req := webpush.Request{
		Endpoint:  endpoint,
		Token:     token,
		PublicKey: key.PublicKeyBase64(),
		TTL:       cfg.PushTTL,
		Urgency:   cfg.Urgency,
	}
	parts := strings.SplitN(token, ".", 3)
	out := &ProbeResult{
		Endpoint:        endpoint,
		Audience:        aud,
		Header64:        parts[0],
		Payload64:       parts[1],
		CryptoKeyHeader: req.Header().Get("Crypto-Key"),
		Token:           vapid.Inspect(token, &key.Private.PublicKey, aud),
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	resp, err := r.sender.Send(callCtx, req)
	if err != nil {
		out.Outcome = webpush.Transient.String()
		out.Error = err.Error()
		return out, nil
	}
	out.Response = resp
	out.Outcome = webpush.Classify(resp.StatusCode).String()
	if rerr := webpush.ResponseError(resp); rerr != nil {
		out.Error = rerr.Error()
	}
	return out, nil
}
