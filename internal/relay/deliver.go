package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"pushrelay/internal/storage"
	"pushrelay/internal/vapid"
	"pushrelay/internal/webpush"
	logx "pushrelay/pkg/logx"
)

// deliver runs the whole pipeline for one target. It never panics and never
// returns an error; everything ends up in the result.
func (r *Relay) deliver(ctx context.Context, log logx.Logger, cfg Config, lim *rate.Limiter, key *vapid.SigningKey, rec storage.Record) (res TargetResult) {
	start := time.Now()
	res = TargetResult{Key: rec.Key, Endpoint: rec.Subscription.Endpoint, User: rec.User}
	log = log.With(logx.String("key", rec.Key))

	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeFailed
			res.err = fmt.Errorf("relay: panic delivering to %s: %v", rec.Key, p)
			res.Error = res.err.Error()
			log.Error("panic in delivery", logx.Any("panic", p), logx.Stack(logx.StackTrace(3, 16)))
		}
		res.Duration = time.Since(start)
		if r.obs != nil {
			r.obs.ObserveTarget(res)
		}
		r.publish(EventTarget, res)
	}()

	fail := func(err error) TargetResult {
		res.Outcome = OutcomeFailed
		res.err = err
		res.Error = err.Error()
		log.Warn("push failed", logx.Int("status", res.StatusCode), logx.Err(err))
		return res
	}

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fail(fmt.Errorf("relay: rate limiter: %w", err))
		}
	}

	aud, err := vapid.Audience(rec.Subscription.Endpoint)
	if err != nil {
		return fail(&vapid.SigningError{Reason: "audience", Err: err})
	}
	token, err := r.signer.Sign(key, aud, cfg.Subject, cfg.TokenTTL)
	if err != nil {
		return fail(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	resp, err := r.sender.Send(callCtx, webpush.Request{
		Endpoint:  rec.Subscription.Endpoint,
		Token:     token,
		PublicKey: key.PublicKeyBase64(),
		TTL:       cfg.PushTTL,
		Urgency:   cfg.Urgency,
	})
	cancel()
	if err != nil {
		var te *webpush.TransientError
		if !errors.As(err, &te) {
			err = &webpush.TransientError{Err: err}
		}
		return fail(err)
	}
	if resp == nil {
		return fail(&webpush.TransientError{Err: errors.New("sender returned no response")})
	}
	res.StatusCode = resp.StatusCode

	switch webpush.Classify(resp.StatusCode) {
	case webpush.Delivered:
		res.Outcome = OutcomeDelivered
		log.Debug("push delivered", logx.Int("status", resp.StatusCode))
		return res
	case webpush.Gone:
		if err := r.store.Delete(ctx, rec.Key); err != nil {
			return fail(&StoreError{Op: "delete", Key: rec.Key, Err: err})
		}
		res.Outcome = OutcomePruned
		res.err = webpush.ResponseError(resp)
		res.Error = res.err.Error()
		log.Info("subscription pruned", logx.Int("status", resp.StatusCode), logx.String("user", rec.User))
		return res
	default:
		return fail(webpush.ResponseError(resp))
	}
}
