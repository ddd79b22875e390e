package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pushrelay/internal/relay"
	"pushrelay/internal/storage"
	"pushrelay/internal/vapid"
	logx "pushrelay/pkg/logx"
)

const (
	defaultUser = "anonymous"
	listKeysMax = 200
	retryAfter  = "5"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.d.Health != nil {
		writeJSON(w, http.StatusOK, s.d.Health())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	k, err := s.d.Keys.Current()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "vapid key not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": k.PublicKeyBase64()})
}

type subscribeRequest struct {
	Subscription *storage.Subscription `json:"subscription"`
	User         string                `json:"user"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Subscription == nil || strings.TrimSpace(req.Subscription.Endpoint) == "" {
		writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}
	// Only endpoints a token can be signed for are worth storing.
	if _, err := vapid.Audience(req.Subscription.Endpoint); err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription endpoint")
		return
	}
	user := strings.TrimSpace(req.User)
	if user == "" {
		user = defaultUser
	}
	rec := storage.Record{
		Subscription: *req.Subscription,
		User:         user,
		CreatedAt:    time.Now().UTC(),
	}
	rec.Subscription.Endpoint = strings.TrimSpace(rec.Subscription.Endpoint)
	rec.Key = storage.KeyFor(rec.Subscription.Endpoint)
	if err := s.d.Store.Put(r.Context(), rec); err != nil {
		s.log.Error("store subscription failed", logx.String("key", rec.Key), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not store subscription")
		return
	}
	s.log.Info("subscription stored", logx.String("key", rec.Key), logx.String("user", user))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": rec.Key})
}

type targetRequest struct {
	Key      string `json:"key"`
	KeyName  string `json:"keyName"`
	Endpoint string `json:"endpoint"`
}

func (t targetRequest) key() string {
	switch {
	case strings.TrimSpace(t.Key) != "":
		return strings.TrimSpace(t.Key)
	case strings.TrimSpace(t.KeyName) != "":
		return strings.TrimSpace(t.KeyName)
	case strings.TrimSpace(t.Endpoint) != "":
		return storage.KeyFor(strings.TrimSpace(t.Endpoint))
	}
	return ""
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !readJSON(w, r, &req) {
		return
	}
	key := req.key()
	if key == "" {
		writeError(w, http.StatusBadRequest, "provide key or endpoint")
		return
	}
	if err := s.d.Store.Delete(r.Context(), key); err != nil {
		s.log.Error("delete subscription failed", logx.String("key", key), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not delete subscription")
		return
	}
	s.log.Info("subscription removed", logx.String("key", key))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type sampleEntry struct {
	Key   string         `json:"key"`
	Value storage.Record `json:"value"`
}

type listResponse struct {
	Total  int          `json:"total"`
	Sample *sampleEntry `json:"sample"`
	Keys   []string     `json:"keys"`
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	out := listResponse{Keys: []string{}}
	err := storage.Walk(r.Context(), s.d.Store, 0, func(page []storage.Record) error {
		for _, rec := range page {
			if out.Sample == nil {
				out.Sample = &sampleEntry{Key: rec.Key, Value: rec}
			}
			if len(out.Keys) < listKeysMax {
				out.Keys = append(out.Keys, rec.Key)
			}
			out.Total++
		}
		return nil
	})
	if err != nil {
		s.log.Error("list subscriptions failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not list subscriptions")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// messageRequest accepts the field spellings chat clients use.
type messageRequest struct {
	Sender   string    `json:"sender"`
	User     string    `json:"user"`
	Nickname string    `json:"nickname"`
	Text     string    `json:"text"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sentAt"`
}

func (m messageRequest) toMessage() relay.Message {
	return relay.Message{
		Sender: firstNonEmpty(m.Sender, m.User, m.Nickname),
		Text:   firstNonEmpty(m.Text, m.Message),
		SentAt: m.SentAt,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func asyncRequested(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("async")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !readJSON(w, r, &req) {
		return
	}
	msg := req.toMessage()

	if asyncRequested(r) {
		id, err := s.d.Relay.Enqueue(msg)
		if err != nil {
			w.Header().Set("Retry-After", retryAfter)
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		w.Header().Set("Location", "/broadcasts/"+id)
		writeJSON(w, http.StatusAccepted, map[string]string{"job": id})
		return
	}

	// The fan-out does not stop when the client goes away, and it finishes
	// before the write timeout so the report can still be sent.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.syncBudget())
	defer cancel()
	rep, err := s.d.Relay.Broadcast(ctx, msg)
	if err != nil {
		s.log.Error("broadcast failed", logx.Err(err))
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, vapid.ErrNoKey):
			status = http.StatusServiceUnavailable
		case errors.Is(err, relay.ErrStore):
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.d.Relay.Status(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown broadcast")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	n, ok := s.d.Relay.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleSendTest(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !readJSON(w, r, &req) {
		return
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	if k := firstNonEmpty(req.Key, req.KeyName); k != "" {
		rec, ok := s.lookup(w, r, strings.TrimSpace(k))
		if !ok {
			return
		}
		endpoint = rec.Subscription.Endpoint
	}
	if endpoint == "" {
		writeError(w, http.StatusBadRequest, "provide key or endpoint")
		return
	}
	s.probe(w, r, endpoint)
}

func (s *Server) handleDebugVapid(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing key query param")
		return
	}
	rec, ok := s.lookup(w, r, key)
	if !ok {
		return
	}
	s.probe(w, r, rec.Subscription.Endpoint)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, key string) (storage.Record, bool) {
	rec, err := storage.Lookup(r.Context(), s.d.Store, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "no such subscription")
		return rec, false
	case err != nil:
		s.log.Error("lookup subscription failed", logx.String("key", key), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not read subscription")
		return rec, false
	}
	return rec, true
}

func (s *Server) probe(w http.ResponseWriter, r *http.Request, endpoint string) {
	res, err := s.d.Relay.Probe(r.Context(), endpoint)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, vapid.ErrNoKey) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	s.log.Info("test push sent", logx.String("audience", res.Audience), logx.String("outcome", res.Outcome))
	writeJSON(w, http.StatusOK, res)
}
