package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushrelay/internal/metrics"
	"pushrelay/internal/relay"
	"pushrelay/internal/storage"
	"pushrelay/internal/vapid"
	"pushrelay/internal/webpush"
)

type fixture struct {
	api    http.Handler
	store  storage.Store
	relay  *relay.Relay
	key    *vapid.SigningKey
	pushes *atomic.Int32
	push   *httptest.Server
}

func newFixture(t *testing.T, opts Options, keys vapid.KeySource) *fixture {
	t.Helper()

	f := &fixture{store: storage.NewMemory(), pushes: &atomic.Int32{}}
	f.push = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.pushes.Add(1)
		if strings.HasSuffix(r.URL.Path, "/gone") {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(f.push.Close)

	if keys == nil {
		k, err := vapid.Generate()
		require.NoError(t, err)
		f.key = k
		keys = vapid.Static(k)
	}
	f.relay = relay.New(relay.Config{Subject: "mailto:ops@example.com", Timeout: 2 * time.Second}, relay.Deps{
		Store:  f.store,
		Keys:   keys,
		Sender: webpush.NewClient(webpush.WithHTTPClient(f.push.Client())),
	})
	f.api = New(opts, Deps{Relay: f.relay, Store: f.store, Keys: keys, Metrics: metrics.New()}).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) subscribe(t *testing.T, path, user string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/subscribe", map[string]any{
		"subscription": map[string]any{
			"endpoint":       f.push.URL + path,
			"expirationTime": nil,
			"keys":           map[string]string{"p256dh": "BNc", "auth": "tBH"},
		},
		"user": user,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[map[string]any](t, rec)
	assert.Equal(t, true, out["ok"])
	return out["key"].(string)
}

func TestHealthAndPublicKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/vapid/public-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.key.PublicKeyBase64(), decode[map[string]string](t, rec)["publicKey"])

	g := newFixture(t, Options{}, vapid.NewKeyMaterial())
	rec = g.do(t, http.MethodGet, "/vapid/public-key", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubscribeValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	cases := []struct {
		name string
		body any
		want int
	}{
		{"no subscription", map[string]any{"user": "a"}, http.StatusBadRequest},
		{"empty endpoint", map[string]any{"subscription": map[string]any{"endpoint": " "}}, http.StatusBadRequest},
		{"relative endpoint", map[string]any{"subscription": map[string]any{"endpoint": "/push/1"}}, http.StatusBadRequest},
		{"bad scheme", map[string]any{"subscription": map[string]any{"endpoint": "ftp://push.example/1"}}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
		{"empty body", "", http.StatusBadRequest},
		{"ok", map[string]any{"subscription": map[string]any{"endpoint": "https://push.example/1"}}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/subscribe", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	rec, ok, err := f.store.Get(context.Background(), storage.KeyFor("https://push.example/1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "anonymous", rec.User)
}

func TestSubscribeListUnsubscribe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	k1 := f.subscribe(t, "/push/1", "alice")
	k2 := f.subscribe(t, "/push/2", "bob")
	assert.Equal(t, storage.KeyFor(f.push.URL+"/push/1"), k1)

	// resubscribing the same endpoint keeps one record
	f.subscribe(t, "/push/1", "alice")

	rec := f.do(t, http.MethodGet, "/subscriptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse](t, rec)
	assert.Equal(t, 2, list.Total)
	assert.ElementsMatch(t, []string{k1, k2}, list.Keys)
	require.NotNil(t, list.Sample)

	rec = f.do(t, http.MethodPost, "/unsubscribe", map[string]string{"key": k1})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/unsubscribe", map[string]string{"endpoint": f.push.URL + "/push/2"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/unsubscribe", map[string]string{"key": k1})
	require.Equal(t, http.StatusOK, rec.Code, "unsubscribe is idempotent")
	rec = f.do(t, http.MethodPost, "/unsubscribe", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	list = decode[listResponse](t, f.do(t, http.MethodGet, "/subscriptions", nil))
	assert.Zero(t, list.Total)
	assert.Nil(t, list.Sample)
	assert.Empty(t, list.Keys)
}

func TestMessageSyncBroadcast(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	f.subscribe(t, "/push/ok", "alice")
	gone := f.subscribe(t, "/push/gone", "bob")

	rec := f.do(t, http.MethodGet, "/notifications/latest", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/messages", map[string]any{"nickname": "carol", "message": "hello all"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decode[relay.Report](t, rec)
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 1, rep.Pruned)
	assert.Equal(t, int32(2), f.pushes.Load())

	_, ok, err := f.store.Get(context.Background(), gone)
	require.NoError(t, err)
	assert.False(t, ok)

	rec = f.do(t, http.MethodGet, "/notifications/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	n := decode[relay.Notification](t, rec)
	assert.Equal(t, "carol", n.Title)
	assert.Equal(t, "hello all", n.Body)
}

type ctxBroadcaster struct {
	relay.Message
	deadline time.Time
	canceled bool
}

func (b *ctxBroadcaster) Broadcast(ctx context.Context, msg relay.Message) (*relay.Report, error) {
	b.Message = msg
	b.deadline, _ = ctx.Deadline()
	b.canceled = ctx.Err() != nil
	return &relay.Report{}, nil
}

func (b *ctxBroadcaster) Enqueue(relay.Message) (string, error) { return "", relay.ErrStopped }
func (b *ctxBroadcaster) Status(string) (relay.JobStatus, bool) { return relay.JobStatus{}, false }
func (b *ctxBroadcaster) Latest() (relay.Notification, bool)    { return relay.Notification{}, false }
func (b *ctxBroadcaster) Probe(context.Context, string) (*relay.ProbeResult, error) {
	return nil, relay.ErrStopped
}

func TestMessageSyncOutlivesClient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		writeTimeout time.Duration
		budget       time.Duration
	}{
		{"default", 0, defaultWriteTimeout - syncResponseMargin},
		{"short write timeout", 3 * time.Second, 1500 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b := &ctxBroadcaster{}
			api := New(Options{WriteTimeout: tc.writeTimeout}, Deps{Relay: b, Store: storage.NewMemory()})

			gone, cancel := context.WithCancel(context.Background())
			cancel()
			req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"sender":"alice","text":"hi"}`)).WithContext(gone)
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			start := time.Now()
			api.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "alice", b.Sender)
			assert.False(t, b.canceled, "client disconnect must not cancel the fan-out")
			require.False(t, b.deadline.IsZero())
			assert.WithinDuration(t, start.Add(tc.budget), b.deadline, time.Second)
		})
	}
}

func TestMessageWithoutKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, vapid.NewKeyMaterial())
	rec := f.do(t, http.MethodPost, "/messages", map[string]any{"sender": "a", "text": "b"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMessageAsync(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	f.subscribe(t, "/push/ok", "alice")

	rec := f.do(t, http.MethodPost, "/messages?async=1", map[string]any{"sender": "a", "text": "b"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "queue not started")

	f.relay.Start(context.Background())
	t.Cleanup(func() { f.relay.Stop(context.Background()) })

	rec = f.do(t, http.MethodPost, "/messages?async=true", map[string]any{"sender": "a", "text": "b"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["job"]
	require.NotEmpty(t, id)
	assert.Equal(t, "/broadcasts/"+id, rec.Header().Get("Location"))

	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/broadcasts/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		return decode[relay.JobStatus](t, rec).State == relay.JobDone
	}, 2*time.Second, 10*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/broadcasts/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugRoutes(t *testing.T) {
	t.Parallel()

	off := newFixture(t, Options{}, nil)
	assert.Equal(t, http.StatusNotFound, off.do(t, http.MethodPost, "/send-test", map[string]string{"endpoint": "https://x"}).Code)
	assert.Equal(t, http.StatusNotFound, off.do(t, http.MethodGet, "/debug/vapid?key=x", nil).Code)
	assert.Equal(t, http.StatusNotFound, off.do(t, http.MethodGet, "/debug/pprof/cmdline", nil).Code)

	f := newFixture(t, Options{Debug: true}, nil)
	gone := f.subscribe(t, "/push/gone", "bob")

	rec := f.do(t, http.MethodPost, "/send-test", map[string]string{"keyName": gone})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[relay.ProbeResult](t, rec)
	assert.Equal(t, "gone", res.Outcome)
	assert.True(t, res.Token.Verified)
	assert.Equal(t, "p256ecdsa="+f.key.PublicKeyBase64(), res.CryptoKeyHeader)

	_, ok, err := f.store.Get(context.Background(), gone)
	require.NoError(t, err)
	assert.True(t, ok, "diagnostics never prune")

	rec = f.do(t, http.MethodGet, "/debug/vapid?key="+gone, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.push.URL, decode[relay.ProbeResult](t, rec).Audience)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/debug/vapid", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/debug/pprof/cmdline", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/debug/vapid?key=sub:missing", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/send-test", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/send-test", map[string]string{"endpoint": "nope"}).Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{CORSOrigins: []string{"https://chat.example"}}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/subscribe", nil)
	req.Header.Set("Origin", "https://chat.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	assert.Equal(t, "https://chat.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	f.do(t, http.MethodGet, "/healthz", nil)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pushrelay_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
}

func TestRunServesAndStops(t *testing.T) {
	t.Parallel()

	k, err := vapid.Generate()
	require.NoError(t, err)
	s := New(Options{Addr: "127.0.0.1:0"}, Deps{Store: storage.NewMemory(), Keys: vapid.Static(k)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
