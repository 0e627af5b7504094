package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-profiles/internal/config"
	"github.com/JakeFAU/crawl-profiles/internal/frontier"
	"github.com/JakeFAU/crawl-profiles/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-profiles/internal/profile"
	"github.com/JakeFAU/crawl-profiles/internal/registry"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

type testEnv struct {
	server   *Server
	registry *registry.Registry
	queue    *frontier.Queue
}

func newTestEnv(t *testing.T, mutate func(*config.Config), opts ...Option) *testEnv {
	t.Helper()
	cfg := config.Config{
		Profiles: config.ProfilesConfig{
			ReservedNames:    config.DefaultReservedNames,
			DomainListLength: 10,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	q := frontier.NewQueue(16, zap.NewNop())
	t.Cleanup(q.Close)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	reg := registry.New(registry.WithWorkRemover(q), registry.WithClock(clock))
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RateLimit.RPS, DefaultBurst: cfg.RateLimit.Burst})
	return &testEnv{
		server:   NewServer(reg, q, limiter, clock, cfg, zap.NewNop(), opts...),
		registry: reg,
		queue:    q,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) create(t *testing.T, body map[string]any) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/profiles", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["handle"])
	return resp["handle"]
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_CreateAndGet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	handle := env.create(t, map[string]any{
		"name":           "news",
		"start_url":      "https://news.example.com/",
		"url_must_match": ".*example\\.com.*",
		"depth":          2,
		"dom_max_pages":  5,
		"cache_strategy": "if-fresh",
	})

	rec := env.do(t, http.MethodGet, "/v1/profiles/"+handle, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[profile.Report](t, rec)
	require.Equal(t, "news", report.Name)
	require.True(t, report.Active)
	require.Equal(t, 2, report.Depth)
	require.Equal(t, "5", report.CrawlingDomMaxPages)
	require.Equal(t, profile.CacheIfFresh, report.CacheStrategy)

	rec = env.do(t, http.MethodGet, "/v1/profiles/"+handle+"/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decode[map[string]string](t, rec)
	require.Equal(t, "news", settings[profile.KeyName])
	require.Equal(t, "2", settings[profile.KeyDepth])
}

func TestServer_CreateErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.create(t, map[string]any{"name": "dup"})

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "duplicate", body: map[string]any{"name": "dup"}, want: http.StatusConflict},
		{name: "missing name", body: map[string]any{"start_url": "https://example.com"}, want: http.StatusBadRequest},
		{name: "bad cache strategy", body: map[string]any{"name": "x", "cache_strategy": "sometimes"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodPost, "/v1/profiles", tt.body)
		require.Equal(t, tt.want, rec.Code, tt.name)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/profiles", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetUnknownProfile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/v1/profiles/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListProfiles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.create(t, map[string]any{"name": "proxy"})
	first := env.create(t, map[string]any{"name": "first"})
	env.create(t, map[string]any{"name": "second"})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/profiles/"+first+"/terminate", nil).Code)

	rec := env.do(t, http.MethodGet, "/v1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[listResponse](t, rec)
	require.Equal(t, registry.StatusActive, resp.Status)
	require.Equal(t, 2, resp.Active)
	require.Equal(t, 1, resp.Passive)
	require.Len(t, resp.Profiles, 2)
	require.Equal(t, "proxy", resp.Profiles[0].Name)
	require.Equal(t, "second", resp.Profiles[1].Name)

	resp = decode[listResponse](t, env.do(t, http.MethodGet, "/v1/profiles?terminable=true", nil))
	require.Len(t, resp.Profiles, 1)
	require.Equal(t, "second", resp.Profiles[0].Name)

	resp = decode[listResponse](t, env.do(t, http.MethodGet, "/v1/profiles?status=passive", nil))
	require.Len(t, resp.Profiles, 1)
	require.Equal(t, "first", resp.Profiles[0].Name)
	require.False(t, resp.Profiles[0].Active)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/profiles?status=archived", nil).Code)
}

func TestServer_UpdateProfile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	handle := env.create(t, map[string]any{"name": "editable"})

	rec := env.do(t, http.MethodPatch, "/v1/profiles/"+handle, updateRequest{Field: profile.KeyDepth, Value: "4"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "4", decode[map[string]string](t, rec)["value"])

	p, _, err := env.registry.Lookup(handle)
	require.NoError(t, err)
	require.Equal(t, 4, p.Depth())

	rec = env.do(t, http.MethodPatch, "/v1/profiles/"+handle, updateRequest{Field: profile.KeyHandle, Value: "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPatch, "/v1/profiles/"+handle, updateRequest{Field: profile.KeyDepth, Value: "deep"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPatch, "/v1/profiles/"+handle, updateRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPatch, "/v1/profiles/unknown", updateRequest{Field: profile.KeyDepth, Value: "1"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AdmitQueuesAdmittedURLs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	handle := env.create(t, map[string]any{
		"name":           "shop",
		"url_must_match": "https://shop\\.example\\.com/.*",
		"depth":          3,
		"dom_max_pages":  1,
	})
	path := "/v1/profiles/" + handle + "/admit"

	rec := env.do(t, http.MethodPost, path, profile.Candidate{URL: "https://shop.example.com/a", Depth: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[profile.Decision](t, rec)
	require.True(t, d.Admitted)
	require.Equal(t, "example.com", d.Domain)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, handle, item.Handle)
	require.Equal(t, "https://shop.example.com/a", item.URL)
	require.Equal(t, int64(1_700_000_000), item.Submitted)

	tests := []struct {
		candidate profile.Candidate
		want      profile.Reason
	}{
		{profile.Candidate{URL: "https://shop.example.com/b"}, profile.ReasonDomainCapReached},
		{profile.Candidate{URL: "https://other.org/"}, profile.ReasonURLMustMatch},
		{profile.Candidate{URL: "https://shop.example.com/c", Depth: 9}, profile.ReasonDepthExceeded},
		{profile.Candidate{URL: "https://shop.example.com/?q=1"}, profile.ReasonQueryNotAllowed},
	}
	for _, tt := range tests {
		d := decode[profile.Decision](t, env.do(t, http.MethodPost, path, tt.candidate))
		require.False(t, d.Admitted, tt.candidate.URL)
		require.Equal(t, tt.want, d.Reason, tt.candidate.URL)
	}
	require.Zero(t, env.queue.Len())

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, path, profile.Candidate{}).Code)
}

func TestServer_AdmitRateLimited(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	})
	handle := env.create(t, map[string]any{"name": "throttled"})
	path := "/v1/profiles/" + handle + "/admit"

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, path, profile.Candidate{URL: "https://a.example/"}).Code)
	require.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, path, profile.Candidate{URL: "https://b.example/"}).Code)
}

func TestServer_TerminateAndDelete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	handle := env.create(t, map[string]any{"name": "temporary"})
	other := env.create(t, map[string]any{"name": "keeper"})
	base := "/v1/profiles/" + handle

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/admit", profile.Candidate{URL: "https://a.example/"}).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/profiles/"+other+"/admit", profile.Candidate{URL: "https://b.example/"}).Code)
	require.Equal(t, 2, env.queue.Len())

	require.Equal(t, http.StatusConflict, env.do(t, http.MethodDelete, base, nil).Code)

	rec := env.do(t, http.MethodPost, base+"/terminate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "passive", decode[map[string]string](t, rec)["status"])
	require.Equal(t, 1, env.queue.Len())

	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, base+"/terminate", nil).Code)
	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, base+"/admit", profile.Candidate{URL: "https://a.example/"}).Code)
	require.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodPatch, base, updateRequest{Field: profile.KeyDepth, Value: "1"}).Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, base, nil).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, base, nil).Code)
	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/v1/profiles", map[string]any{"name": "temporary"}).Code)
}

func TestServer_ReservedProfilesAreProtected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	handle := env.create(t, map[string]any{"name": "surrogates"})

	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/profiles/"+handle+"/terminate", nil).Code)
	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, "/v1/profiles/"+handle, nil).Code)
	_, status, err := env.registry.Lookup(handle)
	require.NoError(t, err)
	require.Equal(t, registry.StatusActive, status)
}

func TestServer_IndexCheck(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	handle := env.create(t, map[string]any{
		"name":                     "indexer",
		"index_url_must_not_match": ".*\\.pdf",
	})
	path := "/v1/profiles/" + handle + "/index-check"

	d := decode[profile.Decision](t, env.do(t, http.MethodPost, path, indexCheckRequest{URL: "https://example.com/page"}))
	require.True(t, d.Admitted)
	d = decode[profile.Decision](t, env.do(t, http.MethodPost, path, indexCheckRequest{URL: "https://example.com/file.pdf"}))
	require.False(t, d.Admitted)
	require.Equal(t, profile.ReasonIndexMustNotMatch, d.Reason)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, path, indexCheckRequest{}).Code)
}

func TestServer_FieldsAndHealth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/v1/fields", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fields := decode[map[string][]profile.Field](t, rec)["fields"]
	require.Len(t, fields, len(profile.Fields))

	rec = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ready"`)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *config.Config) {
		c.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	})

	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/profiles", nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/fields?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_TracerProviderRecordsSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	env := newTestEnv(t, nil, WithTracerProvider(tp))

	env.do(t, http.MethodGet, "/v1/profiles/missing", nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Contains(t, spans[0].Name(), "GET /v1/profiles/{handle}")
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.server.router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := env.do(t, http.MethodGet, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_CreateWithScope(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	site := env.create(t, map[string]any{
		"name":      "site-scope",
		"start_url": "https://www.shop.example.com/catalog/index.html",
		"scope":     "site",
	})
	sub := env.create(t, map[string]any{
		"name":      "subpath-scope",
		"start_url": "https://shop.example.com/catalog/index.html",
		"scope":     "subpath",
	})

	tests := []struct {
		handle string
		url    string
		want   bool
	}{
		{site, "http://shop.example.com/anything", true},
		{site, "https://other.example.com/", false},
		{sub, "https://shop.example.com/catalog/item-1", true},
		{sub, "https://shop.example.com/about", false},
	}
	for _, tt := range tests {
		d := decode[profile.Decision](t, env.do(t, http.MethodPost, "/v1/profiles/"+tt.handle+"/admit", profile.Candidate{URL: tt.url}))
		require.Equal(t, tt.want, d.Admitted, tt.url)
	}

	rec := env.do(t, http.MethodPost, "/v1/profiles", map[string]any{"name": "bad", "scope": "site"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/profiles", map[string]any{
		"name": "bad", "scope": "galaxy", "start_url": "https://example.com/",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ClearDomainsResetsCaps(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	handle := env.create(t, map[string]any{"name": "capped", "dom_max_pages": 1})
	base := "/v1/profiles/" + handle

	require.True(t, decode[profile.Decision](t,
		env.do(t, http.MethodPost, base+"/admit", profile.Candidate{URL: "https://a.example/1"})).Admitted)
	d := decode[profile.Decision](t, env.do(t, http.MethodPost, base+"/admit", profile.Candidate{URL: "https://a.example/2"}))
	require.Equal(t, profile.ReasonDomainCapReached, d.Reason)

	rec := env.do(t, http.MethodPost, base+"/domains/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.InDelta(t, 0, decode[map[string]any](t, rec)["domain_count"], 0)

	require.True(t, decode[profile.Decision](t,
		env.do(t, http.MethodPost, base+"/admit", profile.Candidate{URL: "https://a.example/2"})).Admitted)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/v1/profiles/missing/domains/clear", nil).Code)
}

func TestServer_RecrawlAge(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	handle := env.create(t, map[string]any{"name": "daily", "recrawl_if_older_ms": int64(24 * time.Hour / time.Millisecond)})
	base := "/v1/profiles/" + handle
	now := time.Unix(1_700_000_000, 0).UTC()

	report := decode[profile.Report](t, env.do(t, http.MethodGet, base, nil))
	require.NotNil(t, report.RecrawlBefore)
	require.True(t, now.Add(-24*time.Hour).Equal(*report.RecrawlBefore))

	recent := now.Add(-time.Hour)
	d := decode[profile.Decision](t, env.do(t, http.MethodPost, base+"/admit", admitRequest{
		Candidate:  profile.Candidate{URL: "https://a.example/"},
		LastLoaded: &recent,
	}))
	require.False(t, d.Admitted)
	require.Equal(t, profile.ReasonFresh, d.Reason)
	require.Zero(t, env.queue.Len())

	stale := now.Add(-48 * time.Hour)
	d = decode[profile.Decision](t, env.do(t, http.MethodPost, base+"/admit", admitRequest{
		Candidate:  profile.Candidate{URL: "https://a.example/"},
		LastLoaded: &stale,
	}))
	require.True(t, d.Admitted)
	require.Equal(t, 1, env.queue.Len())

	plain := env.create(t, map[string]any{"name": "once"})
	require.Nil(t, decode[profile.Report](t, env.do(t, http.MethodGet, "/v1/profiles/"+plain, nil)).RecrawlBefore)
}

func TestServer_UpdateRejectsUnknownField(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	handle := env.create(t, map[string]any{"name": "strict"})
	rec := env.do(t, http.MethodPatch, "/v1/profiles/"+handle, updateRequest{Field: "futureSetting", Value: "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown field")

	settings := decode[map[string]string](t, env.do(t, http.MethodGet, "/v1/profiles/"+handle+"/settings", nil))
	require.NotContains(t, settings, "futureSetting")
}
