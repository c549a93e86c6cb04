package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whitelist-bot/internal/application"
	"whitelist-bot/internal/application/memstore"
	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/cooldown"
	"whitelist-bot/internal/decision"
	"whitelist-bot/internal/messages"
	"whitelist-bot/internal/platform/platformtest"
	"whitelist-bot/internal/roles"
	"whitelist-bot/internal/search"
	"whitelist-bot/internal/ticket"
	"whitelist-bot/internal/ticketcache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memstore.Store
	platform *platformtest.Fake
	server   *Server
	now      time.Time
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type stubSearcher struct {
	query string
	res   *search.Result
	err   error
}

func (s *stubSearcher) Search(_ context.Context, q string, _ int) (*search.Result, error) {
	s.query = q
	return s.res, s.err
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) bool { return false }

func newFixture(t *testing.T, mutate func(*Config, *Dependencies)) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	f := &fixture{platform: platformtest.New(), now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.store = memstore.New(memstore.WithClock(clock))
	msgs := messages.NewBuilder("District", "staff").WithClock(clock)

	svc := decision.NewService(decision.Dependencies{
		Store:    f.store,
		Gate:     cooldown.NewGate(f.store, cooldown.WithClock(clock)),
		Tickets:  ticket.NewProvisioner(f.store, ticketcache.NewMemory(), f.platform, msgs, ticket.Config{CategoryID: "cat", StaffRoleID: "staff"}, log),
		Roles:    roles.NewSynchronizer(f.platform, log),
		Catalog:  roles.Catalog{Candidate: "role-candidate", Whitelist: "role-wl", Blacklist: "role-bl"},
		Platform: f.platform,
		Messages: msgs,
		Logger:   log,
	})

	cfg := Config{Address: ":0", AdminToken: "secret"}
	deps := Dependencies{
		Lifecycle: svc,
		Checks:    map[string]Pinger{"store": f.store},
		Logger:    log,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	f.server = NewServer(cfg, deps)
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(adminTokenHeader, "secret")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &body)
	return body.Error.Code
}

func submission(id string) map[string]interface{} {
	return map[string]interface{}{
		"candidateId": id,
		"displayName": "Rook",
		"score":       17,
		"fields": map[string]interface{}{
			application.FieldCharacterFirstName: "Jack",
		},
	}
}

// ==========================
// Candidate routes
// ==========================

func TestSubmit_Created(t *testing.T) {
	f := newFixture(t, nil)
	f.platform.AddMember("A1")

	rec := f.do(t, http.MethodPost, "/submit", submission("A1"), false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		OK     bool `json:"ok"`
		Report struct {
			StateChanged bool `json:"stateChanged"`
		} `json:"report"`
		Application struct {
			CandidateID string `json:"candidateId"`
		} `json:"application"`
	}
	decodeBody(t, rec, &body)
	assert.True(t, body.OK)
	assert.True(t, body.Report.StateChanged)
	assert.Equal(t, "A1", body.Application.CandidateID)
	assert.Equal(t, 1, f.platform.CreatedCount())

	again := f.do(t, http.MethodPost, "/submit", submission("A1"), false)
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "DUPLICATE_SUBMISSION", errorCode(t, again))
}

func TestSubmit_InvalidBody(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/submit", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, rec))

	bad := submission("A1")
	bad["score"] = 99
	rec = f.do(t, http.MethodPost, "/submit", bad, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFailThenSubmit_Cooldown(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/fail", map[string]interface{}{"candidateId": "A2", "score": 5}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var failed struct {
		OK            bool      `json:"ok"`
		CooldownUntil time.Time `json:"cooldownUntil"`
	}
	decodeBody(t, rec, &failed)
	assert.True(t, failed.OK)
	assert.True(t, failed.CooldownUntil.Equal(f.now.Add(cooldown.DefaultWindow)))

	rec = f.do(t, http.MethodPost, "/submit", submission("A2"), false)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "COOLDOWN_ACTIVE", errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/status?candidateId=A2", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var status decision.StatusView
	decodeBody(t, rec, &status)
	assert.True(t, status.Cooldown)
	assert.False(t, status.Submitted)
}

func TestStatus_LegacyParamAndValidation(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/status?discordId=nobody", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var status decision.StatusView
	decodeBody(t, rec, &status)
	assert.Equal(t, application.StatusNone, status.Status)

	rec = f.do(t, http.MethodGet, "/status", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ==========================
// Admin routes
// ==========================

func TestAdminRoutes_RequireToken(t *testing.T) {
	f := newFixture(t, nil)

	for _, target := range []string{"/blacklist", "/unblacklist", "/whitelist"} {
		rec := f.do(t, http.MethodPost, target, map[string]string{"candidateId": "A1"}, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
	}
	rec := f.do(t, http.MethodGet, "/all", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRejectUnreject(t *testing.T) {
	f := newFixture(t, nil)
	f.platform.AddMember("A3")
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/submit", submission("A3"), false).Code)

	rec := f.do(t, http.MethodPost, "/blacklist", map[string]string{"candidateId": "A3", "reason": "copy-paste backstory"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored, err := f.store.Get(context.Background(), "A3")
	require.NoError(t, err)
	assert.True(t, stored.Blacklisted)
	assert.Equal(t, "copy-paste backstory", stored.BlacklistReason)
	assert.Equal(t, "admin-web", stored.BlacklistedBy)

	rec = f.do(t, http.MethodGet, "/member-check?candidateId=A3", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var check decision.MemberCheck
	decodeBody(t, rec, &check)
	assert.True(t, check.IsMember)
	assert.True(t, check.Blacklisted)

	rec = f.do(t, http.MethodPost, "/unblacklist", map[string]string{"candidateId": "A3"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/status?candidateId=A3", nil, false)
	var status decision.StatusView
	decodeBody(t, rec, &status)
	assert.Equal(t, application.StatusNone, status.Status)

	rec = f.do(t, http.MethodPost, "/unblacklist", map[string]string{"candidateId": "unknown"}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWhitelistOverride(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/whitelist", map[string]string{"candidateId": "W1"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/whitelist", map[string]string{"candidateId": "W1"}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_PROCESSED", errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/members", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var members []map[string]interface{}
	decodeBody(t, rec, &members)
	require.Len(t, members, 1)

	rec = f.do(t, http.MethodGet, "/all", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []application.Application
	decodeBody(t, rec, &all)
	require.Len(t, all, 1)
	assert.True(t, all[0].Whitelisted)
}

func TestListEmptyIsArray(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/all", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

// ==========================
// Search
// ==========================

func TestSearch(t *testing.T) {
	searcher := &stubSearcher{res: &search.Result{Total: 1}}
	f := newFixture(t, func(_ *Config, d *Dependencies) { d.Searcher = searcher })

	rec := f.do(t, http.MethodGet, "/search?q=docks", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "docks", searcher.query)

	rec = f.do(t, http.MethodGet, "/search", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	searcher.err = stderrors.New("cluster red")
	rec = f.do(t, http.MethodGet, "/search?q=docks", nil, true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SEARCH_FAILED", errorCode(t, rec))
}

func TestSearch_NotMountedWithoutSearcher(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/search?q=docks", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ==========================
// Middleware
// ==========================

func TestRateLimitedRoutes(t *testing.T) {
	f := newFixture(t, func(_ *Config, d *Dependencies) { d.Limiter = denyAll{} })

	rec := f.do(t, http.MethodPost, "/submit", submission("A1"), false)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/status?candidateId=A1", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodOptions, "/submit", nil, false)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthAndReady(t *testing.T) {
	healthy := true
	f := newFixture(t, func(_ *Config, d *Dependencies) {
		d.Checks["redis"] = pingFunc(func(context.Context) error {
			if healthy {
				return nil
			}
			return stderrors.New("down")
		})
	})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, false).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", nil, false).Code)

	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/ready", nil, false).Code)
}

func TestClientIP(t *testing.T) {
	proxies, err := parseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		proxies trustedProxies
		remote  string
		xff     []string
		want    string
	}{
		{name: "no proxies ignores header", remote: "203.0.113.9:5555", xff: []string{"1.2.3.4"}, want: "203.0.113.9"},
		{name: "untrusted peer ignores header", proxies: proxies, remote: "198.51.100.7:5555", xff: []string{"1.2.3.4"}, want: "198.51.100.7"},
		{name: "trusted peer without header", proxies: proxies, remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "rightmost untrusted hop", proxies: proxies, remote: "10.0.0.1:5555", xff: []string{"1.2.3.4, 203.0.113.9, 10.0.0.2"}, want: "203.0.113.9"},
		{name: "repeated headers", proxies: proxies, remote: "192.168.1.5:80", xff: []string{"1.2.3.4", "203.0.113.9"}, want: "203.0.113.9"},
		{name: "all hops trusted", proxies: proxies, remote: "10.0.0.1:5555", xff: []string{"10.0.0.3, 10.0.0.2"}, want: "10.0.0.3"},
		{name: "garbage hop stops the walk", proxies: proxies, remote: "10.0.0.1:5555", xff: []string{"203.0.113.9, not-an-ip"}, want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, tt.proxies.clientIP(req))
		})
	}
}

func TestParseTrustedProxies_Invalid(t *testing.T) {
	_, err := parseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = parseTrustedProxies([]string{"proxy.local"})
	assert.Error(t, err)
}

type recordingLimiter struct {
	keys []string
}

func (l *recordingLimiter) Allow(_ context.Context, key string) bool {
	l.keys = append(l.keys, key)
	return true
}

func TestRateLimit_SpoofedForwardedForSharesKey(t *testing.T) {
	limiter := &recordingLimiter{}
	f := newFixture(t, func(c *Config, d *Dependencies) {
		c.TrustedProxies = []string{"10.0.0.1"}
		d.Limiter = limiter
	})

	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest(http.MethodPost, "/fail", bytes.NewBufferString(`{"candidateId":"A1","score":3}`))
		req.RemoteAddr = "10.0.0.1:4000"
		req.Header.Set("X-Forwarded-For", spoofed+", 203.0.113.9")
		f.server.Handler().ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, []string{"fail:203.0.113.9", "fail:203.0.113.9"}, limiter.keys)
}
