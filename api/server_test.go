package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall"
	"github.com/xraph/paywall/api"
	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/store/memory"
	"github.com/xraph/paywall/types"
)

const secret = "test-secret"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	handler http.Handler
	sim     *charge.Simulator
}

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	t.Helper()

	sim := charge.NewSimulator()
	cat := catalog.NewStatic()
	cat.SetTerms("creator", catalog.Terms{Price: types.USD(999), PeriodDays: 30, Enabled: true})

	price := types.USD(500)
	require.NoError(t, cat.AddContent(content.Post("post-paid", "creator", content.VisibilityPaid, &price)))
	require.NoError(t, cat.AddContent(content.Post("post-subs", "creator", content.VisibilitySubscribers, nil)))
	msgPrice := types.USD(300)
	require.NoError(t, cat.AddContent(content.Message("msg-1", "creator", &msgPrice)))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := paywall.New(memory.New(), sim, cat, paywall.WithLogger(logger))

	opts = append([]api.Option{
		api.WithLogger(logger),
		api.WithClock(func() time.Time { return now }),
	}, opts...)
	return &fixture{handler: api.New(engine, secret, opts...).Handler(), sim: sim}
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, user, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "", http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCORSNeverAllowsCredentials(t *testing.T) {
	tests := []struct {
		name    string
		opts    []api.Option
		origin  string
		allowed string
	}{
		{"wildcard", nil, "https://evil.example", "*"},
		{"listed origin", []api.Option{api.WithCORSOrigins("https://app.example")}, "https://app.example", "https://app.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts...)

			preflight := httptest.NewRequest(http.MethodOptions, "/me/subscriptions", nil)
			preflight.Header.Set("Origin", tt.origin)
			preflight.Header.Set("Access-Control-Request-Method", http.MethodGet)
			preflight.Header.Set("Access-Control-Request-Headers", "Authorization")
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, preflight)
			assert.Equal(t, tt.allowed, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("Origin", tt.origin)
			rec = httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.allowed, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic Zm9vOmJhcg=="},
		{"bad signature", "Bearer " + func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "fan"}).SignedString([]byte("other"))
			return s
		}()},
		{"no subject", "Bearer " + func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte(secret))
			return s
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me/subscriptions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "fan", http.MethodPost, "/creators/creator/subscription", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "ACTIVE", decode(t, rec)["status"])

	rec = f.do(t, "fan", http.MethodPost, "/creators/creator/subscription", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, "fan", http.MethodGet, "/content/post-subs/access", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["isLocked"])
	assert.Equal(t, "SUBSCRIBED", body["reason"])

	rec = f.do(t, "fan", http.MethodDelete, "/creators/creator/subscription", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode(t, rec)["status"])

	rec = f.do(t, "fan", http.MethodGet, "/me/subscriptions?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var subs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &subs))
	require.Len(t, subs, 1, "a cancelled subscription keeps access until expiry")
}

func TestSubscribeToSelfIsRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "creator", http.MethodPost, "/creators/creator/subscription", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUnlockPost(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "fan", http.MethodGet, "/content/post-paid/access", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["isLocked"])
	assert.Equal(t, "LOCKED_PPV", body["reason"])
	assert.NotNil(t, body["price"])

	rec = f.do(t, "fan", http.MethodPost, "/posts/post-paid/unlock", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "post-paid", decode(t, rec)["content_id"])

	rec = f.do(t, "fan", http.MethodPost, "/posts/post-paid/unlock", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, "fan", http.MethodGet, "/content/post-paid/access", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["isLocked"])
	assert.Equal(t, true, body["hasPurchased"])

	assert.Equal(t, 1, f.sim.Stats().Charges)
}

func TestUnlockMessage(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "fan", http.MethodPost, "/messages/msg-1/unlock", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "MESSAGE", decode(t, rec)["content_type"])

	rec = f.do(t, "fan", http.MethodGet, "/content/msg-1/access?kind=message", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["isLocked"])
}

func TestUnlockUnknownPost(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "fan", http.MethodPost, "/posts/nope/unlock", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTip(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"ok", map[string]any{"amount": 250, "currency": "usd", "note": "thanks"}, http.StatusCreated},
		{"zero amount", map[string]any{"amount": 0, "currency": "usd"}, http.StatusUnprocessableEntity},
		{"bad currency", map[string]any{"amount": 250, "currency": "dollars"}, http.StatusUnprocessableEntity},
		{"unknown field", map[string]any{"amount": 250, "currency": "usd", "tip": true}, http.StatusUnprocessableEntity},
		{"not json", "{", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "fan", http.MethodPost, "/creators/creator/tips", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestTipIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"amount": 250, "currency": "usd"}

	first := f.do(t, "fan", http.MethodPost, "/creators/creator/tips", body, "Idempotency-Key", "tip-123")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := f.do(t, "fan", http.MethodPost, "/creators/creator/tips", body, "Idempotency-Key", "tip-123")
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())

	assert.Equal(t, decode(t, first)["id"], decode(t, second)["id"])
	assert.Equal(t, 1, f.sim.Stats().Charges)

	other := f.do(t, "fan", http.MethodPost, "/creators/creator/tips",
		map[string]any{"amount": 999, "currency": "usd"}, "Idempotency-Key", "tip-123")
	assert.Equal(t, http.StatusConflict, other.Code)
}

func TestTipDeclined(t *testing.T) {
	f := newFixture(t)
	f.sim.DeclinePayer("fan", "card_declined")

	rec := f.do(t, "fan", http.MethodPost, "/creators/creator/tips", map[string]any{"amount": 250, "currency": "usd"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "payment_failed", body["code"])
	assert.NotEmpty(t, body["entryId"])
}

func TestEarnings(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "fan", http.MethodPost, "/creators/creator/tips", map[string]any{"amount": 250, "currency": "usd"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, "fan", http.MethodGet, "/creators/creator/earnings", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "creator", http.MethodGet, "/creators/creator/earnings", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	net, ok := decode(t, rec)["net"].([]any)
	require.True(t, ok)
	require.Len(t, net, 1)
	assert.EqualValues(t, 250, net[0].(map[string]any)["amount"])

	rec = f.do(t, "creator", http.MethodGet, "/creators/creator/earnings?since=yesterday", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusCreated, f.do(t, "fan", http.MethodPost, "/posts/post-paid/unlock", nil).Code)
	require.Equal(t, http.StatusCreated, f.do(t, "fan", http.MethodPost, "/creators/creator/tips",
		map[string]any{"amount": 100, "currency": "usd"}).Code)

	rec := f.do(t, "fan", http.MethodGet, "/me/transactions?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txns []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txns))
	assert.Len(t, txns, 2)

	rec = f.do(t, "fan", http.MethodGet, "/me/transactions?limit=0", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, api.WithRateLimit(0.001, 1))

	rec := f.do(t, "fan", http.MethodPost, "/creators/creator/subscription", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, "fan", http.MethodDelete, "/creators/creator/subscription", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Other users have their own bucket; reads are not limited.
	rec = f.do(t, "someone-else", http.MethodPost, "/creators/creator/subscription", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, "fan", http.MethodGet, "/me/subscriptions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, api.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})))
	rec := f.do(t, "", http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}
