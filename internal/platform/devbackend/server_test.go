package devbackend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/thrive/vitalsync/internal/domain/metric"
	"github.com/thrive/vitalsync/internal/platform/api"
	"github.com/thrive/vitalsync/internal/platform/channel"
	"github.com/thrive/vitalsync/internal/platform/middleware"
)

var testKey = []byte("devbackend-test-key")

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := Config{
		SigningKey:  testKey,
		RTCURL:      "ws://rtc.test",
		RTCKey:      "devkey",
		EHRClientID: "vitalsync-dev",
		FHIRBaseURL: "https://fhir.test/r4",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func tokenFor(t *testing.T, subject string) string {
	t.Helper()
	tok, err := middleware.IssueToken(testKey, "", subject, subject+"@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

func newAPIClient(t *testing.T, ts *httptest.Server) *api.Client {
	t.Helper()
	c, err := api.NewClient(ts.URL, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var fe *api.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *api.FetchError, got %v", err)
	}
	return fe.StatusCode
}

func TestNew_RequiresSigningKey(t *testing.T) {
	if _, err := New(Config{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without signing key")
	}
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_RejectsMissingToken(t *testing.T) {
	_, ts := newTestServer(t, nil)
	client := newAPIClient(t, ts)

	_, err := client.FetchLatest(context.Background(), "", 20, "")
	if code := statusOf(t, err); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	var fe *api.FetchError
	errors.As(err, &fe)
	if fe.Detail != "missing authorization header" {
		t.Errorf("unexpected detail %q", fe.Detail)
	}
}

func TestServer_CreateAndLatest(t *testing.T) {
	_, ts := newTestServer(t, nil)
	client := newAPIClient(t, ts)
	ctx := context.Background()
	tok := tokenFor(t, "user-1")

	created, err := client.CreateMetric(ctx, tok, metric.NewReading{Kind: metric.KindGlucose, Value: 118, Unit: metric.StringPtr("mg/dL")})
	if err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}
	if created.ID == "" || created.Kind != metric.KindGlucose {
		t.Fatalf("unexpected created reading %+v", created)
	}

	if _, err := client.CreateMetric(ctx, tok, metric.NewReading{Kind: metric.KindHeartRate, Value: 72}); err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}

	glucose, err := client.FetchLatest(ctx, tok, 20, metric.KindGlucose)
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if len(glucose) != 1 || glucose[0].ID != created.ID {
		t.Fatalf("expected only the glucose reading, got %+v", glucose)
	}

	others, err := client.FetchLatest(ctx, tokenFor(t, "user-2"), 20, "")
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if len(others) != 0 {
		t.Errorf("readings leaked across users: %+v", others)
	}
}

func TestServer_CreateRequiresKind(t *testing.T) {
	_, ts := newTestServer(t, nil)
	client := newAPIClient(t, ts)

	_, err := client.CreateMetric(context.Background(), tokenFor(t, "u"), metric.NewReading{Value: 1})
	if code := statusOf(t, err); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
}

func TestServer_LatestRejectsBadLimit(t *testing.T) {
	_, ts := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/metrics/latest?limit=0", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "u"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestServer_InsightFallback(t *testing.T) {
	_, ts := newTestServer(t, nil)
	client := newAPIClient(t, ts)

	insight, err := client.GenerateInsight(context.Background(), tokenFor(t, "u"), api.InsightRequest{
		MetricName:  "glucose",
		MetricValue: 142.6,
		Trend:       "up",
	})
	if err != nil {
		t.Fatalf("GenerateInsight: %v", err)
	}
	want := "Glucose is 143 and trending up. Keep an eye on hydration and activity."
	if insight.Summary != want {
		t.Errorf("summary = %q, want %q", insight.Summary, want)
	}
	if len(insight.Recommendations) != 2 || len(insight.Actions) != 2 {
		t.Errorf("unexpected insight %+v", insight)
	}
}

func TestServer_Profile(t *testing.T) {
	_, ts := newTestServer(t, nil)
	client := newAPIClient(t, ts)

	profile, err := client.Profile(context.Background(), tokenFor(t, "user-9"))
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.UserID != "user-9" {
		t.Errorf("expected user-9, got %s", profile.UserID)
	}
	if profile.Email == nil || *profile.Email != "user-9@example.com" {
		t.Errorf("unexpected email %v", profile.Email)
	}
}

func TestServer_SessionToken(t *testing.T) {
	_, ts := newTestServer(t, nil)
	client := newAPIClient(t, ts)

	creds, err := client.SessionToken(context.Background(), tokenFor(t, "u"), "care-room", "patient")
	if err != nil {
		t.Fatalf("SessionToken: %v", err)
	}
	if creds.URL != "ws://rtc.test" {
		t.Errorf("unexpected url %s", creds.URL)
	}

	claims := &roomClaims{}
	if _, err := jwt.ParseWithClaims(creds.Token, claims, func(*jwt.Token) (interface{}, error) {
		return testKey, nil
	}); err != nil {
		t.Fatalf("parse room token: %v", err)
	}
	if claims.Video.Room != "care-room" || !claims.Video.RoomJoin {
		t.Errorf("unexpected grant %+v", claims.Video)
	}
	if claims.Subject != "patient" || claims.Issuer != "devkey" {
		t.Errorf("unexpected claims sub=%s iss=%s", claims.Subject, claims.Issuer)
	}
}

func TestServer_SessionTokenUnconfigured(t *testing.T) {
	_, ts := newTestServer(t, func(c *Config) { c.RTCURL = "" })
	client := newAPIClient(t, ts)

	_, err := client.SessionToken(context.Background(), tokenFor(t, "u"), "room", "")
	if code := statusOf(t, err); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestServer_EHRFlow(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	client := newAPIClient(t, ts)
	ctx := context.Background()
	tok := tokenFor(t, "u")

	status, err := client.EHRConnection(ctx, tok)
	if err != nil {
		t.Fatalf("EHRConnection: %v", err)
	}
	if status.Connected {
		t.Fatal("expected not connected")
	}
	_, err = client.EHRVitals(ctx, tok)
	if code := statusOf(t, err); code != http.StatusNotFound {
		t.Fatalf("expected 404 before linking, got %d", code)
	}

	auth, err := client.EHRAuthURL(ctx, tok)
	if err != nil {
		t.Fatalf("EHRAuthURL: %v", err)
	}
	u, err := url.Parse(auth.URL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if q.Get("state") != auth.State || q.Get("code_challenge_method") != "S256" || q.Get("aud") != "https://fhir.test/r4" {
		t.Errorf("unexpected authorize query %s", u.RawQuery)
	}
	if !strings.HasSuffix(u.Path, "/authorize") {
		t.Errorf("unexpected authorize path %s", u.Path)
	}

	resp, err := http.Get(ts.URL + "/v1/ehr/callback?code=abc&state=" + url.QueryEscape(auth.State))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected callback 200, got %d", resp.StatusCode)
	}

	status, err = client.EHRConnection(ctx, tok)
	if err != nil {
		t.Fatalf("EHRConnection: %v", err)
	}
	if !status.Connected || status.PatientID == nil || status.ExpiresAt == nil {
		t.Fatalf("expected linked status, got %+v", status)
	}

	srv.Metrics().Create("u", metric.NewReading{Kind: metric.KindHeartRate, Value: 64, Unit: metric.StringPtr("bpm")})
	vitals, err := client.EHRVitals(ctx, tok)
	if err != nil {
		t.Fatalf("EHRVitals: %v", err)
	}
	if len(vitals) != 1 || vitals[0].Name != "Heart Rate" || vitals[0].Value != "64" {
		t.Fatalf("unexpected vitals %+v", vitals)
	}

	if err := client.DisconnectEHR(ctx, tok); err != nil {
		t.Fatalf("DisconnectEHR: %v", err)
	}
	status, _ = client.EHRConnection(ctx, tok)
	if status.Connected {
		t.Fatal("expected disconnected")
	}
}

func TestServer_EHRCallbackRejects(t *testing.T) {
	_, ts := newTestServer(t, nil)
	for _, query := range []string{"?error=access_denied", "?code=abc", "?code=abc&state=unknown"} {
		resp, err := http.Get(ts.URL + "/v1/ehr/callback" + query)
		if err != nil {
			t.Fatalf("callback %s: %v", query, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestServer_EHRUnconfigured(t *testing.T) {
	_, ts := newTestServer(t, func(c *Config) { c.EHRClientID = "" })
	client := newAPIClient(t, ts)

	_, err := client.EHRAuthURL(context.Background(), tokenFor(t, "u"))
	if code := statusOf(t, err); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

// streamRecorder collects stream messages for assertions.
type streamRecorder struct {
	mu   sync.Mutex
	msgs []channel.Message
	got  chan struct{}
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{got: make(chan struct{}, 16)}
}

func (r *streamRecorder) handle(m channel.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *streamRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *streamRecorder) wait(t *testing.T, n int) []channel.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		r.mu.Lock()
		if len(r.msgs) >= n {
			out := append([]channel.Message(nil), r.msgs...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d stream messages", n)
		}
	}
}

func TestServer_StreamSnapshotThenIncremental(t *testing.T) {
	srv, ts := newTestServer(t, func(c *Config) { c.SnapshotLimit = 2 })
	for i := 0; i < 3; i++ {
		srv.Metrics().Create("u", metric.NewReading{Kind: metric.KindGlucose, Value: float64(100 + i)})
	}

	rec := newStreamRecorder()
	ch, err := channel.Dial(context.Background(), channel.Options{
		URL:   ts.URL + "/v1/metrics/stream",
		Token: tokenFor(t, "u"),
	}, rec.handle, zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	msgs := rec.wait(t, 1)
	if msgs[0].Kind != channel.KindSnapshot || len(msgs[0].Readings) != 2 {
		t.Fatalf("expected snapshot of 2, got %+v", msgs[0])
	}

	waitForSubscriber(t, srv, "u")
	client := newAPIClient(t, ts)
	created, err := client.CreateMetric(context.Background(), tokenFor(t, "u"), metric.NewReading{Kind: metric.KindGlucose, Value: 131})
	if err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}
	// Another user's reading must not reach this stream.
	if _, err := client.CreateMetric(context.Background(), tokenFor(t, "v"), metric.NewReading{Kind: metric.KindGlucose, Value: 1}); err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}

	msgs = rec.wait(t, 2)
	if msgs[1].Kind != channel.KindIncremental || msgs[1].Reading.ID != created.ID {
		t.Fatalf("expected incremental %s, got %+v", created.ID, msgs[1])
	}
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(); n != 2 {
		t.Errorf("expected 2 messages, got %d", n)
	}
}

func TestServer_StreamRejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t, nil)
	_, err := channel.Dial(context.Background(), channel.Options{
		URL:   ts.URL + "/v1/metrics/stream",
		Token: "garbage",
	}, func(channel.Message) {}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 in error, got %v", err)
	}
}

func waitForSubscriber(t *testing.T, srv *Server, user string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().ClientCount(user) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
