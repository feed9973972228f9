package integration

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/thrive/vitalsync/internal/domain/metric"
	"github.com/thrive/vitalsync/internal/domain/metricsync"
	"github.com/thrive/vitalsync/internal/platform/api"
	"github.com/thrive/vitalsync/internal/platform/devbackend"
	"github.com/thrive/vitalsync/internal/platform/middleware"
)

// TestSync_OfflineRestartServesPostgresCache runs one controller online to
// fill the cache, then a second one against an unreachable backend that
// must show the cached readings with a sync error.
func TestSync_OfflineRestartServesPostgresCache(t *testing.T) {
	ctx := context.Background()
	resetMetrics(t, ctx)

	key := []byte("integration-key")
	srv, err := devbackend.New(devbackend.Config{SigningKey: key}, zerolog.Nop())
	if err != nil {
		t.Fatalf("devbackend.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	for i := 0; i < 3; i++ {
		srv.Metrics().Create("patient", metric.NewReading{Kind: metric.KindHeartRate, Value: float64(60 + i)})
	}
	tok, err := middleware.IssueToken(key, "", "patient", "", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})

	client, err := api.NewClient(ts.URL, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	online := metricsync.NewController(newPostgresStore(20), client, tokens, metricsync.Options{}, zerolog.Nop())
	if err := online.Refresh(ctx); err != nil {
		t.Fatalf("online Refresh: %v", err)
	}
	online.Close()
	ts.Close()

	offlineClient, err := api.NewClient(ts.URL, zerolog.Nop(), api.WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	offline := metricsync.NewController(newPostgresStore(20), offlineClient, tokens, metricsync.Options{}, zerolog.Nop())
	defer offline.Close()
	if err := offline.Refresh(ctx); err == nil {
		t.Fatal("expected refresh to fail against a stopped backend")
	}

	snap := offline.Snapshot()
	if len(snap.Readings) != 3 {
		t.Fatalf("expected 3 cached readings, got %d", len(snap.Readings))
	}
	if snap.Source != metricsync.SourceCache || snap.SyncError == "" {
		t.Errorf("expected cache source with sync error, got %+v", snap)
	}
}
