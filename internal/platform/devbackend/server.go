// Package devbackend is a self-contained patient backend for local
// development and end-to-end tests. It serves the same REST routes and live
// metric stream the sync engine consumes, backed by memory.
package devbackend

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/thrive/vitalsync/internal/platform/middleware"
)

// DefaultSnapshotLimit is how many readings a new stream subscriber receives.
const DefaultSnapshotLimit = 20

// Config configures a Server.
type Config struct {
	SigningKey    []byte
	Issuer        string
	SnapshotLimit int
	CORSOrigins   []string

	// RTCURL, RTCKey and RTCSecret enable /v1/livekit/token. RTCSecret
	// falls back to SigningKey.
	RTCURL    string
	RTCKey    string
	RTCSecret []byte

	// EHRClientID enables the simulated EHR authorization flow.
	EHRClientID    string
	EHRAuthURL     string
	FHIRBaseURL    string
	EHRRedirectURL string
	EHRScopes      []string
}

// Server is the development backend.
type Server struct {
	cfg     Config
	echo    *echo.Echo
	metrics *MetricRepo
	ehr     *EHRRegistry
	hub     *Hub
	oauth   *oauth2.Config
	logger  zerolog.Logger
	now     func() time.Time
}

// New builds a Server with all routes registered.
func New(cfg Config, logger zerolog.Logger) (*Server, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("devbackend: signing key is required")
	}
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = DefaultSnapshotLimit
	}
	if len(cfg.RTCSecret) == 0 {
		cfg.RTCSecret = cfg.SigningKey
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	s := &Server{
		cfg:     cfg,
		metrics: NewMetricRepo(),
		ehr:     NewEHRRegistry(),
		hub:     NewHub(logger),
		logger:  logger.With().Str("component", "devbackend").Logger(),
		now:     time.Now,
	}
	if cfg.EHRClientID != "" {
		authURL := cfg.EHRAuthURL
		if authURL == "" {
			authURL = strings.TrimRight(cfg.FHIRBaseURL, "/") + "/authorize"
		}
		s.oauth = &oauth2.Config{
			ClientID:    cfg.EHRClientID,
			Endpoint:    oauth2.Endpoint{AuthURL: authURL},
			RedirectURL: cfg.EHRRedirectURL,
			Scopes:      cfg.EHRScopes,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	// The provider redirects the browser here without a bearer token.
	e.GET("/v1/ehr/callback", s.handleEHRCallback)

	authCfg := middleware.AuthConfig{SigningKey: cfg.SigningKey, Issuer: cfg.Issuer}
	v1 := e.Group("/v1", middleware.BearerAuth(authCfg))
	s.registerRoutes(v1)

	streamAuth := authCfg
	streamAuth.AllowQueryToken = true
	e.GET("/v1/metrics/stream", s.handleStream, middleware.BearerAuth(streamAuth))

	s.echo = e
	return s, nil
}

func (s *Server) registerRoutes(g *echo.Group) {
	g.GET("/profile", s.handleProfile)
	g.GET("/metrics/latest", s.handleLatest)
	g.POST("/metrics", s.handleCreateMetric)
	g.POST("/insights", s.handleInsight)
	g.POST("/livekit/token", s.handleSessionToken)
	g.POST("/livekit/room", s.handleSessionToken)
	g.GET("/ehr/auth-url", s.handleEHRAuthURL)
	g.GET("/ehr/connection", s.handleEHRConnection)
	g.POST("/ehr/disconnect", s.handleEHRDisconnect)
	g.GET("/ehr/vitals", s.handleEHRVitals)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Metrics returns the backing reading repository.
func (s *Server) Metrics() *MetricRepo {
	return s.metrics
}

// Hub returns the stream hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("dev backend listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
