package devbackend

import (
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"github.com/thrive/vitalsync/internal/domain/metric"
	"github.com/thrive/vitalsync/internal/platform/api"
	"github.com/thrive/vitalsync/internal/platform/middleware"
)

const maxLatestLimit = 100

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func subject(c echo.Context) string {
	return middleware.SubjectFromContext(c.Request().Context())
}

func (s *Server) handleProfile(c echo.Context) error {
	claims := middleware.ClaimsFromContext(c.Request().Context())
	profile := api.Profile{
		UserID:   claims.Subject,
		Metadata: map[string]interface{}{"provider": "dev"},
	}
	if claims.Email != "" {
		profile.Email = &claims.Email
	}
	if claims.Name != "" {
		profile.Name = &claims.Name
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) handleLatest(c echo.Context) error {
	limit := DefaultSnapshotLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLatestLimit {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("limit must be between 1 and %d", maxLatestLimit))
		}
		limit = n
	}
	readings := s.metrics.Latest(subject(c), c.QueryParam("metric_type"), limit)
	return c.JSON(http.StatusOK, readings)
}

func (s *Server) handleCreateMetric(c echo.Context) error {
	var in metric.NewReading
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.Kind = strings.TrimSpace(in.Kind)
	if in.Kind == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "metric_type is required")
	}

	user := subject(c)
	reading := s.metrics.Create(user, in)
	s.hub.Broadcast(user, reading)
	return c.JSON(http.StatusCreated, reading)
}

// handleStream upgrades to a websocket, sends the latest readings as a
// snapshot, then relays every reading the user creates.
func (s *Server) handleStream(c echo.Context) error {
	user := subject(c)
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := newClient(user, &gorillaConnAdapter{ws})
	s.hub.Register(client)

	snapshot := map[string]interface{}{
		"type": "snapshot",
		"data": s.metrics.Latest(user, "", s.cfg.SnapshotLimit),
	}
	if err := ws.WriteJSON(snapshot); err != nil {
		s.hub.Unregister(client)
		ws.Close()
		return nil
	}

	go s.hub.writePump(client)
	go s.hub.readPump(client)
	return nil
}

func (s *Server) handleInsight(c echo.Context) error {
	var req api.InsightRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.MetricName) == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "metric_name is required")
	}
	return c.JSON(http.StatusOK, fallbackInsight(req, s.now()))
}

type sessionTokenRequest struct {
	RoomName        string `json:"room_name"`
	ParticipantName string `json:"participant_name"`
}

type videoGrant struct {
	Room     string `json:"room"`
	RoomJoin bool   `json:"roomJoin"`
}

type roomClaims struct {
	jwt.RegisteredClaims
	Name  string     `json:"name,omitempty"`
	Video videoGrant `json:"video"`
}

func (s *Server) handleSessionToken(c echo.Context) error {
	if s.cfg.RTCURL == "" || s.cfg.RTCKey == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "LiveKit is not configured.")
	}
	var req sessionTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.RoomName) == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "room_name is required")
	}
	identity := req.ParticipantName
	if identity == "" {
		identity = subject(c)
	}

	now := s.now()
	claims := roomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.RTCKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(6 * time.Hour)),
		},
		Name:  identity,
		Video: videoGrant{Room: req.RoomName, RoomJoin: true},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.RTCSecret)
	if err != nil {
		return fmt.Errorf("sign room token: %w", err)
	}
	return c.JSON(http.StatusOK, api.SessionCredentials{Token: token, URL: s.cfg.RTCURL})
}

func (s *Server) handleEHRAuthURL(c echo.Context) error {
	if s.oauth == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "EHR client not configured.")
	}
	state := uuid.New().String()
	verifier := oauth2.GenerateVerifier()
	s.ehr.begin(state, subject(c))

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if s.cfg.FHIRBaseURL != "" {
		opts = append(opts, oauth2.SetAuthURLParam("aud", s.cfg.FHIRBaseURL))
	}
	return c.JSON(http.StatusOK, api.EHRAuthURL{URL: s.oauth.AuthCodeURL(state, opts...), State: state})
}

// handleEHRCallback completes a pending authorization. The dev backend does
// not exchange the code; any code for a known state links a synthetic
// patient.
func (s *Server) handleEHRCallback(c echo.Context) error {
	if msg := c.QueryParam("error"); msg != "" {
		return c.HTML(http.StatusBadRequest, "<h2>Connection failed</h2><p>"+html.EscapeString(msg)+"</p>")
	}
	code, state := c.QueryParam("code"), c.QueryParam("state")
	if code == "" || state == "" {
		return c.HTML(http.StatusBadRequest, "<h2>Missing authorization response.</h2>")
	}
	link := EHRLink{
		PatientID:   "patient-" + uuid.New().String()[:8],
		FHIRBaseURL: s.cfg.FHIRBaseURL,
		ExpiresAt:   s.now().Add(time.Hour).UTC(),
	}
	user, ok := s.ehr.complete(state, link)
	if !ok {
		return c.HTML(http.StatusBadRequest, "<h2>Invalid or expired session.</h2>")
	}
	s.logger.Info().Str("subject", user).Str("patient_id", link.PatientID).Msg("ehr linked")
	return c.HTML(http.StatusOK, "<h2>Connected to EHR.</h2><p>You can return to the app now.</p>")
}

func (s *Server) handleEHRConnection(c echo.Context) error {
	link, ok := s.ehr.link(subject(c))
	if !ok {
		return c.JSON(http.StatusOK, api.EHRStatus{Connected: false})
	}
	status := api.EHRStatus{
		Connected: true,
		PatientID: &link.PatientID,
		ExpiresAt: &link.ExpiresAt,
	}
	if link.FHIRBaseURL != "" {
		status.FHIRBase = &link.FHIRBaseURL
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleEHRDisconnect(c echo.Context) error {
	s.ehr.unlink(subject(c))
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// handleEHRVitals serves the user's own readings in the flattened vital
// shape a FHIR Observation search would produce.
func (s *Server) handleEHRVitals(c echo.Context) error {
	user := subject(c)
	if _, ok := s.ehr.link(user); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "EHR connection not found.")
	}
	readings := s.metrics.Latest(user, "", maxLatestLimit)
	vitals := make([]api.EHRVital, 0, len(readings))
	for _, r := range readings {
		recorded := r.RecordedAt.Format(time.RFC3339)
		vitals = append(vitals, api.EHRVital{
			ID:         "obs-" + r.ID.String(),
			Name:       displayName(r.Kind),
			Value:      strconv.FormatFloat(r.Value, 'f', -1, 64),
			Unit:       r.Unit,
			RecordedAt: &recorded,
		})
	}
	return c.JSON(http.StatusOK, vitals)
}
