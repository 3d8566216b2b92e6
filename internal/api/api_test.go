package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotter/internal/auth"
	"spotter/internal/detector"
	"spotter/internal/ledger"
	"spotter/internal/session"
	"spotter/internal/ws"
)

type stubDetector struct{}

func (stubDetector) Detect(ctx context.Context, dr detector.DetectRequest) (*detector.DetectResponse, error) {
	return &detector.DetectResponse{}, nil
}

func newTestServer(t *testing.T) (*Server, *ledger.Store) {
	t.Helper()

	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("AUTH_USER_ID", "user-1")

	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := ws.NewDetectionHub()
	manager := session.NewManager(nil, stubDetector{}, store, nil, NewHubPublisher(hub), nil)
	t.Cleanup(manager.StopAll)

	authenticator := auth.NewAuthenticator()
	logger := log.New(os.Stderr, "[test] ", log.Ltime)

	return NewServer(manager, store, authenticator, nil, hub, nil, logger), store
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["detector_healthy"])
}

func TestSessionLifecycle(t *testing.T) {
	srv, store := newTestServer(t)
	_, err := store.Grant("user-1", 100)
	require.NoError(t, err)

	routes := srv.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest("POST", "/api/sessions",
		strings.NewReader(`{"label":"cup"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)
	assert.Equal(t, "cup", created.Label)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions/"+created.SessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/sessions/"+created.SessionID, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions/"+created.SessionID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartSessionRequiresLabel(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/api/sessions",
		strings.NewReader(`{"device":"/dev/video0"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreditsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	_, err := store.Grant("user-1", 30)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/credits", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		UserID  string `json:"user_id"`
		Balance int    `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "user-1", body.UserID)
	assert.Equal(t, 30, body.Balance)
}

func TestGrantEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/api/credits/grant",
		strings.NewReader(`{"amount":50}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Balance int `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 50, body.Balance)

	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/api/credits/grant",
		strings.NewReader(`{"amount":-5}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_USERNAME", "operator")
	t.Setenv("AUTH_PASSWORD", "s3cret")
	t.Setenv("AUTH_USER_ID", "user-1")
	t.Setenv("JWT_SECRET", "test-secret")

	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := ws.NewDetectionHub()
	manager := session.NewManager(nil, stubDetector{}, store, nil, nil, nil)
	t.Cleanup(manager.StopAll)

	authenticator := auth.NewAuthenticator()
	srv := NewServer(manager, store, authenticator, nil, hub, nil, log.New(os.Stderr, "[test] ", log.Ltime))
	routes := srv.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest("GET", "/api/credits", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest("POST", "/api/login",
		strings.NewReader(`{"username":"operator","password":"s3cret"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var login loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	req := httptest.NewRequest("GET", "/api/credits", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
