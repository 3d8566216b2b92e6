// Package api exposes the HTTP surface: operator login, session
// lifecycle, credit queries, health and metrics.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"spotter/internal/auth"
	"spotter/internal/detector"
	"spotter/internal/ledger"
	"spotter/internal/metrics"
	"spotter/internal/middleware"
	"spotter/internal/session"
	"spotter/internal/vision"
	"spotter/internal/ws"
)

// Server wires the session manager, ledger and auth into HTTP handlers.
type Server struct {
	manager       *session.Manager
	store         *ledger.Store
	authenticator *auth.Authenticator
	det           *detector.Client
	hub           *ws.DetectionHub
	mets          *metrics.Metrics
	logger        *log.Logger
}

// NewServer creates the API server. mets may be nil.
func NewServer(manager *session.Manager, store *ledger.Store, authenticator *auth.Authenticator, det *detector.Client, hub *ws.DetectionHub, mets *metrics.Metrics, logger *log.Logger) *Server {
	return &Server{
		manager:       manager,
		store:         store,
		authenticator: authenticator,
		det:           det,
		hub:           hub,
		mets:          mets,
		logger:        logger,
	}
}

// Routes builds the request multiplexer with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	authed := middleware.Auth(s.authenticator)
	mux.Handle("POST /api/sessions", authed(http.HandlerFunc(s.handleStartSession)))
	mux.Handle("GET /api/sessions/{id}", authed(http.HandlerFunc(s.handleGetSession)))
	mux.Handle("DELETE /api/sessions/{id}", authed(http.HandlerFunc(s.handleStopSession)))
	mux.Handle("GET /api/credits", authed(http.HandlerFunc(s.handleCredits)))
	mux.Handle("POST /api/credits/grant", authed(http.HandlerFunc(s.handleGrant)))

	mux.Handle("/ws/detections/", ws.NewHandler(s.hub, s.authenticator))

	if s.mets != nil {
		mux.Handle("GET /metrics", s.mets.Handler())
	}

	return middleware.Log(s.logger)(mux)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := s.authenticator.Authenticate(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAuthDisabled):
			writeError(w, http.StatusConflict, "authentication is disabled")
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	detectorHealthy := false
	if s.det != nil {
		detectorHealthy = s.det.IsHealthy()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"detector_healthy": detectorHealthy,
		"active_sessions":  s.manager.Count(),
	})
}

type startSessionRequest struct {
	Label     string             `json:"label"`
	Device    string             `json:"device"`
	Overrides *session.Overrides `json:"overrides,omitempty"`
}

type sessionResponse struct {
	SessionID   string                    `json:"session_id"`
	Label       string                    `json:"label"`
	Objects     []vision.DetectedObject   `json:"objects"`
	Metrics     vision.PerformanceMetrics `json:"metrics"`
	CreditsUsed int                       `json:"credits_used"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}

	sess, err := s.manager.StartSession(s.requestUserID(r), req.Label, req.Device, req.Overrides)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, s.sessionBody(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	s.manager.Touch(sess.ID)
	writeJSON(w, http.StatusOK, s.sessionBody(sess))
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.StopSession(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	userID := s.requestUserID(r)

	balance, err := s.store.Balance(userID)
	if err != nil && !errors.Is(err, ledger.ErrUnknownUser) {
		writeError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}

	transactions, err := s.store.ListTransactions(userID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "transaction lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      userID,
		"balance":      balance,
		"transactions": transactions,
	})
}

type grantRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	balance, err := s.store.Grant(s.requestUserID(r), req.Amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "grant failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"balance": balance})
}

func (s *Server) sessionBody(sess *session.Session) sessionResponse {
	used, err := s.store.SessionConsumption(sess.ID)
	if err != nil {
		used = 0
	}

	return sessionResponse{
		SessionID:   sess.ID,
		Label:       sess.Config().Label,
		Objects:     sess.Results(),
		Metrics:     sess.Metrics(),
		CreditsUsed: used,
	}
}

// requestUserID resolves the credit account for a request: the token's
// user when authenticated, the configured operator account otherwise.
func (s *Server) requestUserID(r *http.Request) string {
	if claims := middleware.GetUserFromContext(r.Context()); claims != nil {
		return claims.UserID
	}
	return s.authenticator.UserID()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
