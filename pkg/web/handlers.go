package web

import (
	"encoding/json"
	"net/http"

	"github.com/reivaJAQM/bioaccess/pkg/auth"
	"github.com/reivaJAQM/bioaccess/pkg/pipeline"
)

// Responses always carry the {status, msg} shape; the HTTP status code
// stays 200 for domain-level failures so clients branch on the body,
// not the transport.

type registerRequest struct {
	ID        string `json:"id"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

type resultResponse struct {
	Status   auth.Status `json:"status"`
	Message  string      `json:"msg"`
	Identity string      `json:"identity,omitempty"`
	Token    string      `json:"token,omitempty"`
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondResult(w http.ResponseWriter, res auth.Result) {
	respondJSON(w, http.StatusOK, resultResponse{
		Status:   res.Status,
		Message:  res.Message,
		Identity: res.Identity,
	})
}

func respondBadRequest(w http.ResponseWriter) {
	respondJSON(w, http.StatusBadRequest, resultResponse{
		Status:  auth.StatusError,
		Message: "invalid request body",
	})
}

// sessionToken extracts the caller-held token from the header or cookie.
func sessionToken(r *http.Request) string {
	if token := r.Header.Get("X-Session-Token"); token != "" {
		return token
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w)
		return
	}
	respondResult(w, s.auth.Register(req.ID, req.Password, req.FirstName, req.LastName))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w)
		return
	}

	token, res := s.auth.Login(req.ID, req.Password)
	if token != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	// Biometric confirmation runs against the live feed
	if res.Status == auth.StatusWaiting {
		s.capture.Pipeline().SetMode(pipeline.ModeVerify)
		s.capture.Start()
	}

	respondJSON(w, http.StatusOK, resultResponse{
		Status:   res.Status,
		Message:  res.Message,
		Identity: res.Identity,
		Token:    token,
	})
}

func (s *Server) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	res := s.auth.Verify(sessionToken(r))
	if res.Status == auth.StatusSuccess {
		s.capture.Pipeline().SetMode(pipeline.ModeIdle)
	}
	respondResult(w, res)
}

func (s *Server) handleEnrollFace(w http.ResponseWriter, r *http.Request) {
	respondResult(w, s.auth.EnrollFace(sessionToken(r)))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	res := s.auth.Logout(sessionToken(r))
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	respondResult(w, res)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	state, known := s.auth.SessionState(sessionToken(r))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"known": known,
		"state": state.String(),
	})
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	mode := pipeline.ModeIdle
	switch r.URL.Query().Get("mode") {
	case "enroll":
		mode = pipeline.ModeEnroll
	case "verify":
		mode = pipeline.ModeVerify
	}
	s.capture.Pipeline().SetMode(mode)
	s.capture.Start()
	respondJSON(w, http.StatusOK, map[string]string{"status": "success", "msg": "capture started"})
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	s.capture.Stop()
	respondJSON(w, http.StatusOK, map[string]string{"status": "success", "msg": "capture stopped"})
}
