package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/jellynash/bingo/internal/apperrors"
	"github.com/jellynash/bingo/internal/game"
)

const maxBodyBytes = 4096

type joinBody struct {
	Pin            string `json:"pin"`
	Nickname       string `json:"nickname"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type resumeBody struct {
	ResumeToken string `json:"resumeToken"`
}

type errorBody struct {
	Error *ErrorData `json:"error"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var body joinBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	key := body.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	res, err := s.svc.Join(r.Context(), game.JoinRequest{
		Pin:            body.Pin,
		Nickname:       body.Nickname,
		IdempotencyKey: key,
		ClientIP:       s.clientIP(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var body resumeBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	res, err := s.svc.Resume(r.Context(), body.ResumeToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, "Malformed request body", err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		s.logger.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorData(err)})
		return
	}
	if appErr.Code == apperrors.CodeInternal {
		s.logger.Error("Request failed", "error", err)
	}
	writeJSON(w, appErr.Code.HTTPStatus(), errorBody{Error: errorData(err)})
}

func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
