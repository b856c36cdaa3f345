package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/jonathan/match-orchestrator/internal/pipeline"
	"github.com/jonathan/match-orchestrator/internal/server/middleware"
	"github.com/jonathan/match-orchestrator/internal/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ScoreRequest is the body of POST /v1/score. Profile and Job fall back to
// the caller's saved default profile and current job.
type ScoreRequest struct {
	Profile *types.CandidateProfile `json:"profile,omitempty"`
	Job     *types.JobPosting       `json:"job,omitempty"`
	Refresh bool                    `json:"refresh,omitempty"`
}

func (b *ScoreRequest) toPipeline(userID string) pipeline.ScoreRequest {
	return pipeline.ScoreRequest{UserID: userID, Profile: b.Profile, Job: b.Job, Refresh: b.Refresh}
}

// TailorRequest is the body of POST /v1/tailor. Job falls back to the
// caller's current job.
type TailorRequest struct {
	Document        string                     `json:"document" validate:"required,max=100000"`
	Job             *types.JobPosting          `json:"job,omitempty"`
	ScoringAnalysis *types.OrchestrationResult `json:"scoring_analysis,omitempty"`
	UserRequest     string                     `json:"user_request,omitempty" validate:"max=4000"`
	Refresh         bool                       `json:"refresh,omitempty"`
}

func (b *TailorRequest) toPipeline(userID string) pipeline.TailorRequest {
	return pipeline.TailorRequest{
		UserID:          userID,
		Document:        b.Document,
		Job:             b.Job,
		ScoringAnalysis: b.ScoringAnalysis,
		UserRequest:     b.UserRequest,
		Refresh:         b.Refresh,
	}
}

// handleScore scores a candidate against a job
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	resp, err := s.service.ScoreCandidateAgainstJob(r.Context(), req.toPipeline(userID(r)), nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleScoreStream scores a candidate and streams progress via SSE
func (s *Server) handleScoreStream(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	resp, err := s.service.ScoreCandidateAgainstJob(r.Context(), req.toPipeline(userID(r)), s.streamProgress(sse))
	s.finishStream(sse, resp, err)
}

// handleTailor tailors a document for a job
func (s *Server) handleTailor(w http.ResponseWriter, r *http.Request) {
	var req TailorRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	resp, err := s.service.TailorDocumentForJob(r.Context(), req.toPipeline(userID(r)), nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleTailorStream tailors a document and streams progress via SSE
func (s *Server) handleTailorStream(w http.ResponseWriter, r *http.Request) {
	var req TailorRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	resp, err := s.service.TailorDocumentForJob(r.Context(), req.toPipeline(userID(r)), s.streamProgress(sse))
	s.finishStream(sse, resp, err)
}

// handlePutCurrentJob replaces the caller's current job
func (s *Server) handlePutCurrentJob(w http.ResponseWriter, r *http.Request) {
	var job types.JobPosting
	if err := s.decodeJSON(w, r, &job); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.service.SetCurrentJob(r.Context(), userID(r), &job); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetCurrentJob returns the caller's current job
func (s *Server) handleGetCurrentJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.service.CurrentJob(r.Context(), userID(r))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "not_found", "no current job is set")
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

// handlePutDefaultProfile replaces the caller's default profile
func (s *Server) handlePutDefaultProfile(w http.ResponseWriter, r *http.Request) {
	var profile types.CandidateProfile
	if err := s.decodeJSON(w, r, &profile); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.service.SaveDefaultProfile(r.Context(), userID(r), &profile); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetDefaultProfile returns the caller's default profile
func (s *Server) handleGetDefaultProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.service.DefaultProfile(r.Context(), userID(r))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "not_found", "no default profile is saved")
		return
	}
	s.jsonResponse(w, http.StatusOK, profile)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// streamProgress forwards pipeline progress as SSE events. The final result
// is sent once as its own event, so it is dropped from the completion step.
func (s *Server) streamProgress(sse *SSEWriter) pipeline.ProgressCallback {
	return func(ev pipeline.ProgressEvent) {
		ev.Content = nil
		if err := sse.WriteEvent(eventProgress, ev); err != nil {
			s.logger.Debug("failed to write progress event", zap.Error(err))
		}
	}
}

func (s *Server) finishStream(sse *SSEWriter, resp any, err error) {
	if err != nil {
		s.logFailure(err)
		sse.WriteError(errorCode(err), publicMessage(err))
		return
	}
	if err := sse.WriteEvent(eventResult, resp); err != nil {
		s.logger.Debug("failed to write result event", zap.Error(err))
	}
}

// userID returns the caller's user id, or "" for anonymous requests.
func userID(r *http.Request) string {
	if id, ok := middleware.UserID(r.Context()); ok {
		return id.String()
	}
	return ""
}

// decodeJSON reads a bounded JSON body into v and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	if err := s.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, code, message string) {
	s.jsonResponse(w, status, map[string]string{"error": code, "message": message})
}

// writeError maps err to a status and writes it.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logFailure(err)
	s.errorResponse(w, HTTPStatus(err), errorCode(err), publicMessage(err))
}

func (s *Server) logFailure(err error) {
	if HTTPStatus(err) >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		return
	}
	s.logger.Debug("request rejected", zap.Error(err))
}
