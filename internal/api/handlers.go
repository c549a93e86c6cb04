package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"whitelist-bot/internal/application"
	apperrors "whitelist-bot/internal/common/errors"
	"whitelist-bot/internal/decision"
	"whitelist-bot/internal/effects"
	"whitelist-bot/internal/search"
)

// AdminActor is recorded as the approver of decisions made through the API.
const AdminActor = "admin-web"

const maxBodyBytes = 1 << 20

// Lifecycle is the application lifecycle served over HTTP.
type Lifecycle interface {
	Submit(ctx context.Context, req decision.SubmitRequest) (decision.Result, error)
	RecordFailure(ctx context.Context, req decision.FailureRequest) (time.Time, error)
	Approve(ctx context.Context, req decision.ApproveRequest) (decision.Result, error)
	Reject(ctx context.Context, req decision.RejectRequest) (decision.Result, error)
	Unreject(ctx context.Context, req decision.UnrejectRequest) (decision.Result, error)
	Status(ctx context.Context, candidateID string) (decision.StatusView, error)
	List(ctx context.Context) ([]*application.Application, error)
	Members(ctx context.Context) ([]application.Member, error)
	MemberCheck(ctx context.Context, candidateID string) (decision.MemberCheck, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, size int) (*search.Result, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type mutationResponse struct {
	OK          bool                     `json:"ok"`
	Report      effects.Report           `json:"report"`
	Application *application.Application `json:"application,omitempty"`
}

func mutation(res decision.Result) mutationResponse {
	return mutationResponse{OK: true, Report: res.Report, Application: res.Application}
}

type candidateBody struct {
	CandidateID string `json:"candidateId"`
	Reason      string `json:"reason,omitempty"`
}

// decode reads a JSON body of at most maxBodyBytes.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.NewValidationError("invalid JSON body: " + err.Error())
	}
	return nil
}

// candidateParam reads candidateId, accepting the legacy discordId name.
func candidateParam(r *http.Request) string {
	q := r.URL.Query()
	if id := strings.TrimSpace(q.Get("candidateId")); id != "" {
		return id
	}
	return strings.TrimSpace(q.Get("discordId"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.lifecycle.Status(r.Context(), candidateParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req decision.FailureRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	until, err := s.lifecycle.RecordFailure(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "cooldownUntil": until})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req decision.SubmitRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.lifecycle.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mutation(res))
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	var body candidateBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.lifecycle.Reject(r.Context(), decision.RejectRequest{
		CandidateID: body.CandidateID,
		Approver:    AdminActor,
		Reason:      strings.TrimSpace(body.Reason),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutation(res))
}

func (s *Server) handleUnblacklist(w http.ResponseWriter, r *http.Request) {
	var body candidateBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.lifecycle.Unreject(r.Context(), decision.UnrejectRequest{CandidateID: body.CandidateID, Actor: AdminActor})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutation(res))
}

// handleWhitelist is the admin override; it does not require a submission.
func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	var body candidateBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.lifecycle.Approve(r.Context(), decision.ApproveRequest{
		CandidateID: body.CandidateID,
		Approver:    AdminActor,
		Override:    true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutation(res))
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	apps, err := s.lifecycle.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if apps == nil {
		apps = []*application.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.lifecycle.Members(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if members == nil {
		members = []application.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleMemberCheck(w http.ResponseWriter, r *http.Request) {
	check, err := s.lifecycle.MemberCheck(r.Context(), candidateParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, apperrors.NewValidationError("q is required"))
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	res, err := s.searcher.Search(r.Context(), q, size)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrCodeSearchFailed, "Search failed", err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", map[string]interface{}{"check": name, "error": err.Error()})
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"check":  name,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
