/**
 * @description
 * This file contains the HTTP handlers for the fraud-review-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/omnibank/fraud-review-service/internal/app"
	"github.com/omnibank/fraud-review-service/internal/domain"
	"github.com/omnibank/fraud-review-service/internal/store"
)

// CaseHandlers holds the application service that handlers will use.
type CaseHandlers struct {
	service *app.Service
}

// NewCaseHandlers creates a new instance of CaseHandlers.
func NewCaseHandlers(service *app.Service) *CaseHandlers {
	return &CaseHandlers{service: service}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *CaseHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *CaseHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// rateLimitSubject identifies the caller for throttling: the authenticated
// agent host if present, otherwise the remote address.
func rateLimitSubject(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return forwarded
	}
	return r.RemoteAddr
}

// LookupCaseHandler handles case lookup by the caller's spoken name.
func (h *CaseHandlers) LookupCaseHandler(w http.ResponseWriter, r *http.Request) {
	if limited, retryAfter := h.service.ConsumeLookupLimit(r.Context(), rateLimitSubject(r)); limited {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many lookup requests. Please slow down.")
		return
	}

	var req domain.LookupCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=lookup_case outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.CallerName) == "" {
		h.writeError(w, http.StatusBadRequest, "caller_name is required")
		return
	}

	summary, err := h.service.LookupCase(r.Context(), req.CallerName)
	if err != nil {
		if errors.Is(err, store.ErrCaseNotFound) {
			h.writeError(w, http.StatusNotFound, "No pending fraud alert is associated with that name.")
			return
		}
		log.Printf("level=error component=api endpoint=lookup_case msg=\"lookup failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to look up case")
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// VerifyAnswerHandler handles security-answer verification for a case.
func (h *CaseHandlers) VerifyAnswerHandler(w http.ResponseWriter, r *http.Request) {
	if limited, retryAfter := h.service.ConsumeVerifyLimit(r.Context(), rateLimitSubject(r)); limited {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many verification requests. Please slow down.")
		return
	}

	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid case ID")
		return
	}

	var req domain.VerifyAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.VerifySecurityAnswer(r.Context(), caseID, req.Answer)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrCaseNotFound):
			h.writeError(w, http.StatusNotFound, "Case not found")
		case errors.Is(err, store.ErrCaseNotPending):
			h.writeError(w, http.StatusConflict, "Case is no longer pending review")
		case errors.Is(err, app.ErrVerificationLocked):
			h.writeError(w, http.StatusLocked, "Too many incorrect answers. Verification is temporarily locked.")
		default:
			log.Printf("level=error component=api endpoint=verify_answer msg=\"verification failed\" case_id=%s err=%v", caseID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to verify answer")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ConfirmTransactionHandler records the caller's final yes/no decision.
func (h *CaseHandlers) ConfirmTransactionHandler(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid case ID")
		return
	}

	var req domain.ConfirmTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.ConfirmTransaction(r.Context(), caseID, req.MadeTransaction)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrCaseNotFound):
			h.writeError(w, http.StatusNotFound, "Case not found")
		case errors.Is(err, app.ErrInvalidConfirmation):
			h.writeError(w, http.StatusBadRequest, "made_transaction must be yes or no")
		case errors.Is(err, app.ErrNotVerified):
			h.writeError(w, http.StatusPreconditionFailed, "Security verification has not passed for this case")
		default:
			log.Printf("level=error component=api endpoint=confirm_transaction msg=\"confirmation failed\" case_id=%s err=%v", caseID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to confirm transaction")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ListCasesHandler returns cases for operator review.
func (h *CaseHandlers) ListCasesHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.CaseListOptions{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil {
			opts.Limit = parsed
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if parsed, err := strconv.Atoi(offset); err == nil {
			opts.Offset = parsed
		}
	}

	switch opts.Status {
	case "", domain.CaseStatusPendingReview, domain.CaseStatusConfirmedSafe, domain.CaseStatusConfirmedFraud:
	default:
		h.writeError(w, http.StatusBadRequest, "Unknown status filter")
		return
	}

	cases, err := h.service.ListCases(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_cases msg=\"list failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list cases")
		return
	}
	if cases == nil {
		cases = []domain.CaseRecord{}
	}

	h.writeJSON(w, http.StatusOK, cases)
}

// GetCaseHandler returns one case for operator review.
func (h *CaseHandlers) GetCaseHandler(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid case ID")
		return
	}

	c, err := h.service.GetCase(r.Context(), caseID)
	if err != nil {
		if errors.Is(err, store.ErrCaseNotFound) {
			h.writeError(w, http.StatusNotFound, "Case not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_case msg=\"get failed\" case_id=%s err=%v", caseID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch case")
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}
