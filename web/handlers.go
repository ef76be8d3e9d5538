package web

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vivek1240/docling-api/app"
	"github.com/vivek1240/docling-api/domain/account"
	"github.com/vivek1240/docling-api/domain/convert"
)

// -----------------------------------------------------------------------------
// Conversion
// -----------------------------------------------------------------------------

// ConvertResponse is the metered conversion response body.
type ConvertResponse struct {
	RequestID        string                   `json:"request_id"`
	Status           string                   `json:"status"`
	Results          []convert.DocumentResult `json:"results"`
	DocumentsCharged int                      `json:"documents_charged"`
	PagesProcessed   int64                    `json:"pages_processed"`
	CreditsUsed      int64                    `json:"credits_used"`
	CreditsRemaining int64                    `json:"credits_remaining"`
	ProcessingTimeMs int64                    `json:"total_processing_time_ms"`
}

// ConvertSource meters and forwards a batch conversion request.
func (h *Handler) ConvertSource(w http.ResponseWriter, r *http.Request) {
	rawKey := bearerToken(r)
	if rawKey == "" {
		writeError(w, http.StatusUnauthorized, "missing_api_key", "Provide an API key via Authorization: Bearer")
		return
	}

	var req convert.Request
	if !decodeBody(w, r, &req) {
		return
	}

	h.meterConvert(w, r, rawKey, "/v1/convert/source", req)
}

// ConvertFile meters and converts one uploaded document. The upload is
// carried to the backend as an inline base64 source, so it is charged and
// recorded the same way URL sources are.
func (h *Handler) ConvertFile(w http.ResponseWriter, r *http.Request) {
	rawKey := bearerToken(r)
	if rawKey == "" {
		writeError(w, http.StatusUnauthorized, "missing_api_key", "Provide an API key via Authorization: Bearer")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large",
				"File too large. Maximum size: "+strconv.Itoa(maxUploadBytes>>20)+"MB")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_multipart", "Malformed multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", `Multipart field "file" is required`)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large",
				"File too large. Maximum size: "+strconv.Itoa(maxUploadBytes>>20)+"MB")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_multipart", "Failed to read uploaded file")
		return
	}

	req := convert.Request{
		Sources: []convert.Source{{
			Kind:     convert.KindBase64,
			Data:     base64.StdEncoding.EncodeToString(data),
			Filename: header.Filename,
		}},
		Options: convertOptionsFromQuery(r),
	}

	h.meterConvert(w, r, rawKey, "/v1/convert/file", req)
}

// convertOptionsFromQuery maps the upload endpoint's query parameters onto
// conversion options.
func convertOptionsFromQuery(r *http.Request) convert.Options {
	var opts convert.Options
	if f := r.URL.Query().Get("output_format"); f != "" {
		opts.ToFormats = []string{f}
	}
	if r.URL.Query().Get("enable_ocr") == "true" {
		opts.OCR = true
	}
	return opts
}

// meterConvert runs a conversion through the gateway and writes the
// response, recording usage under the given endpoint.
func (h *Handler) meterConvert(w http.ResponseWriter, r *http.Request, rawKey, endpoint string, req convert.Request) {
	result, errResult := h.gateway.Convert(r.Context(), rawKey, endpoint, req)
	if errResult != nil {
		h.countRejection(errResult)
		if errResult.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(errResult.RetryAfter))
		}
		writeError(w, errResult.Status, errResult.Code, errResult.Message)
		return
	}

	if h.collector != nil {
		h.collector.CreditsDeducted.Add(float64(result.CreditsUsed))
		h.collector.PagesProcessed.Add(float64(result.PagesProcessed))
		h.collector.BackendDuration.WithLabelValues(result.Status).Observe(float64(result.ProcessingTimeMs) / 1000)
	}

	writeJSON(w, http.StatusOK, ConvertResponse{
		RequestID:        result.RequestID,
		Status:           result.Status,
		Results:          result.Results,
		DocumentsCharged: result.DocumentsCharged,
		PagesProcessed:   result.PagesProcessed,
		CreditsUsed:      result.CreditsUsed,
		CreditsRemaining: result.CreditsRemaining,
		ProcessingTimeMs: result.ProcessingTimeMs,
	})
}

// countRejection feeds rejection metrics by error class.
func (h *Handler) countRejection(e *app.ErrorResult) {
	if h.collector == nil {
		return
	}
	switch e.Code {
	case app.CodeInvalidKey, app.CodeKeyInactive:
		h.collector.AuthFailures.WithLabelValues(e.Code).Inc()
	case app.CodeRateLimited:
		h.collector.RateLimitHits.WithLabelValues("key").Inc()
	case app.CodeInsufficientCredits:
		h.collector.InsufficientCredits.Inc()
	case app.CodeBackendUnavailable, app.CodeBackendTimeout:
		h.collector.BackendErrors.WithLabelValues(e.Code).Inc()
	}
}

// -----------------------------------------------------------------------------
// Keys (admin)
// -----------------------------------------------------------------------------

// CreateKeyRequest is the body for key issuance.
type CreateKeyRequest struct {
	Name string `json:"name"`
	Tier string `json:"tier"`
}

// KeyResponse describes an account without its secret.
type KeyResponse struct {
	KeyID              string     `json:"key_id"`
	Name               string     `json:"name"`
	Tier               string     `json:"tier"`
	Credits            int64      `json:"credits"`
	CreditsUsed        int64      `json:"credits_used"`
	DocumentsProcessed int64      `json:"documents_processed"`
	PagesProcessed     int64      `json:"pages_processed"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	LastUsed           *time.Time `json:"last_used,omitempty"`
}

// CreateKeyResponse carries the one-time full key.
type CreateKeyResponse struct {
	KeyResponse
	APIKey string `json:"api_key"`
}

func accountToResponse(a account.Account) KeyResponse {
	return KeyResponse{
		KeyID:              a.KeyID,
		Name:               a.Name,
		Tier:               a.Tier,
		Credits:            a.Credits,
		CreditsUsed:        a.CreditsUsed,
		DocumentsProcessed: a.DocumentsProcessed,
		PagesProcessed:     a.PagesProcessed,
		IsActive:           a.IsActive,
		CreatedAt:          a.CreatedAt,
		LastUsed:           a.LastUsed,
	}
}

// CreateKey issues a new API key.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "name is required")
		return
	}

	issued, err := h.keys.Issue(r.Context(), req.Name, req.Tier)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tier", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, CreateKeyResponse{
		KeyResponse: accountToResponse(issued.Account),
		APIKey:      issued.FullKey,
	})
}

// ListKeys returns all accounts.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.keys.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list keys")
		return
	}

	out := make([]KeyResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountToResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": out})
}

// GetKey returns one account by key id.
func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")

	acct, err := h.keys.Get(r.Context(), keyID)
	if err != nil {
		writeError(w, http.StatusNotFound, "key_not_found", "No such API key")
		return
	}
	writeJSON(w, http.StatusOK, accountToResponse(acct))
}

// DeactivateKey revokes a key permanently.
func (h *Handler) DeactivateKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")

	if err := h.keys.Deactivate(r.Context(), keyID); err != nil {
		writeError(w, http.StatusNotFound, "key_not_found", "No such API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// -----------------------------------------------------------------------------
// Usage
// -----------------------------------------------------------------------------

// UsageResponse reports aggregate usage plus recent events.
type UsageResponse struct {
	Stats  usageStats   `json:"stats"`
	Recent []usageEvent `json:"recent_events"`
}

type usageStats struct {
	TotalRequests       int64 `json:"total_requests"`
	TotalDocuments      int64 `json:"total_documents"`
	TotalPages          int64 `json:"total_pages"`
	TotalCredits        int64 `json:"total_credits"`
	AvgProcessingTimeMs int64 `json:"avg_processing_time_ms"`
	ErrorCount          int64 `json:"error_count"`
}

type usageEvent struct {
	RequestID        string    `json:"request_id"`
	Endpoint         string    `json:"endpoint"`
	Documents        int64     `json:"documents"`
	Pages            int64     `json:"pages"`
	Credits          int64     `json:"credits"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Usage returns usage for the authenticated key over the trailing days.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	days := parseIntQuery(r, "days", 30)
	limit := parseIntQuery(r, "limit", 50)

	stats, recent, err := h.keys.Stats(r.Context(), acct.ID, days, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load usage")
		return
	}

	events := make([]usageEvent, 0, len(recent))
	for _, ev := range recent {
		events = append(events, usageEvent{
			RequestID:        ev.RequestID,
			Endpoint:         ev.Endpoint,
			Documents:        ev.Documents,
			Pages:            ev.Pages,
			Credits:          ev.Credits,
			ProcessingTimeMs: ev.ProcessingTimeMs,
			Status:           ev.Status,
			Error:            ev.ErrorMessage,
			CreatedAt:        ev.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Stats: usageStats{
			TotalRequests:       stats.TotalRequests,
			TotalDocuments:      stats.TotalDocuments,
			TotalPages:          stats.TotalPages,
			TotalCredits:        stats.TotalCredits,
			AvgProcessingTimeMs: stats.AvgProcessingTimeMs,
			ErrorCount:          stats.ErrorCount,
		},
		Recent: events,
	})
}

// authenticate resolves the caller's API key or writes a 401.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (account.Account, bool) {
	rawKey := bearerToken(r)
	if rawKey == "" {
		writeError(w, http.StatusUnauthorized, "missing_api_key", "Provide an API key via Authorization: Bearer")
		return account.Account{}, false
	}

	acct, result := h.keys.Validate(r.Context(), rawKey)
	if !result.Valid {
		if h.collector != nil {
			h.collector.AuthFailures.WithLabelValues(result.Reason).Inc()
		}
		writeError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
		return account.Account{}, false
	}
	return acct, true
}
