package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/drogcidadeinfo/convenios-2/internal/reconciler"
	"github.com/drogcidadeinfo/convenios-2/internal/reporter"
	"github.com/drogcidadeinfo/convenios-2/internal/store"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
)

const defaultRunsLimit = 20

// ReconcileRequest is the body of POST /api/v1/reconciliations
type ReconcileRequest struct {
	Profile string                   `json:"profile"`
	A       []map[string]interface{} `json:"a"`
	B       []map[string]interface{} `json:"b"`
	DryRun  bool                     `json:"dry_run"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var body ReconcileRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	// numbers stay json.Number so amounts keep their exact decimal text
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid request payload: " + err.Error(),
			Code:  string(errors.CodeInvalidFormat),
		})
		return
	}

	template, ok := s.config.Profiles[body.Profile]
	if !ok {
		respondWithError(w, http.StatusNotFound, ErrorResponse{
			Error: "unknown profile: " + body.Profile,
			Code:  string(errors.CodeMissingConfig),
		})
		return
	}

	if !s.acquire(body.Profile) {
		respondWithError(w, http.StatusConflict, ErrorResponse{
			Error: "a reconciliation for this profile is already in progress",
		})
		return
	}
	defer s.release(body.Profile)

	request := fromTemplate(template, &body)
	result, err := s.service.ProcessReconciliation(r.Context(), request)
	if err != nil {
		s.logger.WithError(err).WithField("profile", body.Profile).Warn("Reconciliation request failed")
		status, resp := errorResponse(err)
		respondWithError(w, status, resp)
		return
	}

	config := reporter.DefaultReportConfig()
	config.Format = reporter.FormatJSON
	config.UseColors = false
	generator, err := reporter.NewReportGenerator(config)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	// buffered so a report failure can still become an error status
	var buf bytes.Buffer
	if err := generator.GenerateReport(result, &buf); err != nil {
		status, resp := errorResponse(err)
		respondWithError(w, status, resp)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.config.HistoryURL == "" {
		respondWithError(w, http.StatusNotFound, ErrorResponse{
			Error:      "no run history configured",
			Suggestion: "start the server with a sqlite:// or mysql:// history store",
		})
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  string(errors.CodeInvalidFormat),
			})
			return
		}
		limit = n
	}

	runs, err := store.History(r.Context(), s.config.HistoryURL, limit)
	if err != nil {
		status, resp := errorResponse(err)
		respondWithError(w, status, resp)
		return
	}
	if runs == nil {
		runs = []*store.RunRecord{}
	}
	respondWithJSON(w, http.StatusOK, runs)
}

// fromTemplate copies the profile template and points both ledgers at the
// posted rows
func fromTemplate(template *reconciler.ReconciliationRequest, body *ReconcileRequest) *reconciler.ReconciliationRequest {
	request := *template
	request.Matching = template.Matching.Clone()
	request.DryRun = body.DryRun || template.DryRun

	request.A = withRows(template.A, body.A)
	request.B = withRows(template.B, body.B)
	return &request
}

func withRows(src reconciler.LedgerSource, rows []map[string]interface{}) reconciler.LedgerSource {
	src.Path = ""
	src.Reader = nil
	src.Rows = rows
	return src
}

func errorResponse(err error) (int, ErrorResponse) {
	re, ok := errors.AsReconcilerError(err)
	if !ok {
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error()}
	}

	resp := ErrorResponse{Error: re.Message, Code: string(re.Code), Suggestion: re.Suggestion}
	switch re.Category {
	case errors.CategoryParse, errors.CategoryValidation, errors.CategoryConfiguration:
		return http.StatusBadRequest, resp
	case errors.CategoryStore:
		return http.StatusServiceUnavailable, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func respondWithError(w http.ResponseWriter, code int, resp ErrorResponse) {
	respondWithJSON(w, code, resp)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}
	w.WriteHeader(code)
	w.Write(response)
}
