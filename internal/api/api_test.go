package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drogcidadeinfo/convenios-2/internal/matcher"
	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/reconciler"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetGlobalLogger(logger.Discard())
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, historyURL string) (*Server, string) {
	t.Helper()

	service, err := reconciler.NewReconciliationService(nil)
	if err != nil {
		t.Fatalf("NewReconciliationService failed: %v", err)
	}

	output := filepath.Join(t.TempDir(), "minerva.csv")
	server := NewServer(service, &Config{
		Profiles: map[string]*reconciler.ReconciliationRequest{
			"minerva": {
				Profile:  "minerva",
				Labels:   models.SideLabels{A: "TRIER", B: "MINERVA"},
				Matching: matcher.DocumentMatchingConfig(),
				A:        reconciler.LedgerSource{Name: "trier", Path: "ignored.csv"},
				B:        reconciler.LedgerSource{Name: "minerva", Path: "ignored.csv"},
				Output:   output,
			},
		},
		HistoryURL: historyURL,
	})
	return server, output
}

func doRequest(t *testing.T, server *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

const documentBody = `{
	"profile": "minerva",
	"a": [
		{"CPF": "123.456.789-01", "Cliente": "ANA PAULA", "Valor": 100.50, "Filial": 3},
		{"CPF": "987.654.321-00", "Cliente": "BRUNO", "Valor": "R$ 20,00"}
	],
	"b": [
		{"cpf": "12345678901", "nome": "Ana Paula", "valor": "100,50"}
	]
}`

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t, "")
	rec := doRequest(t, server, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestReconcile(t *testing.T) {
	server, output := newTestServer(t, "")

	rec := doRequest(t, server, http.MethodPost, "/api/v1/reconciliations", documentBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	summary, _ := doc["summary"].(map[string]interface{})
	if summary["total_rows"] != float64(2) || summary["ok"] != float64(1) || summary["only_a"] != float64(1) {
		t.Errorf("unexpected summary %v", doc["summary"])
	}
	if doc["written"] != true {
		t.Errorf("expected the table to be written, got %v", doc["written"])
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "⚠️ SOMENTE TRIER") {
		t.Errorf("expected an only-A row in the stored table:\n%s", data)
	}
}

func TestReconcile_DryRun(t *testing.T) {
	server, output := newTestServer(t, "")
	body := strings.Replace(documentBody, `"profile": "minerva",`, `"profile": "minerva", "dry_run": true,`, 1)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/reconciliations", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Errorf("dry run must not write, stat error = %v", err)
	}
}

func TestReconcile_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "bad json",
			body:       `{"profile":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_format",
		},
		{
			name:       "unknown profile",
			body:       `{"profile": "nope", "a": [], "b": []}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "missing_config",
		},
		{
			name:       "missing ledger",
			body:       `{"profile": "minerva", "a": [{"cpf": "1", "cliente": "X", "valor": 1}]}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_field",
		},
		{
			name:       "missing column",
			body:       `{"profile": "minerva", "a": [{"cpf": "1", "cliente": "X", "valor": 1}], "b": [{"cpf": "1", "cliente": "X"}]}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_column",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, output := newTestServer(t, "")
			rec := doRequest(t, server, http.MethodPost, "/api/v1/reconciliations", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if resp := decodeError(t, rec); resp.Code != tt.wantCode {
				t.Errorf("expected code %q, got %+v", tt.wantCode, resp)
			}
			if _, err := os.Stat(output); !os.IsNotExist(err) {
				t.Errorf("failed request must not write, stat error = %v", err)
			}
		})
	}
}

func TestReconcile_Conflict(t *testing.T) {
	server, _ := newTestServer(t, "")
	if !server.acquire("minerva") {
		t.Fatal("expected to acquire a free profile")
	}
	defer server.release("minerva")

	rec := doRequest(t, server, http.MethodPost, "/api/v1/reconciliations", documentBody)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestReconcile_TemplateUntouched(t *testing.T) {
	server, _ := newTestServer(t, "")
	template := server.config.Profiles["minerva"]

	rec := doRequest(t, server, http.MethodPost, "/api/v1/reconciliations", documentBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if template.A.Rows != nil || template.A.Path != "ignored.csv" {
		t.Errorf("template ledger source was modified: %+v", template.A)
	}
}

func TestRuns(t *testing.T) {
	csvHistory := filepath.Join(t.TempDir(), "results.csv")

	tests := []struct {
		name       string
		historyURL string
		target     string
		wantStatus int
	}{
		{"no history", "", "/api/v1/runs", http.StatusNotFound},
		{"bad limit", csvHistory, "/api/v1/runs?limit=zero", http.StatusBadRequest},
		{"csv store keeps no history", csvHistory, "/api/v1/runs", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTestServer(t, tt.historyURL)
			rec := doRequest(t, server, http.MethodGet, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t, "")
	rec := doRequest(t, server, http.MethodPost, "/health", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
