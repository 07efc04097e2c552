package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/claimsync/internal/config"
	"github.com/JonMunkholm/claimsync/internal/core"
	"github.com/JonMunkholm/claimsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCSV = "account_ref,comm_code,kind,declared_total,line_concept,line_amount\n" +
	"REF-1,C-1,ORIGIN,1000,Labor,1000\n"

const mixedCSV = "account_ref,comm_code,declared_total\n" +
	"REF-1,C-1,100\n" +
	"REF-2,C-2,0\n"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{
			MaxFileSize:     1 << 20,
			MaxWait:         50 * time.Millisecond,
			Tolerance:       1,
			OversightRate:   0.05,
			ResultCacheSize: 10,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc, err := core.NewService(st, cfg.Import)
	require.NoError(t, err)
	return NewServer(svc, cfg), st
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, target, field, fileName, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, fileName)
	require.NoError(t, err)
	_, err = io.WriteString(part, body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) core.Result {
	t.Helper()
	var result core.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result), rec.Body.String())
	return result
}

// ============================================================================
// POST /api/imports
// ============================================================================

func TestImport_Multipart(t *testing.T) {
	s, st := newTestServer(t, testConfig())

	rec := do(s, multipartRequest(t, "/api/imports", "file", "claims.csv", validCSV))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	result := decodeResult(t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, "claims.csv", result.FileName)
	assert.Equal(t, 1, result.Valid)
	assert.Equal(t, 1, st.Count(store.TableRevisions))
}

func TestImport_RawJSONBody(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	body := `{"account_ref": "REF-1", "comm_code": "C-1", "declared_total": 10}`

	req := httptest.NewRequest(http.MethodPost, "/api/imports?filename=feed", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeResult(t, rec)
	assert.Equal(t, "feed", result.FileName)
	assert.Equal(t, 1, result.Counts.Communications)
}

func TestImport_RawBodyWithFormat(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/imports?format=csv", strings.NewReader(validCSV))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestImport_Failures(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 64

	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name: "missing columns",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/imports", "file", "bad.csv", "foo,bar\n1,2\n")
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VAL004",
		},
		{
			name: "empty file",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader("  "))
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "FILE005",
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader(strings.Repeat("x", 65)))
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "FILE001",
		},
		{
			name: "wrong form field",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/imports", "upload", "claims.csv", validCSV)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE004",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, cfg)

			rec := do(s, tt.req(t))

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			var body struct {
				Code   string `json:"code"`
				Action string `json:"action"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Action, "the user action reaches the client")
		})
	}
}

func TestImport_UnknownFormat(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(s, httptest.NewRequest(http.MethodPost, "/api/imports?format=pdf", strings.NewReader(validCSV)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `unknown import format`)
}

func TestResultStatus(t *testing.T) {
	tests := []struct {
		result *core.Result
		want   int
	}{
		{&core.Result{Success: true}, http.StatusOK},
		{&core.Result{Code: "IMP001"}, http.StatusConflict},
		{&core.Result{Code: "IMP004"}, http.StatusServiceUnavailable},
		{&core.Result{Code: "FILE001"}, http.StatusRequestEntityTooLarge},
		{&core.Result{Code: "FILE004"}, http.StatusBadRequest},
		{&core.Result{Code: "DB008"}, http.StatusInternalServerError},
		{&core.Result{Code: "VAL004"}, http.StatusUnprocessableEntity},
		{&core.Result{Code: "ERR000"}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, resultStatus(tt.result), tt.result.Code)
	}
}

// ============================================================================
// Run history and results
// ============================================================================

func TestRuns_ListAndFetch(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	imported := decodeResult(t, do(s, multipartRequest(t, "/api/imports", "file", "claims.csv", validCSV)))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/imports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []core.RunSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, imported.RunID, list.Runs[0].RunID)
	assert.Equal(t, core.RunSucceeded, list.Runs[0].Status)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/imports/"+imported.RunID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, imported.RunID, decodeResult(t, rec).RunID)
}

func TestRuns_EmptyHistoryIsEmptyList(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/imports", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestRunResult_Unknown(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/imports/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "IMP002", body.Code)
	assert.NotEmpty(t, body.Message)
	assert.NotEmpty(t, body.Action)
}

func TestRejectedExtract(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	imported := decodeResult(t, do(s, multipartRequest(t, "/api/imports", "file", "mixed.csv", mixedCSV)))
	require.Len(t, imported.Rejected, 1)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/imports/"+imported.RunID+"/rejected.csv", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "rejected-"+imported.RunID+".csv")
	assert.Equal(t, "account_ref,comm_code,declared_total\nREF-2,C-2,0\n", rec.Body.String())
}

func TestRejectedExtract_NothingRejected(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	imported := decodeResult(t, do(s, multipartRequest(t, "/api/imports", "file", "claims.csv", validCSV)))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/imports/"+imported.RunID+"/rejected.csv", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestRejectedExtract_UnknownRun(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/imports/nope/rejected.csv", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================================
// Communications
// ============================================================================

func TestCommunication_CurrentRevision(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	imported := decodeResult(t, do(s, multipartRequest(t, "/api/imports", "file", "claims.csv", validCSV)))
	require.Len(t, imported.Imported, 1)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/accounts/ref-1/communications/c-1", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var state core.CommunicationState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, imported.Imported[0].CommunicationID, state.CommunicationID)
	assert.Equal(t, imported.Imported[0].RevisionID, state.CurrentRevisionID)
	assert.Equal(t, 1, state.Revisions)
}

func TestCommunication_Unknown(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/accounts/REF-1/communications/C-1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "IMP003", body.Code)
	assert.Equal(t, "Communication not found", body.Error)
	assert.Equal(t, "Check the account reference and communication code", body.Action)
}

// ============================================================================
// Service endpoints and middleware
// ============================================================================

func TestSchema(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/schema", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Columns []schemaColumn `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Columns)
	assert.Equal(t, core.FieldAccountRef, body.Columns[0].Field)
	assert.True(t, body.Columns[0].Required)
	assert.Contains(t, body.Columns[0].Aliases, "account_ref")
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string                `json:"status"`
		State  string                `json:"state"`
		Import core.RunLimiterStatus `json:"import"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "idle", body.State)
	assert.False(t, body.Import.Active)
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	do(s, multipartRequest(t, "/api/imports", "file", "claims.csv", validCSV))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claimsync_import_runs_total")
	assert.Contains(t, rec.Body.String(), `claimsync_import_rows_inserted_total{table="line_items"}`)
	assert.Contains(t, rec.Body.String(), `claimsync_import_rows_inserted_total{table="revisions"}`)
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://claims.example.com"}
	s, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/imports", nil)
	req.Header.Set("Origin", "https://claims.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := do(s, req)

	assert.Equal(t, "https://claims.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/imports", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = do(s, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestImportRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, ImportLimit: 1}
	s, _ := newTestServer(t, cfg)

	first := do(s, multipartRequest(t, "/api/imports", "file", "claims.csv", validCSV))
	second := do(s, multipartRequest(t, "/api/imports", "file", "claims.csv", validCSV))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// reads are limited separately
	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/imports", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
