package web

import (
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/JonMunkholm/claimsync/internal/core"
	"github.com/go-chi/chi/v5"
)

// formOverhead is the room left above the file size limit for the multipart
// envelope, so the service rather than the form parser reports oversize files.
const formOverhead = 1 << 20

// multipartMemory is how much of a multipart form is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// handleImport runs one import. The file is either the "file" field of a
// multipart form or the raw request body; the optional format query
// parameter overrides detection.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	format, err := core.ParseImportFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+formOverhead)

	req := core.ImportRequest{Format: format}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.respondError(w, r, core.ErrFileTooLarge, http.StatusRequestEntityTooLarge)
				return
			}
			writeError(w, r, http.StatusBadRequest, "invalid multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			s.respondError(w, r, core.ErrNoFile, http.StatusBadRequest)
			return
		}
		defer file.Close()

		req.FileName = header.Filename
		req.Body = file

	default:
		req.FileName = r.URL.Query().Get("filename")
		if req.Format == core.FormatAuto && mediaType == "application/json" {
			req.Format = core.FormatJSON
		}
		req.Body = r.Body
	}

	result := s.service.Import(r.Context(), req)
	if result.Code == "IMP001" {
		w.Header().Set("Retry-After", "10")
	}
	writeJSONStatus(w, resultStatus(result), result)
}

// handleListRuns returns the run history, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.Runs(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []core.RunSummary{}
	}
	writeJSON(w, map[string]any{"runs": runs})
}

// handleRunResult returns the full result of a recent run.
func (s *Server) handleRunResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Result(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, result)
}

// handleRejectedExtract downloads the rows of a run's rejected documents as
// CSV. A run with nothing rejected has no extract.
func (s *Server) handleRejectedExtract(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	result, err := s.service.Result(runID)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	data, err := result.RejectedExtract()
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "rejected-"+runID+".csv"))
	w.Write(data)
}

// handleCommunication returns the stored state of one communication,
// including its current revision.
func (s *Server) handleCommunication(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Communication(r.Context(), chi.URLParam(r, "accountRef"), chi.URLParam(r, "commCode"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrUnknownCommunication) {
			status = http.StatusNotFound
		}
		s.respondError(w, r, err, status)
		return
	}
	writeJSON(w, state)
}

type schemaColumn struct {
	Field    core.Field `json:"field"`
	Required bool       `json:"required"`
	Aliases  []string   `json:"aliases"`
}

// handleSchema lists the input columns and the header spellings accepted for
// each.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	var cols []schemaColumn
	for _, c := range s.service.Schema().Columns() {
		cols = append(cols, schemaColumn{Field: c.Field, Required: c.Required, Aliases: c.Aliases})
	}
	writeJSON(w, map[string]any{"columns": cols})
}

// handleHealth reports liveness and whether an import is running.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.LimiterStatus()
	state := "idle"
	if status.Active {
		state = "importing"
	}
	writeJSON(w, map[string]any{
		"status": "ok",
		"state":  state,
		"import": status,
	})
}
