package web

// errors.go provides unified error response handling for the web layer.
//
// Every coded error is logged with its technical detail and request ID, then
// returned to the client as the user message of core.NewUserError.

import (
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/claimsync/internal/core"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err server-side and writes its user message as JSON.
// Errors with a known code are logged as warnings; the rest are server
// errors.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userErr := core.NewUserError(err)

	level := slog.LevelError
	if core.IsUserFacing(err) {
		level = slog.LevelWarn
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userErr.User.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	writeJSONStatus(w, statusCode, ErrorResponse{
		Error:   userErr.Error(),
		Message: userErr.User.Message,
		Action:  userErr.User.Action,
		Code:    userErr.User.Code,
	})
}

// resultStatus picks the HTTP status for an import result. Completed runs
// are 200 even when documents were rejected; the body says which.
func resultStatus(result *core.Result) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Code {
	case "IMP001":
		return http.StatusConflict
	case "IMP004", "IMP005":
		return http.StatusServiceUnavailable
	case "FILE001":
		return http.StatusRequestEntityTooLarge
	case "FILE004":
		return http.StatusBadRequest
	case "DB001", "DB003", "DB004", "DB005", "DB006", "DB007", "DB008":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
