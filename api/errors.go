package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vestio/vestio/authapi"
)

const maxBodySize = 64 << 10

// response is the envelope every endpoint answers with.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type validationData struct {
	Errors []authapi.FieldError `json:"errors"`
}

// failure is a handler-level error carrying its wire status and code.
type failure struct {
	status  int
	code    string
	message string
	fields  []authapi.FieldError
}

func (f *failure) Error() string { return f.message }

func fail(status int, code, message string) *failure {
	return &failure{status: status, code: code, message: message}
}

func invalid(fields ...authapi.FieldError) *failure {
	return &failure{
		status:  http.StatusBadRequest,
		code:    authapi.CodeValidation,
		message: "Validation failed",
		fields:  fields,
	}
}

var (
	errTicketExpired = fail(http.StatusGone, authapi.CodeExpiredOrInvalidTicket,
		"Your login session has expired, please log in again")
	errTokenExpired = fail(http.StatusGone, authapi.CodeInvalidOrExpiredToken,
		"This link is invalid or has expired")
	errUnauthorized = fail(http.StatusUnauthorized, authapi.CodeUnauthorized,
		"Authentication required")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, response{Success: true, Message: message, Data: data})
}

// writeError renders err. Anything that is not a *failure is an internal error
// and its text is logged, never sent.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var f *failure
	if !errors.As(err, &f) {
		logger.Error("internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, response{Error: "Internal server error"})
		return
	}
	resp := response{Error: f.message, Code: f.code}
	if len(f.fields) > 0 {
		resp.Data = validationData{Errors: f.fields}
	}
	writeJSON(w, f.status, resp)
}

// decodeJSON reads a size-limited JSON body into T.
func decodeJSON[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		return v, fail(http.StatusBadRequest, authapi.CodeValidation, "Request body is not valid JSON")
	}
	return v, nil
}
