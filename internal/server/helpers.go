package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/cwbudde/mayflydoe/internal/formula"
	"github.com/cwbudde/mayflydoe/internal/space"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// requestError turns a validation failure into a client message.
func requestError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "invalid request: " + verrs[0].Namespace() + " failed " + verrs[0].Tag()
	}
	return err.Error()
}

// statusFor maps solver and strategy errors to HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, space.ErrInvalid) || errors.Is(err, formula.ErrInvalid) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
