package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondDomainError reports err with the status of its result code. Internal
// errors never leak their text.
func respondDomainError(w http.ResponseWriter, err error) {
	res := domain.FailedOrder(err)
	respondError(w, statusFor(res.Code), res.Code.String(), res.Message)
}

func statusFor(code domain.ResultCode) int {
	switch code {
	case domain.CodeOK:
		return http.StatusOK
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInsufficientStock, domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// statusOnSuccess picks the status for a result: created on success,
// otherwise the failure's mapped status.
func statusOnSuccess(success bool, code domain.ResultCode, created int) int {
	if success {
		return created
	}
	return statusFor(code)
}

func parseProductID(r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
