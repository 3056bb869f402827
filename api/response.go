package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/paywall"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	EntryID   string `json:"entryId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data) //nolint:errcheck // client went away
	}
}

// writeError maps engine errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, errorBody) {
	var (
		ve  paywall.ValidationError
		pe  *paywall.PaymentError
		ce  *paywall.CommitError
		vre validator.ValidationErrors
	)
	switch {
	case errors.As(err, &vre):
		fe := vre[0]
		return http.StatusUnprocessableEntity, errorBody{
			Error: fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()),
			Code:  "validation",
			Field: fe.Field(),
		}
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, errorBody{Error: ve.Error(), Code: "validation", Field: ve.Field}
	case paywall.IsValidation(err):
		return http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "validation"}
	case paywall.IsConflict(err):
		return http.StatusConflict, errorBody{
			Error:     err.Error(),
			Code:      "conflict",
			Retryable: errors.Is(err, paywall.ErrActionInProgress),
		}
	case errors.As(err, &pe):
		return http.StatusPaymentRequired, errorBody{
			Error:     "payment failed: " + pe.Reason,
			Code:      "payment_failed",
			Retryable: true,
			EntryID:   pe.EntryID.String(),
		}
	case errors.Is(err, paywall.ErrPaymentPending):
		return http.StatusAccepted, errorBody{Error: err.Error(), Code: "payment_pending", Retryable: true}
	case errors.As(err, &ce):
		return http.StatusInternalServerError, errorBody{
			Error:   "payment collected, access is being finalized",
			Code:    "commit_failed",
			EntryID: ce.EntryID.String(),
		}
	case paywall.IsNotFound(err):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal server error"}
}

// decodeJSON decodes and validates a request body.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return paywall.ValidationError{Field: "body", Message: "invalid JSON: " + strings.TrimPrefix(err.Error(), "json: ")}
	}
	return s.validate.Struct(v)
}
