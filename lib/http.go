package lib

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/TecharoHQ/linecaptcha/internal"
	"github.com/TecharoHQ/linecaptcha/lib/challenge"
	"github.com/TecharoHQ/linecaptcha/lib/geometry"
	"github.com/TecharoHQ/linecaptcha/lib/localization"
	"github.com/TecharoHQ/linecaptcha/lib/verify"
)

// maxBodySize caps every request body.
const maxBodySize = 1 << 20

// ContractError is a request that is malformed or missing a field. It is
// reported before any challenge logic runs.
type ContractError struct {
	Field  string
	Reason error
}

func (e *ContractError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("lib: invalid request: %v", e.Reason)
	}
	return fmt.Sprintf("lib: invalid request: %s: %v", e.Field, e.Reason)
}

func (e *ContractError) Unwrap() error {
	return e.Reason
}

func missing(field string) *ContractError {
	return &ContractError{Field: field, Reason: challenge.ErrMissingField}
}

func invalid(field string) *ContractError {
	return &ContractError{Field: field, Reason: challenge.ErrInvalidFormat}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// decodeBody reads one JSON document of at most maxBodySize bytes into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(body)

	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return &ContractError{Reason: fmt.Errorf("%w: body larger than %d bytes", challenge.ErrInvalidFormat, tooBig.Limit)}
		case errors.Is(err, io.EOF):
			return &ContractError{Reason: fmt.Errorf("%w: empty body", challenge.ErrMissingField)}
		case errors.Is(err, verify.ErrBadSample):
			return invalid("trajectory")
		case errors.Is(err, geometry.ErrBadPoint):
			return invalid("cursor")
		default:
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return invalid(typeErr.Field)
			}
			return &ContractError{Reason: fmt.Errorf("%w: %w", challenge.ErrInvalidFormat, err)}
		}
	}

	if dec.More() {
		return &ContractError{Reason: fmt.Errorf("%w: trailing data after JSON body", challenge.ErrInvalidFormat)}
	}

	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		internal.GetRequestLogger(r).Error("failed to encode response", "err", err)
	}
}

// respondWithError maps err onto the public error taxonomy. Rejections all
// look the same from the outside; only the logs carry the cause.
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	lg := internal.GetRequestLogger(r)
	localizer := localization.GetLocalizer(r)

	var (
		cerr     *ContractError
		challErr *challenge.Error
	)

	switch {
	case errors.As(err, &cerr):
		lg.Debug("invalid request", "err", err)
		s.respondJSON(w, r, http.StatusBadRequest, errorResponse{
			Error:   "invalid_request",
			Message: localizer.T("invalid_request"),
			Field:   cerr.Field,
		})
	case errors.As(err, &challErr) && errors.Is(err, challenge.ErrRejected):
		lg.Info("challenge rejected", "verb", challErr.Verb, "err", challErr.PrivateReason)
		s.respondJSON(w, r, challErr.StatusCode, errorResponse{
			Error:   challErr.PublicReason,
			Message: localizer.T(challenge.PublicRejection),
		})
	default:
		lg.Error("internal error", "err", err)
		s.respondJSON(w, r, http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: localizer.T("internal_error"),
		})
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
