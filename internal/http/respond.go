package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/checkout"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
)

type errorBody struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.IsAny(err, domain.ErrInvalidInput, domain.ErrDateRangeInvalid, domain.ErrCapacityExceeded):
		return http.StatusBadRequest
	case errors.IsAny(err, domain.ErrInvalidSignature, domain.ErrMissingMetadata, domain.ErrReservationGone):
		return http.StatusBadRequest
	case errors.IsAny(err, domain.ErrNotFound, domain.ErrApartmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.IsAny(err, domain.ErrSlotUnavailable, domain.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to status codes. 5xx details stay in the
// log; the client gets a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := observability.LoggerFrom(r.Context(), observability.NopLogger()).WithError(err)

	body := errorBody{Error: publicMessage(err)}
	if ie, ok := domain.AsInputError(err); ok {
		body.Fields = ie.Fields()
	}

	switch {
	case status >= http.StatusInternalServerError:
		log.Error("request failed")
		observability.ReportError(r.Context(), err)
		body.Error = "internal error, please retry"
		if errors.Is(err, checkout.ErrProvider) {
			body.Error = "payment provider unavailable, please retry"
		}
	case errors.Is(err, domain.ErrReservationGone):
		log.Error("integrity failure")
	default:
		log.Debug("request rejected")
	}
	writeJSON(w, status, body)
}

func publicMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrDateRangeInvalid, domain.ErrCapacityExceeded, domain.ErrSlotUnavailable,
		domain.ErrApartmentNotFound, domain.ErrNotFound, domain.ErrForbidden, domain.ErrInvalidState,
		domain.ErrInvalidSignature, domain.ErrMissingMetadata, domain.ErrReservationGone,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		return domain.ErrInvalidInput.Error()
	}
	return err.Error()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		ie := domain.NewInputError()
		ie.Add("body", err.Error())
		return ie
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
}
