package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrPersistence          = errors.New("persistence failure")

	ErrApartmentNotFound = errors.New("apartment not found")
	ErrDateRangeInvalid  = errors.New("date range invalid")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrSlotUnavailable   = errors.New("slot unavailable")

	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")

	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMissingMetadata  = errors.New("missing reservation metadata")
	ErrReservationGone  = errors.New("reservation no longer exists")
)

// Persistence marks err as a store failure so callers can test it with errors.Is(err, ErrPersistence).
// Domain errors pass through untouched.
func Persistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) || errors.Is(err, ErrPersistence) {
		return err
	}
	return errors.Mark(errors.Wrap(err, msg), ErrPersistence)
}

func IsDomainError(err error) bool {
	return errors.IsAny(err,
		ErrNotFound, ErrInvalidInput,
		ErrApartmentNotFound, ErrDateRangeInvalid, ErrCapacityExceeded, ErrSlotUnavailable,
		ErrForbidden, ErrInvalidState,
		ErrInvalidSignature, ErrMissingMetadata, ErrReservationGone,
	)
}

// InputError collects per-field validation messages.
type InputError struct {
	fields map[string][]string
}

func NewInputError() *InputError {
	return &InputError{fields: make(map[string][]string)}
}

func (ie *InputError) Add(field, msg string) {
	ie.fields[field] = append(ie.fields[field], msg)
}

func (ie *InputError) Empty() bool {
	return len(ie.fields) == 0
}

func (ie *InputError) Fields() map[string][]string {
	return ie.fields
}

func (ie *InputError) Error() string {
	keys := make([]string, 0, len(ie.fields))
	for k := range ie.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(ie.fields[k], ", ")))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (ie *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func AsInputError(err error) (*InputError, bool) {
	var ie *InputError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
