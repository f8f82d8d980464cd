// Package billingerr holds the error taxonomy shared by the billing engine.
// Callers build errors with the constructors below and classify them with
// errors.Is against the markers or with CauseCode.
package billingerr

import (
	"context"

	"github.com/cockroachdb/errors"
)

const (
	CodeRateNotFound        = "rate_not_found"
	CodeMalformedProfile    = "malformed_profile"
	CodeSourceUnavailable   = "source_unavailable"
	CodeDuplicateGeneration = "duplicate_generation"
	CodePrepaidExhausted    = "prepaid_exhausted"
	CodeDeadlineExceeded    = "deadline_exceeded"
	CodeInternal            = "internal"
)

var (
	ErrRateNotFound           = errors.New("rate_not_found")
	ErrPrepaidExhausted       = errors.New("prepaid_exhausted")
	ErrDuplicateGeneration    = errors.New("duplicate_generation")
	ErrMalformedProfile       = errors.New("malformed_profile")
	ErrSourceEventUnavailable = errors.New("source_event_unavailable")
)

// RateNotFound reports that neither a negotiated override nor a current base
// rate prices the service type.
func RateNotFound(customerID, companyID int64, serviceType string) error {
	return errors.Mark(
		errors.Newf("no rate for service %q (customer %d, company %d)", serviceType, customerID, companyID),
		ErrRateNotFound,
	)
}

// PrepaidExhausted is an alert, not a failure: the caller falls back to a
// standard monthly storage charge.
func PrepaidExhausted(customerID int64, remaining string) error {
	return errors.Mark(
		errors.Newf("prepaid balance for customer %d exhausted (remaining %s)", customerID, remaining),
		ErrPrepaidExhausted,
	)
}

func DuplicateGeneration(customerID int64, key string) error {
	return errors.Mark(
		errors.Newf("period %s already generated for customer %d", key, customerID),
		ErrDuplicateGeneration,
	)
}

func MalformedProfile(customerID int64, reason string) error {
	return errors.Mark(
		errors.Newf("billing profile for customer %d is malformed: %s", customerID, reason),
		ErrMalformedProfile,
	)
}

// SourceUnavailable wraps a transport failure from one of the external subsystems.
func SourceUnavailable(err error, source string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, "%s unavailable", source), ErrSourceEventUnavailable)
}

// CauseCode maps an error to the stable code recorded on failed batch entries.
func CauseCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateNotFound):
		return CodeRateNotFound
	case errors.Is(err, ErrMalformedProfile):
		return CodeMalformedProfile
	case errors.Is(err, ErrSourceEventUnavailable):
		return CodeSourceUnavailable
	case errors.Is(err, ErrDuplicateGeneration):
		return CodeDuplicateGeneration
	case errors.Is(err, ErrPrepaidExhausted):
		return CodePrepaidExhausted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeDeadlineExceeded
	default:
		return CodeInternal
	}
}
