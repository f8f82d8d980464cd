package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	prepaiddomain "github.com/smallbiznis/storagebill/internal/prepaid/domain"
	ratecatalogdomain "github.com/smallbiznis/storagebill/internal/ratecatalog/domain"
	"github.com/smallbiznis/storagebill/internal/scheduler"
	"github.com/smallbiznis/storagebill/internal/scheduler/guard"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code := validationErrorCode(err); code != "" {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: "request", Code: code, Message: err.Error()},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	}

	switch billingerr.CauseCode(err) {
	case billingerr.CodeRateNotFound, billingerr.CodeMalformedProfile:
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    billingerr.CauseCode(err),
			Message: err.Error(),
		}
	case billingerr.CodeDuplicateGeneration:
		return http.StatusConflict, errorPayload{
			Type:    billingerr.CodeDuplicateGeneration,
			Message: "period already generated",
		}
	case billingerr.CodeSourceUnavailable:
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "source system unavailable",
		}
	case billingerr.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout, errorPayload{
			Type:    billingerr.CodeDeadlineExceeded,
			Message: "request timed out",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// validationErrorCode returns the sentinel code for request-shaped failures.
func validationErrorCode(err error) string {
	for _, target := range []error{
		ErrInvalidRequest,
		billingprofiledomain.ErrInvalidProfile,
		billingperioddomain.ErrInvalidPeriod,
		prepaiddomain.ErrInvalidRequest,
		ratecatalogdomain.ErrInvalidRateRecord,
		ratecatalogdomain.ErrInvalidNegotiatedRate,
		ratecatalogdomain.ErrBaseRateCompanyMismatch,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, billingprofiledomain.ErrProfileNotFound),
		errors.Is(err, billingperioddomain.ErrPeriodNotFound),
		errors.Is(err, prepaiddomain.ErrBalanceNotFound),
		errors.Is(err, ratecatalogdomain.ErrRateRecordNotFound),
		errors.Is(err, ratecatalogdomain.ErrNegotiatedRateNotFound),
		errors.Is(err, scheduler.ErrEventNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, billingprofiledomain.ErrProfileExists),
		errors.Is(err, billingprofiledomain.ErrPeriodInFlight),
		errors.Is(err, billingprofiledomain.ErrProfileNotActive),
		errors.Is(err, billingperioddomain.ErrInvalidTransition),
		errors.Is(err, billingperioddomain.ErrEmptyPeriod),
		errors.Is(err, billingperioddomain.ErrSourceAlreadyBilled),
		errors.Is(err, prepaiddomain.ErrBalanceExists),
		errors.Is(err, prepaiddomain.ErrProfileNotPrepaid),
		errors.Is(err, ratecatalogdomain.ErrInvalidTransition),
		errors.Is(err, ratecatalogdomain.ErrNegotiatedRateConflict),
		errors.Is(err, scheduler.ErrBatchInProgress),
		errors.Is(err, guard.ErrNotImmediateProfile),
		errors.Is(err, guard.ErrEventNotCompleted),
		errors.Is(err, guard.ErrEventCustomerMismatch):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	for _, target := range []error{
		billingprofiledomain.ErrProfileExists,
		billingprofiledomain.ErrPeriodInFlight,
		billingprofiledomain.ErrProfileNotActive,
		billingperioddomain.ErrInvalidTransition,
		billingperioddomain.ErrEmptyPeriod,
		billingperioddomain.ErrSourceAlreadyBilled,
		prepaiddomain.ErrBalanceExists,
		prepaiddomain.ErrProfileNotPrepaid,
		ratecatalogdomain.ErrInvalidTransition,
		ratecatalogdomain.ErrNegotiatedRateConflict,
		scheduler.ErrBatchInProgress,
		guard.ErrNotImmediateProfile,
		guard.ErrEventNotCompleted,
		guard.ErrEventCustomerMismatch,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "conflict"
}
