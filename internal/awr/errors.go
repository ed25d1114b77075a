package awr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// GenericErrorMessage is shown when the server gave no detail.
const GenericErrorMessage = "request failed, please try again later"

// ValidationError is a local rejection raised before any network call.
type ValidationError struct {
	field  string
	reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.field, e.reason)
}

// Field names the rejected input (filename, size).
func (e *ValidationError) Field() string { return e.field }

// Reason is the human-readable rejection.
func (e *ValidationError) Reason() string { return e.reason }

// TransportError means the request never produced an HTTP response.
// It is retryable by user action; the client never retries on its own.
type TransportError struct {
	operation string
	err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.operation, e.err)
}

func (e *TransportError) Unwrap() error { return e.err }

// Operation returns a short description of the failed call.
func (e *TransportError) Operation() string { return e.operation }

// TimeoutError means the call exceeded the configured per-request timeout.
type TimeoutError struct {
	operation string
	after     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.operation, e.after)
}

// Unwrap lets errors.Is(err, context.DeadlineExceeded) match.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Operation returns a short description of the failed call.
func (e *TimeoutError) Operation() string { return e.operation }

// After returns the timeout that elapsed.
func (e *TimeoutError) After() time.Duration { return e.after }

// APIError is a non-2xx response. Its detail is surfaced verbatim.
// Callers should prefer the predicate functions over asserting on this type.
type APIError struct {
	operation    string
	statusCode   int
	code         string
	detail       string
	reportStatus Status
	runID        int64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.operation, e.statusCode, e.Detail())
}

func newAPIError(operation string, statusCode int, code, detail string) *APIError {
	return &APIError{
		operation:  operation,
		statusCode: statusCode,
		code:       code,
		detail:     detail,
	}
}

// StatusCode returns the HTTP status code from the response.
func (e *APIError) StatusCode() int { return e.statusCode }

// Code returns the machine-readable error code, if the server sent one.
func (e *APIError) Code() string { return e.code }

// Detail returns the server's detail string, or GenericErrorMessage.
func (e *APIError) Detail() string {
	if e.detail == "" {
		return GenericErrorMessage
	}
	return e.detail
}

// Operation returns a short description of the API call that failed.
func (e *APIError) Operation() string { return e.operation }

// InvalidStateError means the report's status forbids the operation, for
// example analyzing a report that is not parsed.
type InvalidStateError struct {
	operation string
	reportID  int64
	status    Status
	detail    string
}

func (e *InvalidStateError) Error() string {
	if e.status != "" {
		return fmt.Sprintf("%s: report %d is %s: %s", e.operation, e.reportID, e.status, e.detail)
	}
	return fmt.Sprintf("%s: report %d: %s", e.operation, e.reportID, e.detail)
}

// ReportID returns the report the operation targeted.
func (e *InvalidStateError) ReportID() int64 { return e.reportID }

// Status returns the report status that forbade the operation, if known.
func (e *InvalidStateError) Status() Status { return e.status }

// Detail explains why the operation is not allowed.
func (e *InvalidStateError) Detail() string { return e.detail }

// AnalysisFailedError means the newest diagnostic run of a report ended
// without storing findings. It differs from "no diagnostics yet", which is
// not an error at all.
type AnalysisFailedError struct {
	reportID int64
	runID    int64
	detail   string
}

func (e *AnalysisFailedError) Error() string {
	return fmt.Sprintf("report %d run %d: %s", e.reportID, e.runID, e.detail)
}

// ReportID returns the analyzed report.
func (e *AnalysisFailedError) ReportID() int64 { return e.reportID }

// RunID returns the run that failed.
func (e *AnalysisFailedError) RunID() int64 { return e.runID }

// Detail is the server's description of the failure.
func (e *AnalysisFailedError) Detail() string { return e.detail }

// IsNotFound reports whether err is an API error with HTTP 404 status.
func IsNotFound(err error) bool { return HasStatusCode(err, http.StatusNotFound) }

// HasStatusCode reports whether err is an API error whose HTTP status code matches.
func HasStatusCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.statusCode == code
}

// IsServer reports whether err carries an HTTP error response.
func IsServer(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsValidation reports whether err was raised locally before any network call.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// IsTimeout reports whether err is a per-request timeout.
func IsTimeout(err error) bool {
	var tErr *TimeoutError
	return errors.As(err, &tErr)
}

// IsTransport reports whether err is a transport failure, timeouts included.
func IsTransport(err error) bool {
	var trErr *TransportError
	return errors.As(err, &trErr) || IsTimeout(err)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var isErr *InvalidStateError
	return errors.As(err, &isErr)
}

// IsAnalysisFailed reports whether err is an AnalysisFailedError.
func IsAnalysisFailed(err error) bool {
	var afErr *AnalysisFailedError
	return errors.As(err, &afErr)
}

// UserMessage translates any client-core error into the message shown to a
// user. Timeouts and transport failures read the same to a user; callers that
// decide on retries use the predicates instead.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		vErr   *ValidationError
		isErr  *InvalidStateError
		afErr  *AnalysisFailedError
		apiErr *APIError
	)
	switch {
	case errors.As(err, &vErr):
		return vErr.Reason()
	case errors.As(err, &isErr):
		if isErr.status != "" {
			return fmt.Sprintf("report %d cannot be %s while it is %s", isErr.reportID, verbFor(isErr.operation), isErr.status)
		}
		return isErr.Detail()
	case errors.As(err, &afErr):
		return afErr.Detail()
	case errors.As(err, &apiErr):
		return apiErr.Detail()
	case IsTransport(err):
		return "the server could not be reached, please retry"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return GenericErrorMessage
}

func verbFor(operation string) string {
	switch operation {
	case opTriggerAnalysis:
		return "analyzed"
	case opReparse:
		return "reparsed"
	}
	return "processed"
}
