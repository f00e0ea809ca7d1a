package errutil

import "net/http"

type CoreStatus string

const (
	StatusBadRequest          CoreStatus = "bad_request"
	StatusValidationFailed    CoreStatus = "validation_failed"
	StatusUnauthorized        CoreStatus = "unauthorized"
	StatusForbidden           CoreStatus = "forbidden"
	StatusNotFound            CoreStatus = "not_found"
	StatusConflict            CoreStatus = "conflict"
	StatusUnprocessableEntity CoreStatus = "unprocessable_entity"
	StatusTooManyRequests     CoreStatus = "too_many_requests"
	StatusClientClosedRequest CoreStatus = "client_closed_request"
	StatusInternal            CoreStatus = "internal"
	StatusNotImplemented      CoreStatus = "not_implemented"
	StatusBadGateway          CoreStatus = "bad_gateway"
	StatusServiceUnavailable  CoreStatus = "service_unavailable"
	StatusTimeout             CoreStatus = "timeout"
	StatusUnknown             CoreStatus = "unknown"
)

// HTTPStatus maps the CoreStatus to the HTTP status code returned by handlers.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusConflict:
		return http.StatusConflict
	case StatusUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusClientClosedRequest:
		return 499
	case StatusNotImplemented:
		return http.StatusNotImplemented
	case StatusBadGateway:
		return http.StatusBadGateway
	case StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	case StatusTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may resubmit the same request later.
func (s CoreStatus) Retryable() bool {
	switch s {
	case StatusServiceUnavailable, StatusTimeout, StatusTooManyRequests:
		return true
	default:
		return false
	}
}
