package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/blaue-tonne-service/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryTimeout        ErrorCategory = "timeout"
	ErrorCategoryNetwork        ErrorCategory = "network"
	ErrorCategoryInvalidURL     ErrorCategory = "invalid_url"
	ErrorCategoryInvalidContent ErrorCategory = "invalid_content"
	ErrorCategoryPlanNotFound   ErrorCategory = "plan_not_found"
	ErrorCategoryRateLimited    ErrorCategory = "rate_limited"
	ErrorCategoryCircuitOpen    ErrorCategory = "circuit_open"
	ErrorCategoryUpstream       ErrorCategory = "upstream"
	ErrorCategoryTooLarge       ErrorCategory = "too_large"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// CategorizeError maps a fetch error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrNotPDFURL):
		return ErrorCategoryInvalidURL
	case errors.Is(err, ErrNotPDFContent):
		return ErrorCategoryInvalidContent
	case errors.Is(err, ErrPlanNotFound):
		return ErrorCategoryPlanNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream
	case errors.Is(err, ErrTooLarge):
		return ErrorCategoryTooLarge
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "http request failed") ||
		strings.Contains(errStr, "no such host") {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
