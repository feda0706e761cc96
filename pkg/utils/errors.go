package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrTransientFetch   = errors.New("transient fetch failure")           // One failed attempt; eligible for retry
	ErrPermanentFetch   = errors.New("fetch failed permanently")          // Retry budget exhausted or non-retryable
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")           // Wraps original error/status
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")           // Wraps original error/status
	ErrParsing          = errors.New("parsing error")                     // Wraps specific parsing error (HTML, URL, YAML)
	ErrFilesystem       = errors.New("filesystem error")                  // Wraps os errors
	ErrDatabase         = errors.New("database error")                    // Wraps badger errors
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")       // Global request cap not acquired
	ErrRequestCreation  = errors.New("failed to create HTTP request")     // Malformed URL and similar
	ErrResponseBodyRead = errors.New("failed to read response body")      // Body read interrupted
	ErrConfigValidation = errors.New("configuration validation error")    // Fatal, reported before any fetch
	ErrSeedAfterStart   = errors.New("frontier already started leveling") // Seed called outside Idle
)

// WrapErrorf prefixes err with a formatted message. A nil err stays nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrPermanentFetch):
		if errors.Is(err, ErrRequestCreation) {
			return "Permanent_RequestCreation"
		}
		if errors.Is(err, ErrParsing) {
			return "Permanent_ParsingHTML"
		}
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "RetryFailed_HTTPClient"
		}
		if errors.Is(err, ErrResponseBodyRead) {
			return "RetryFailed_BodyRead"
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "RetryFailed_NetworkTimeout"
		}
		lowerErrMsg := strings.ToLower(err.Error())
		if strings.Contains(lowerErrMsg, "timeout") || strings.Contains(lowerErrMsg, "deadline exceeded") {
			return "RetryFailed_NetworkTimeout"
		}
		if strings.Contains(lowerErrMsg, "connection refused") {
			return "RetryFailed_ConnectionRefused"
		}
		if strings.Contains(lowerErrMsg, "no such host") {
			return "RetryFailed_DNSLookup"
		}
		return "RetryFailed_NetworkOther"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 429") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "YAML") {
			return "Content_ParsingYAML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrSeedAfterStart):
		return "Internal_FrontierState"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
