package core

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput           = "WEARABLES_BAD_INPUT"
	ErrorAuthFailed         = "WEARABLES_AUTH_FAILED"
	ErrorNotAuthenticated   = "WEARABLES_NOT_AUTHENTICATED"
	ErrorTokenExpired       = "WEARABLES_TOKEN_EXPIRED"
	ErrorInsufficientScope  = "WEARABLES_INSUFFICIENT_SCOPE"
	ErrorDecryptionFailed   = "WEARABLES_DECRYPTION_FAILED"
	ErrorNotFound           = "WEARABLES_NOT_FOUND"
	ErrorProviderNotFound   = "WEARABLES_PROVIDER_NOT_FOUND"
	ErrorRateLimited        = "WEARABLES_RATE_LIMITED"
	ErrorCircuitOpen        = "WEARABLES_CIRCUIT_OPEN"
	ErrorConfiguration      = "WEARABLES_CONFIGURATION"
	ErrorExternalFailure    = "WEARABLES_EXTERNAL_FAILURE"
	ErrorUnsupported        = "WEARABLES_UNSUPPORTED"
	ErrorOAuthStateInvalid  = "WEARABLES_OAUTH_STATE_INVALID"
	ErrorInternal           = "WEARABLES_INTERNAL_ERROR"
	metadataKeyProvider     = "provider"
	metadataKeyRetryable    = "retryable"
	metadataKeyRetryAfter   = "retry_after_secs"
	metadataKeyStatusCode   = "status_code"
	metadataKeyResourceType = "resource_type"
	metadataKeyResourceID   = "resource_id"
)

// NewAuthFailedError reports rejected credentials or a failed token exchange.
func NewAuthFailedError(provider string, message string) *goerrors.Error {
	return newWearablesError(message, goerrors.CategoryAuth, ErrorAuthFailed, map[string]any{
		metadataKeyProvider:  provider,
		metadataKeyRetryable: false,
	})
}

// NewNotAuthenticatedError is returned when an adapter is called without credentials.
func NewNotAuthenticatedError(provider string) *goerrors.Error {
	return newWearablesError(
		fmt.Sprintf("%s: not authenticated", displayProvider(provider)),
		goerrors.CategoryAuth,
		ErrorNotAuthenticated,
		map[string]any{metadataKeyProvider: provider, metadataKeyRetryable: false},
	)
}

func NewTokenExpiredError(provider string) *goerrors.Error {
	return newWearablesError(
		fmt.Sprintf("%s: access token expired", displayProvider(provider)),
		goerrors.CategoryAuth,
		ErrorTokenExpired,
		map[string]any{metadataKeyProvider: provider, metadataKeyRetryable: false},
	)
}

func NewInsufficientScopeError(provider string, message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("%s: insufficient scope", displayProvider(provider))
	}
	return newWearablesError(message, goerrors.CategoryAuthz, ErrorInsufficientScope, map[string]any{
		metadataKeyProvider:  provider,
		metadataKeyRetryable: false,
	})
}

// NewDecryptionFailedError never carries key, plaintext or ciphertext material.
func NewDecryptionFailedError(message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "credential decryption failed"
	}
	return newWearablesError(message, goerrors.CategoryAuth, ErrorDecryptionFailed, map[string]any{
		metadataKeyRetryable: false,
	})
}

func NewNotFoundError(provider string, resourceType string, resourceID string) *goerrors.Error {
	return newWearablesError(
		fmt.Sprintf("%s: %s %q not found", displayProvider(provider), resourceType, resourceID),
		goerrors.CategoryNotFound,
		ErrorNotFound,
		map[string]any{
			metadataKeyProvider:     provider,
			metadataKeyResourceType: resourceType,
			metadataKeyResourceID:   resourceID,
			metadataKeyRetryable:    false,
		},
	)
}

func NewProviderNotFoundError(provider string) *goerrors.Error {
	return newWearablesError(
		fmt.Sprintf("unsupported provider: %s", provider),
		goerrors.CategoryNotFound,
		ErrorProviderNotFound,
		map[string]any{metadataKeyProvider: provider, metadataKeyRetryable: false},
	)
}

// NewRateLimitedError carries the upstream retry hint in whole seconds.
func NewRateLimitedError(provider string, retryAfter time.Duration) *goerrors.Error {
	return newWearablesError(
		fmt.Sprintf("%s: rate limited, retry after %s", displayProvider(provider), retryAfter.Round(time.Second)),
		goerrors.CategoryRateLimit,
		ErrorRateLimited,
		map[string]any{
			metadataKeyProvider:   provider,
			metadataKeyRetryable:  true,
			metadataKeyRetryAfter: durationSeconds(retryAfter),
		},
	)
}

func NewCircuitOpenError(provider string, retryAfter time.Duration) *goerrors.Error {
	return newWearablesError(
		fmt.Sprintf("%s: circuit open, retry after %s", displayProvider(provider), retryAfter.Round(time.Second)),
		goerrors.CategoryExternal,
		ErrorCircuitOpen,
		map[string]any{
			metadataKeyProvider:   provider,
			metadataKeyRetryable:  true,
			metadataKeyRetryAfter: durationSeconds(retryAfter),
		},
	).WithCode(http.StatusServiceUnavailable)
}

func NewConfigurationError(message string) *goerrors.Error {
	return newWearablesError(message, goerrors.CategoryOperation, ErrorConfiguration, map[string]any{
		metadataKeyRetryable: false,
	})
}

// NewExternalError wraps an upstream failure; statusCode may be zero for transport errors.
func NewExternalError(provider string, statusCode int, message string, retryable bool) *goerrors.Error {
	metadata := map[string]any{
		metadataKeyProvider:  provider,
		metadataKeyRetryable: retryable,
	}
	if statusCode > 0 {
		metadata[metadataKeyStatusCode] = statusCode
	}
	return newWearablesError(message, goerrors.CategoryExternal, ErrorExternalFailure, metadata).
		WithCode(http.StatusBadGateway)
}

func NewUnsupportedError(provider string, capability string) *goerrors.Error {
	return newWearablesError(
		fmt.Sprintf("%s: %s not supported", displayProvider(provider), capability),
		goerrors.CategoryOperation,
		ErrorUnsupported,
		map[string]any{metadataKeyProvider: provider, metadataKeyRetryable: false},
	).WithCode(http.StatusNotImplemented)
}

func NewBadInputError(message string) *goerrors.Error {
	return newWearablesError(message, goerrors.CategoryBadInput, ErrorBadInput, map[string]any{
		metadataKeyRetryable: false,
	})
}

func NewInternalError(err error, message string) *goerrors.Error {
	if err == nil {
		return newWearablesError(message, goerrors.CategoryInternal, ErrorInternal, nil)
	}
	return ensureWearablesErrorEnvelope(
		goerrors.Wrap(err, goerrors.CategoryInternal, message).
			WithTextCode(ErrorInternal),
	)
}

// IsRetryable reports whether a caller may retry the failed operation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	if value, ok := richErr.Metadata[metadataKeyRetryable]; ok {
		if retryable, ok := value.(bool); ok {
			return retryable
		}
	}
	switch richErr.Category {
	case goerrors.CategoryRateLimit:
		return true
	case goerrors.CategoryExternal:
		return richErr.Code >= http.StatusInternalServerError
	default:
		return false
	}
}

// RetryAfter returns the retry hint attached to rate-limit and circuit-open errors.
func RetryAfter(err error) (time.Duration, bool) {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return 0, false
	}
	value, ok := richErr.Metadata[metadataKeyRetryAfter]
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case int64:
		return time.Duration(typed) * time.Second, true
	case int:
		return time.Duration(typed) * time.Second, true
	case float64:
		return time.Duration(typed * float64(time.Second)), true
	case string:
		seconds, parseErr := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if parseErr != nil {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	default:
		return 0, false
	}
}

func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

func IsNotFound(err error) bool {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryNotFound
}

// MapError normalizes arbitrary errors into the wearables error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureWearablesErrorEnvelope(richErr)
	}
	if errors.Is(err, ErrProviderNotFound) {
		return newWearablesError(err.Error(), goerrors.CategoryNotFound, ErrorProviderNotFound, nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "unsupported provider"), strings.Contains(msg, "provider") && strings.Contains(msg, "not registered"):
		return newWearablesError(err.Error(), goerrors.CategoryNotFound, ErrorProviderNotFound, nil)
	case strings.Contains(msg, "oauth state"):
		return newWearablesError(err.Error(), goerrors.CategoryAuth, ErrorOAuthStateInvalid, nil)
	case strings.Contains(msg, "not authenticated"):
		return newWearablesError(err.Error(), goerrors.CategoryAuth, ErrorNotAuthenticated, nil)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newWearablesError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited, map[string]any{
			metadataKeyRetryable: true,
		})
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newWearablesError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput, nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureWearablesErrorEnvelope(mapped)
}

func newWearablesError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).WithTextCode(textCode)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return ensureWearablesErrorEnvelope(err)
}

func ensureWearablesErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = wearablesHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultWearablesTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultWearablesTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorAuthFailed
	case goerrors.CategoryAuthz:
		return ErrorInsufficientScope
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorExternalFailure
	case goerrors.CategoryOperation:
		return ErrorConfiguration
	default:
		return ErrorInternal
	}
}

func wearablesHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func durationSeconds(value time.Duration) int64 {
	if value <= 0 {
		return 0
	}
	return int64(math.Ceil(value.Seconds()))
}

func displayProvider(provider string) string {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "provider"
	}
	return provider
}
