package transport

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-wearables/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	err.WithMetadata(withRetryable(category, metadata))
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	err.WithMetadata(withRetryable(category, metadata))
	return err
}

// network and read failures are worth retrying; malformed requests are not.
func withRetryable(category goerrors.Category, metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for key, value := range metadata {
		out[key] = value
	}
	if _, ok := out["retryable"]; !ok {
		out["retryable"] = category == goerrors.CategoryExternal
	}
	return out
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadInput
	case goerrors.CategoryAuth:
		return core.ErrorAuthFailed
	case goerrors.CategoryRateLimit:
		return core.ErrorRateLimited
	case goerrors.CategoryExternal:
		return core.ErrorExternalFailure
	default:
		return core.ErrorInternal
	}
}
