package provider

import "errors"

// Sentinel errors for provider operations.
var (
	// ErrRateLimit indicates the provider returned a rate limit response.
	ErrRateLimit = errors.New("provider rate limited")

	// ErrContextLength indicates the request exceeded the model's context window.
	ErrContextLength = errors.New("context length exceeded")

	// ErrProviderDown indicates the provider is temporarily unavailable.
	ErrProviderDown = errors.New("provider unavailable")

	// ErrAuthentication indicates the provider rejected the credentials.
	ErrAuthentication = errors.New("provider authentication failed")

	// ErrBadRequest indicates the provider rejected the request itself.
	// Sending it elsewhere will not help.
	ErrBadRequest = errors.New("provider rejected request")

	// ErrUnsupported indicates the provider cannot serve the capability.
	ErrUnsupported = errors.New("capability not supported by provider")

	// ErrNoProvider indicates no provider instance is registered under a name.
	ErrNoProvider = errors.New("no provider configured")
)

// IsRetryable reports whether the error is transient and the request
// can be retried on another arm or after a delay.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrProviderDown) ||
		errors.Is(err, ErrAuthentication)
}
