package common

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProviderAvailable is returned when no configured provider has
	// usable credentials and remaining quota for a data type.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrUnsupported is returned by a provider asked for a data type it does not serve.
	ErrUnsupported = errors.New("operation not supported by provider")

	// ErrMalformedResponse marks a provider payload missing expected fields.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// ProviderErrorKind classifies a failed provider call.
type ProviderErrorKind string

const (
	KindTransport ProviderErrorKind = "transport" // network failure or timeout
	KindStatus    ProviderErrorKind = "status"    // non-success HTTP status
	KindMalformed ProviderErrorKind = "malformed" // payload could not be decoded
)

// ProviderError describes a failed call to an external market-data provider.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	Endpoint   string
	// Reached is true when the provider received the request and so counted
	// it against quota, even though the call failed.
	Reached bool
	Err     error
}

func (e *ProviderError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s: %s returned HTTP %d: %v", e.Provider, e.Endpoint, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s: %s %s error: %v", e.Provider, e.Endpoint, e.Kind, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewTransportError wraps a network-level failure. The request did not reach the provider.
func NewTransportError(provider, endpoint string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindTransport, Endpoint: endpoint, Err: err}
}

// NewStatusError wraps a non-success HTTP response.
func NewStatusError(provider, endpoint string, status int, message string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       KindStatus,
		StatusCode: status,
		Endpoint:   endpoint,
		Reached:    true,
		Err:        errors.New(message),
	}
}

// NewMalformedError wraps a payload decoding failure for a request that reached the provider.
func NewMalformedError(provider, endpoint string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     KindMalformed,
		Endpoint: endpoint,
		Reached:  true,
		Err:      fmt.Errorf("%w: %v", ErrMalformedResponse, err),
	}
}

// ReachedProvider reports whether err came from a request the provider received.
// Errors that are not ProviderErrors are assumed not to have reached it.
func ReachedProvider(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reached
	}
	return false
}

// MarkReached flags err as having reached the provider. Multi-request fetches
// use it once an earlier request in the same fetch was received.
func MarkReached(err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		pe.Reached = true
	}
	return err
}
