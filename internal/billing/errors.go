package billing

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is by the HTTP layer.
var (
	ErrConfiguration    = errors.New("billing configuration error")
	ErrInvalidRequest   = errors.New("invalid billing request")
	ErrUpstream         = errors.New("billing provider rejected the call")
	ErrSdkLoad          = errors.New("payment sdk failed to load")
	ErrProviderCallback = errors.New("payment sdk reported an error")
)

// ConfigurationError reports missing or invalid static setup, such as a plan
// without a price for the requested cadence.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Msg }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// MissingCredentialsError is returned before any network call when the
// client id or secret for an environment is absent.
type MissingCredentialsError struct {
	Provider    Provider
	Environment Environment
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("configuration: missing %s client credentials for %s", e.Provider, e.Environment)
}

func (e *MissingCredentialsError) Is(target error) bool { return target == ErrConfiguration }

// InvalidRequestError reports malformed caller input.
type InvalidRequestError struct {
	Field string
	Msg   string
}

func (e *InvalidRequestError) Error() string { return e.Msg }

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

// UpstreamAuthError reports a failed credential exchange. Status is zero when
// the provider could not be reached at all.
type UpstreamAuthError struct {
	Provider Provider
	Status   int
	Body     string
	Err      error
}

func (e *UpstreamAuthError) Error() string {
	if e.Status == 0 && e.Err != nil {
		return fmt.Sprintf("%s token exchange failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s token exchange failed: status %d: %s", e.Provider, e.Status, e.Body)
}

func (e *UpstreamAuthError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamAuthError) Unwrap() error { return e.Err }

// UpstreamBillingError reports a provider rejecting a billing call.
type UpstreamBillingError struct {
	Provider Provider
	Status   int
	Message  string
	Err      error
}

func (e *UpstreamBillingError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

func (e *UpstreamBillingError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamBillingError) Unwrap() error { return e.Err }

// SdkLoadError reports that the provider's client script did not load.
type SdkLoadError struct {
	Src string
	Err error
}

func (e *SdkLoadError) Error() string {
	if e.Err == nil {
		return "sdk load " + e.Src + ": global handle missing after load"
	}
	return fmt.Sprintf("sdk load %s: %v", e.Src, e.Err)
}

func (e *SdkLoadError) Is(target error) bool { return target == ErrSdkLoad }

func (e *SdkLoadError) Unwrap() error { return e.Err }

// ProviderCallbackError wraps an error raised by the client SDK while
// rendering a button or during approval.
type ProviderCallbackError struct {
	Err error
}

func (e *ProviderCallbackError) Error() string { return "provider callback: " + e.Err.Error() }

func (e *ProviderCallbackError) Is(target error) bool { return target == ErrProviderCallback }

func (e *ProviderCallbackError) Unwrap() error { return e.Err }
