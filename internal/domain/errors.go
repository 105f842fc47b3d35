package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDecryptFailed is returned when a stored token cannot be decrypted.
	// It indicates key rotation or data corruption and is never retryable.
	ErrDecryptFailed = errors.New("decryption failed")

	// ErrIntegrationNotFound is returned when no integration matches the
	// requested company/vendor or an inbound webhook account identifier
	ErrIntegrationNotFound = errors.New("integration not found")

	// ErrIntegrationDisabled is returned when the matched integration exists but is disabled
	ErrIntegrationDisabled = errors.New("integration disabled")

	// ErrDatasetNotFound is returned when a market dataset does not exist or
	// is not owned by the requesting company
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrCompanyNotFound is returned when the requesting company does not exist
	ErrCompanyNotFound = errors.New("company not found")

	// ErrMissionNotFound is returned when a mission does not exist or is not
	// owned by the requesting company
	ErrMissionNotFound = errors.New("mission not found")

	// ErrDuplicateEvent is returned when a webhook event with the same
	// natural key has already been stored
	ErrDuplicateEvent = errors.New("duplicate webhook event")

	// ErrInvalidSignature is returned when a webhook signature does not match
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// ValidationError reports a malformed or schema-violating request payload.
// Details are safe to echo to the caller; raw payloads are not.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Details, "; "))
}

// NewValidationError creates a ValidationError from detail messages
func NewValidationError(details ...string) *ValidationError {
	return &ValidationError{Details: details}
}

// AsValidationError unwraps err into a *ValidationError if possible
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// VendorError wraps a non-2xx response from a marketplace API, carrying the
// parsed vendor message so sync failures stay debuggable without raw bodies
type VendorError struct {
	Vendor     Vendor
	StatusCode int
	Message    string
	// RetryAfter is the vendor-provided wait hint for 429 responses, if any
	RetryAfter time.Duration
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Vendor, e.StatusCode, e.Message)
}

// IsRateLimited reports whether the error is a 429 from the vendor
func (e *VendorError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized reports whether the error is a 401 from the vendor
func (e *VendorError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// AsVendorError unwraps err into a *VendorError if possible
func AsVendorError(err error) (*VendorError, bool) {
	var ve *VendorError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
