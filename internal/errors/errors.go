package errors

import (
	"errors"
	"fmt"
)

// Shared error taxonomy for the EasyInventory core. Gateway clients map
// provider-specific failures onto these values so calling code never has to
// branch on a specific backend's wire format.
var (
	// Vault errors
	ErrNotFound = errors.New("entry not found")
	ErrCorrupt  = errors.New("entry failed integrity check")

	// Auth flow errors
	ErrAlreadyInProgress = errors.New("login already in progress")
	ErrInvalidCallback   = errors.New("invalid auth callback")
	ErrExchangeFailed    = errors.New("token exchange failed")
	ErrNotAuthenticated  = errors.New("not authenticated")

	// Gateway errors
	ErrProviderUnavailable = errors.New("no provider configured for operation")
	ErrProviderDegraded    = errors.New("provider temporarily degraded")
	ErrTransient           = errors.New("transient provider failure")
	ErrRejected            = errors.New("request rejected by provider")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
