// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package fault defines the error kinds shared by the registry, the device
// transport and the provisioning tasks.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for lookup misses. Callers decide whether it is fatal.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an object already exists.
	ErrConflict = errors.New("already exists")

	// ErrValidation is returned for malformed configuration or input.
	ErrValidation = errors.New("validation failed")

	// ErrDeviceCommunication is returned when the appliance or the secret store
	// could not be reached or answered with an unexpected error.
	ErrDeviceCommunication = errors.New("device communication failed")
)

// NotFound wraps ErrNotFound with a formatted message
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Conflict wraps ErrConflict with a formatted message
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// Validation wraps ErrValidation with a formatted message
func Validation(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// IsNotFound reports whether err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is or wraps ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
