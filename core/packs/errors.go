package packs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("not found")
	// ErrInvalidOperation marks requests that must be rejected before any mutation.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInvalidReference marks pack metadata from which no ref can be derived.
	ErrInvalidReference = errors.New("invalid pack reference")
	// ErrPackLocked is returned when another request holds the pack lock.
	ErrPackLocked = errors.New("pack lock held")
)

// InvalidOperationError rejects deregistration of protected packs.
type InvalidOperationError struct {
	Packs []string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("System packs can not be deregistered: %s.", strings.Join(e.Packs, ", "))
}

func (e *InvalidOperationError) Unwrap() error { return ErrInvalidOperation }

func newInvalidOperation(packs []string) *InvalidOperationError {
	out := append([]string(nil), packs...)
	sort.Strings(out)
	return &InvalidOperationError{Packs: out}
}

// InvalidReferenceError carries the pack name that failed ref derivation.
type InvalidReferenceError struct {
	Name string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("Pack name %q contains invalid characters and \"ref\" attribute is not available", e.Name)
}

func (e *InvalidReferenceError) Unwrap() error { return ErrInvalidReference }

// PrimaryDeleteError reports a pack or config-schema record that was found but not removed.
type PrimaryDeleteError struct {
	Kind EntityKind
	Name string
	ID   string
	Err  error
}

func (e *PrimaryDeleteError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to remove %s %s (%s): %v", e.Kind, e.Name, e.ID, e.Err)
	}
	return fmt.Sprintf("failed to remove %s %s: %v", e.Kind, e.Name, e.Err)
}

func (e *PrimaryDeleteError) Unwrap() error { return e.Err }

// RegistrarError reports a fail-fast registrar that aborted bulk registration.
type RegistrarError struct {
	Kind ContentKind
	Err  error
}

func (e *RegistrarError) Error() string {
	return fmt.Sprintf("register %s: %v", e.Kind, e.Err)
}

func (e *RegistrarError) Unwrap() error { return e.Err }
