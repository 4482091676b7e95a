package workspace

import (
	"fmt"
	"strings"
)

// MissingExternalResourceError reports a required external field whose
// resolved path does not exist at load time. Optional fields never raise it;
// they load to their zero value instead.
type MissingExternalResourceError struct {
	Path  string // resolved path that was expected to exist
	Field string // field identifier that resolved to it
}

// Error implements the error interface.
func (e *MissingExternalResourceError) Error() string {
	return fmt.Sprintf("external resource for field %s missing at %s", e.Field, e.Path)
}

// PathConflictError reports two distinct in-memory identities claiming the
// same resolved path, or an illegal re-entrant state transition on one
// Document (a load cycle through the identity map).
type PathConflictError struct {
	Path  string
	Field string // field identifier when known, empty otherwise
}

// Error implements the error interface.
func (e *PathConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("conflicting document identity at %s", e.Path)
	}
	return fmt.Sprintf("field %s: conflicting document identity at %s", e.Field, e.Path)
}

// PartialWriteError reports a folder save that failed after writing some but
// not all entries. Written lists the entries already on disk; the policy is
// keep-and-report, never rollback, so the caller can decide to clean up or
// simply retry (resolution is deterministic, a retry overwrites in place).
type PartialWriteError struct {
	Dir     string
	Written []string
	Err     error
}

// Error implements the error interface.
func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial folder write at %s (written: %s): %v",
		e.Dir, strings.Join(e.Written, ", "), e.Err)
}

// Unwrap exposes the underlying failure for errors.Is/As.
func (e *PartialWriteError) Unwrap() error { return e.Err }
