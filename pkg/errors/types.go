package errors

import (
	"fmt"
	"time"
)

var ErrFileChanged = New("file contents changed during sync")

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// ToolExecutionError represents a failed invocation of the external diff
// tool. Output holds the tool's combined stdout and stderr.
type ToolExecutionError struct {
	Tool   string
	Output string
	Err    error
}

func (err ToolExecutionError) Error() string {
	if err.Output == "" {
		return fmt.Sprintf("%s failed: %s", err.Tool, err.Err)
	}
	return fmt.Sprintf("%s failed: %s: %s", err.Tool, err.Err, err.Output)
}

func (err ToolExecutionError) Unwrap() error {
	return err.Err
}

// PatchApplicationError represents a failed invocation of the external
// patch tool.
type PatchApplicationError struct {
	Tool   string
	Output string
	Err    error
}

func (err PatchApplicationError) Error() string {
	if err.Output == "" {
		return fmt.Sprintf("%s failed: %s", err.Tool, err.Err)
	}
	return fmt.Sprintf("%s failed: %s: %s", err.Tool, err.Err, err.Output)
}

func (err PatchApplicationError) Unwrap() error {
	return err.Err
}

// ToolTimeoutError represents an external tool that ran past its deadline.
// Nothing durable is modified when this is returned.
type ToolTimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (err ToolTimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %s", err.Tool, err.Timeout)
}

// IntegrityError represents a fingerprint mismatch after applying a delta
// or restoring a stored payload. The catalog is left untouched.
type IntegrityError struct {
	Path string
	Want string
	Got  string
}

func (err IntegrityError) Error() string {
	return fmt.Sprintf("fingerprint mismatch for %q: want %s, got %s",
		err.Path, shortFingerprint(err.Want), shortFingerprint(err.Got))
}

// DecompressionError represents a corrupt compressed payload.
type DecompressionError struct {
	Reason string
}

func (err DecompressionError) Error() string {
	return fmt.Sprintf("corrupt compressed payload: %s", err.Reason)
}

// SequenceError represents an attempt to append a delta whose source
// revision is not the current head of the chain.
type SequenceError struct {
	Want string
	Got  string
}

func (err SequenceError) Error() string {
	return fmt.Sprintf("delta chain head is %s, not %s",
		shortFingerprint(err.Want), shortFingerprint(err.Got))
}

// ConcurrentModificationError represents a delta chain that was mutated
// by another process: gaps, forks, or duplicate sequence numbers.
type ConcurrentModificationError struct {
	Path   string
	Reason string
}

func (err ConcurrentModificationError) Error() string {
	return fmt.Sprintf("revision history at %q modified concurrently: %s",
		err.Path, err.Reason)
}

// UnknownAncestorError represents a local ancestor revision that the cloud
// history has no record of.
type UnknownAncestorError struct {
	Fingerprint string
}

func (err UnknownAncestorError) Error() string {
	return fmt.Sprintf("revision %s is not in the cloud history",
		shortFingerprint(err.Fingerprint))
}

// ConflictError represents catalogs that both changed since their last
// common ancestor. Resolution is manual.
type ConflictError struct {
	LocalAncestor string
	CloudAncestor string
	LocalCurrent  string
	CloudCurrent  string
}

func (err ConflictError) Error() string {
	return fmt.Sprintf("local and cloud catalogs diverged (local %s -> %s, cloud %s -> %s)",
		shortFingerprint(err.LocalAncestor), shortFingerprint(err.LocalCurrent),
		shortFingerprint(err.CloudAncestor), shortFingerprint(err.CloudCurrent))
}

func (err ConflictError) FriendlyMessage() string {
	return fmt.Sprintf("The local and cloud catalogs have both changed since "+
		"their last common revision.\n"+
		"  local ancestor:  %s\n"+
		"  cloud ancestor:  %s\n"+
		"  local current:   %s\n"+
		"  cloud current:   %s\n"+
		"catsync does not merge catalog edits. To keep the cloud copy, move "+
		"the local catalog aside and run `catsync init-pull-from-cloud`. To "+
		"keep the local copy, move the cloud catalog and its history aside "+
		"and run `catsync init-push-to-cloud`.",
		shortFingerprint(err.LocalAncestor), shortFingerprint(err.CloudAncestor),
		shortFingerprint(err.LocalCurrent), shortFingerprint(err.CloudCurrent))
}

// IsConflict reports whether err's chain contains a ConflictError.
func IsConflict(err error) bool {
	var conflict ConflictError
	return As(err, &conflict)
}

// AlreadyInitializedError represents an init operation that would overwrite
// an existing catalog or its sync state.
type AlreadyInitializedError struct {
	Path string
}

func (err AlreadyInitializedError) Error() string {
	return fmt.Sprintf("%q already exists", err.Path)
}

func (err AlreadyInitializedError) FriendlyMessage() string {
	return fmt.Sprintf("%q already exists, and catsync never overwrites it "+
		"silently. Move it aside first if you really want to re-initialize.",
		err.Path)
}

// NoCloudCatalogError represents a pull from a cloud path that has no
// catalog.
type NoCloudCatalogError struct {
	Path string
}

func (err NoCloudCatalogError) Error() string {
	return fmt.Sprintf("no cloud catalog at %q", err.Path)
}

func (err NoCloudCatalogError) FriendlyMessage() string {
	return fmt.Sprintf("There is no cloud catalog at %q. Run `catsync "+
		"init-push-to-cloud` on the machine that has the catalog first, or "+
		"check that the cloud drive is mounted.", err.Path)
}

// CatalogLockedError represents a catalog that another catsync process has
// locked.
type CatalogLockedError struct {
	Path  string
	Owner string
	PID   int
}

func (err CatalogLockedError) Error() string {
	return fmt.Sprintf("%q is locked by process %d", err.Path, err.PID)
}

func (err CatalogLockedError) FriendlyMessage() string {
	return fmt.Sprintf("The catalog %q is locked by another catsync process "+
		"(pid %d). Wait for it to finish, or remove the stale lock with "+
		"`--force-unlock` if you are sure it crashed.", err.Path, err.PID)
}

func shortFingerprint(fingerprint string) string {
	if fingerprint == "" {
		return "(none)"
	}
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
