// Package doterr defines the typed error taxonomy used across dotgit's
// core packages, so that the CLI can switch on a stable Kind instead of
// matching error strings.
package doterr

import "fmt"

// Kind identifies a category of failure. Kinds are stable across releases
// and map 1:1 to a CLI exit code in cmd/got.
type Kind string

const (
	KindRepositoryNotFound Kind = "repository_not_found"
	KindAlreadyInitialized Kind = "already_initialized"
	KindObjectMissing      Kind = "object_missing"
	KindCorruptObject      Kind = "corrupt_object"
	KindStorageError       Kind = "storage_error"
	KindInvalidHead        Kind = "invalid_head"
	KindLockTimeout        Kind = "lock_timeout"
	KindDirtyWorkspace     Kind = "dirty_workspace"
	KindMergeConflict      Kind = "merge_conflict"
	KindMergeInProgress    Kind = "merge_in_progress"
	KindNoMergeInProgress  Kind = "no_merge_in_progress"
	KindRefNotFound        Kind = "ref_not_found"
	KindRefExists          Kind = "ref_exists"
	KindBranchNotMerged    Kind = "branch_not_merged"
	KindCorruptIndex       Kind = "corrupt_index"
	KindInvalidArgument    Kind = "invalid_argument"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal"
)

// Error is a typed, taggable error. Message is the human-readable summary;
// Detail carries optional structured context (a path, a hash, a ref name).
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Kind == e.Kind
}

func newErr(kind Kind, detail string, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Detail: detail, Err: err}
}

func RepositoryNotFound(path string) *Error {
	return newErr(KindRepositoryNotFound, path, "not a dotgit repository (or any parent up to /)", nil)
}

func AlreadyInitialized(path string) *Error {
	return newErr(KindAlreadyInitialized, path, "repository already exists", nil)
}

func ObjectMissing(hash string) *Error {
	return newErr(KindObjectMissing, hash, "object not found in store", nil)
}

func CorruptObject(hash string, err error) *Error {
	return newErr(KindCorruptObject, hash, "object envelope failed validation", err)
}

func StorageError(detail string, err error) *Error {
	return newErr(KindStorageError, detail, "storage operation failed", err)
}

func InvalidHead(detail string) *Error {
	return newErr(KindInvalidHead, detail, "HEAD does not resolve to a valid reference", nil)
}

func LockTimeout(path string) *Error {
	return newErr(KindLockTimeout, path, "timed out waiting for lock", nil)
}

func DirtyWorkspace(detail string) *Error {
	return newErr(KindDirtyWorkspace, detail, "workspace has uncommitted changes", nil)
}

func MergeConflict(path string) *Error {
	return newErr(KindMergeConflict, path, "merge produced a conflict", nil)
}

func MergeInProgress() *Error {
	return newErr(KindMergeInProgress, "", "a merge is already in progress (MERGE_HEAD exists)", nil)
}

func NoMergeInProgress() *Error {
	return newErr(KindNoMergeInProgress, "", "no merge is in progress", nil)
}

func RefNotFound(name string) *Error {
	return newErr(KindRefNotFound, name, "reference not found", nil)
}

func RefExists(name string) *Error {
	return newErr(KindRefExists, name, "reference already exists", nil)
}

func BranchNotMerged(name string) *Error {
	return newErr(KindBranchNotMerged, name, "branch is not fully merged; use force to delete anyway", nil)
}

func CorruptIndex(detail string, err error) *Error {
	return newErr(KindCorruptIndex, detail, "staging index failed to deserialize", err)
}

func InvalidArgument(detail string) *Error {
	return newErr(KindInvalidArgument, detail, "invalid argument", nil)
}

func NotFound(detail string) *Error {
	return newErr(KindNotFound, detail, "not found", nil)
}

func Internal(err error) *Error {
	return newErr(KindInternal, "", "internal error", err)
}

// ExitCode maps a Kind to a stable process exit code for the CLI.
func ExitCode(k Kind) int {
	switch k {
	case KindRepositoryNotFound:
		return 10
	case KindAlreadyInitialized:
		return 11
	case KindObjectMissing, KindCorruptObject, KindStorageError:
		return 20
	case KindInvalidHead, KindRefNotFound, KindRefExists:
		return 30
	case KindLockTimeout:
		return 40
	case KindDirtyWorkspace:
		return 50
	case KindMergeConflict:
		return 60
	case KindMergeInProgress, KindNoMergeInProgress:
		return 61
	case KindBranchNotMerged:
		return 62
	case KindCorruptIndex:
		return 63
	case KindInvalidArgument, KindNotFound:
		return 2
	default:
		return 1
	}
}

// As extracts a *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var target *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return target, false
}
