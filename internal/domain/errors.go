package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared across subsystems.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrDisabled         = fmt.Errorf("disabled")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Subsystem sentinel errors.
var (
	// Store (C1).
	ErrStoreUnavailable = fmt.Errorf("store unavailable")
	ErrStoreCorrupt     = fmt.Errorf("store row unparseable")
	ErrStoreBusy        = fmt.Errorf("store busy")
	ErrMigration        = fmt.Errorf("schema migration failed")
	ErrArchivePinned    = fmt.Errorf("cannot archive pinned entry")

	// Embedder (C2).
	ErrEmbeddingFailed = fmt.Errorf("embedding generation failed")
	ErrModelLoad       = fmt.Errorf("embedding model load failed")

	// Ranker (C3).
	ErrVectorSearch = fmt.Errorf("vector search failed")
	ErrLexicalQuery = fmt.Errorf("lexical query failed")

	// Maintenance (C4).
	ErrMaintenanceFailed = fmt.Errorf("maintenance pass failed")

	// Patterns (C5).
	ErrPatternNotFound = fmt.Errorf("pattern not found")

	// Transcript scanner (C6).
	ErrTranscriptRead   = fmt.Errorf("transcript read failed")
	ErrCursorCorrupt    = fmt.Errorf("transcript cursor corrupt")
	ErrTranscriptSource = fmt.Errorf("transcript source missing")

	// Replicator (C7).
	ErrReplicationPush  = fmt.Errorf("replication push failed")
	ErrReplicationPull  = fmt.Errorf("replication pull failed")
	ErrObjectStore      = fmt.Errorf("object store operation failed")
	ErrOptimisticUpdate = fmt.Errorf("object store version conflict")

	// Config / ambient.
	ErrConfigLoad = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op        string // operation name, e.g. "Store.Insert"
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier, used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrStoreBusy) || errors.Is(err, ErrTimeout)
}

// IsFatalForSave reports whether err must be surfaced to an explicit save() caller
// rather than swallowed the way pull/transcript-scan failures are (§7).
func IsFatalForSave(err error) bool {
	return err != nil
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown ErrorCode = "UNKNOWN"

	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"

	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	CodeStoreCorrupt     ErrorCode = "STORE_CORRUPT"
	CodeStoreBusy        ErrorCode = "STORE_BUSY"
	CodeMigration        ErrorCode = "MIGRATION_FAILED"
	CodeArchivePinned    ErrorCode = "ARCHIVE_PINNED_REJECTED"

	CodeEmbeddingFailed ErrorCode = "EMBEDDING_FAILED"
	CodeModelLoad       ErrorCode = "MODEL_LOAD_FAILED"

	CodeVectorSearch ErrorCode = "VECTOR_SEARCH"
	CodeLexicalQuery ErrorCode = "LEXICAL_QUERY"

	CodeMaintenanceFailed ErrorCode = "MAINTENANCE_FAILED"
	CodePatternNotFound   ErrorCode = "PATTERN_NOT_FOUND"

	CodeTranscriptRead   ErrorCode = "TRANSCRIPT_READ"
	CodeCursorCorrupt    ErrorCode = "CURSOR_CORRUPT"
	CodeTranscriptSource ErrorCode = "TRANSCRIPT_SOURCE_MISSING"

	CodeReplicationPush  ErrorCode = "REPLICATION_PUSH"
	CodeReplicationPull  ErrorCode = "REPLICATION_PULL"
	CodeObjectStore      ErrorCode = "OBJECT_STORE"
	CodeOptimisticUpdate ErrorCode = "OPTIMISTIC_UPDATE_CONFLICT"

	CodeConfigLoad ErrorCode = "CONFIG_LOAD"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrDisabled:         CodeDisabled,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,

	ErrStoreUnavailable: CodeStoreUnavailable,
	ErrStoreCorrupt:     CodeStoreCorrupt,
	ErrStoreBusy:        CodeStoreBusy,
	ErrMigration:        CodeMigration,
	ErrArchivePinned:    CodeArchivePinned,

	ErrEmbeddingFailed: CodeEmbeddingFailed,
	ErrModelLoad:       CodeModelLoad,

	ErrVectorSearch: CodeVectorSearch,
	ErrLexicalQuery: CodeLexicalQuery,

	ErrMaintenanceFailed: CodeMaintenanceFailed,
	ErrPatternNotFound:   CodePatternNotFound,

	ErrTranscriptRead:   CodeTranscriptRead,
	ErrCursorCorrupt:    CodeCursorCorrupt,
	ErrTranscriptSource: CodeTranscriptSource,

	ErrReplicationPush:  CodeReplicationPush,
	ErrReplicationPull:  CodeReplicationPull,
	ErrObjectStore:      CodeObjectStore,
	ErrOptimisticUpdate: CodeOptimisticUpdate,

	ErrConfigLoad: CodeConfigLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
