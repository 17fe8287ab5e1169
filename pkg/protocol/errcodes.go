package protocol

// ErrorCode identifies a policy refusal or tool failure in a machine-readable
// way. The set is closed: front-ends and the model-facing result formatter
// switch on these values, so new codes require a protocol bump.
type ErrorCode string

const (
	ErrExternalPathsDisabled           ErrorCode = "external_paths_disabled"
	ErrWorkspaceBoundaryCheckFailed    ErrorCode = "workspace_boundary_check_failed"
	ErrTooLarge                        ErrorCode = "too_large"
	ErrReadRequiresRange               ErrorCode = "read_requires_range"
	ErrReadLimitExceeded               ErrorCode = "read_limit_exceeded"
	ErrWriteOverwriteBlocked           ErrorCode = "write_overwrite_blocked"
	ErrEditOldStringNotFound           ErrorCode = "edit_oldstring_not_found"
	ErrEditOldStringMultipleMatches    ErrorCode = "edit_oldstring_multiple_matches"
	ErrBashRequiresBackgroundOrTimeout ErrorCode = "bash_requires_background_or_timeout"
	ErrUnknownFileID                   ErrorCode = "unknown_file_id"
	ErrUnknownSymbolID                 ErrorCode = "unknown_symbol_id"
	ErrUnknownMatchID                  ErrorCode = "unknown_match_id"
	ErrUnknownLocID                    ErrorCode = "unknown_loc_id"
	ErrTaskRecursionDenied             ErrorCode = "task_recursion_denied"
	ErrMissingModel                    ErrorCode = "missing_model"
)
