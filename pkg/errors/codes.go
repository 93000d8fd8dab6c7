package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Recoverable     bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrParseError: {
		Code:            ErrParseError,
		Recoverable:     true,
		Description:     "A field or row could not be parsed and was skipped",
		SuggestedAction: "Fix the cell in the source sheet and re-run the import",
	},
	ErrResolutionMiss: {
		Code:            ErrResolutionMiss,
		Recoverable:     true,
		Description:     "A name did not resolve to a known entity; the dependent fact was skipped",
		SuggestedAction: "Check the not-found list, add a name correction or create the entity, then re-run",
	},
	ErrRegionNotFound: {
		Code:            ErrRegionNotFound,
		Recoverable:     true,
		Description:     "No header row matched the dataset signatures; the source was skipped",
		SuggestedAction: "Inspect the sheet layout: dealbook datasets --name <dataset>",
	},
	ErrPersistenceConflict: {
		Code:            ErrPersistenceConflict,
		Recoverable:     true,
		Description:     "A uniqueness violation occurred and the lookup was retried",
		SuggestedAction: "No action needed unless the retry also failed",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Recoverable:     false,
		Description:     "Run cancelled by user or system",
		SuggestedAction: "Re-run the same import; committed rows are idempotent",
	},
	ErrFatal: {
		Code:            ErrFatal,
		Recoverable:     false,
		Description:     "Unrecoverable error (lost connection or unexpected failure)",
		SuggestedAction: "Check database connectivity: dealbook db status, then re-run the import",
	},
}

// IsRecoverable returns true if the given error code is recovered inside a run.
func IsRecoverable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Recoverable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check logs for more details"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
