package sagas

// Stable error codes surfaced to API callers when a saga fails. They name the
// business rule that broke, so clients can decide whether a retry makes sense.
const (
	CodeHandleInvalid         = "HANDLE_INVALID"
	CodeHandleTaken           = "HANDLE_TAKEN"
	CodeHandleUnchanged       = "HANDLE_UNCHANGED"
	CodeHandleCooldown        = "HANDLE_COOLDOWN"
	CodeChannelNotFound       = "CHANNEL_NOT_FOUND"
	CodeChannelCreationFailed = "CHANNEL_CREATION_FAILED"
	CodeVersionConflict       = "VERSION_CONFLICT"
	CodeOwnerRequired         = "OWNER_REQUIRED"
	CodeRoleInvalid           = "ROLE_INVALID"
	CodeLastOwner             = "LAST_OWNER"
)
