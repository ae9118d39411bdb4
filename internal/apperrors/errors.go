package apperrors

// ErrorCode classifies bridge errors for logging and the admin status surface.
type ErrorCode string

const (
	ErrorCodeConfigInvalid      ErrorCode = "CONFIG_INVALID"
	ErrorCodeZoneNotFound       ErrorCode = "ZONE_NOT_FOUND"
	ErrorCodeZoneNotConfigured  ErrorCode = "ZONE_NOT_CONFIGURED"
	ErrorCodeBackendUnreachable ErrorCode = "BACKEND_UNREACHABLE"
	ErrorCodeDispatchFailed     ErrorCode = "DISPATCH_FAILED"
	ErrorCodeUnknownCommand     ErrorCode = "UNKNOWN_COMMAND"
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// AppError is the base error type used across the bridge.
type AppError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

func New(code ErrorCode, message string, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Details: details}
}

func NewConfigInvalid(message string, details map[string]any) *AppError {
	return New(ErrorCodeConfigInvalid, message, details)
}

func NewZoneNotFound(playerID int) *AppError {
	return New(ErrorCodeZoneNotFound, "zone not found", map[string]any{"playerid": playerID})
}

func NewZoneNotConfigured(playerID int, reason string) *AppError {
	return New(ErrorCodeZoneNotConfigured, reason, map[string]any{"playerid": playerID})
}

func NewBackendUnreachable(message string) *AppError {
	return New(ErrorCodeBackendUnreachable, message, nil)
}

func NewDispatchFailed(message string) *AppError {
	return New(ErrorCodeDispatchFailed, message, nil)
}

// CodeOf extracts the error code, defaulting to INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrorCodeInternalError
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
