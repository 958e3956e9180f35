package errs

const (
	ServerInternalError = 500

	ArgsError                  = 1000
	DuplicateRegistrationError = 1001
	StoreUnavailableError      = 1002
	SessionNotFoundError       = 1003
)

var (
	ErrArgs = NewCodeError(ArgsError, "invalid arguments")
	// ErrDuplicateRegistration is returned when the user already owns a live session.
	ErrDuplicateRegistration = NewCodeError(DuplicateRegistrationError, "duplicate registration")
	ErrStoreUnavailable      = NewCodeError(StoreUnavailableError, "store unavailable")
	ErrSessionNotFound       = NewCodeError(SessionNotFoundError, "session not found")
)
