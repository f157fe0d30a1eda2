package identity

import "errors"

// Error kinds shared by the login flow. Match with errors.Is.
var (
	ErrInvalidToken   = errors.New("invalid_token")
	ErrInvalidRequest = errors.New("invalid_request")
)

// Error carries a description that is safe to show to the end user.
type Error struct {
	Kind        error
	Description string
	Cause       error
}

func (e *Error) Error() string {
	msg := e.Kind.Error() + ": " + e.Description
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// InvalidToken reports a failed verification of an upstream identity.
func InvalidToken(description string, cause error) error {
	return &Error{Kind: ErrInvalidToken, Description: description, Cause: cause}
}

// InvalidRequest reports malformed interaction input.
func InvalidRequest(description string) error {
	return &Error{Kind: ErrInvalidRequest, Description: description}
}

// Describe returns the public description of err, or "" if it has none.
func Describe(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Description
	}
	return ""
}
