package access

import "errors"

// Error is an access engine failure kind with a stable numeric code.
type Error struct {
	Code int
	Name string
}

func (e *Error) Error() string {
	return e.Name
}

// Error kinds. Code 6 is unused: missing orders report NotFound.
var (
	ErrAlreadyInitialized = &Error{Code: 1, Name: "AlreadyInitialized"}
	ErrNotInitialized     = &Error{Code: 2, Name: "NotInitialized"}
	ErrUnauthorized       = &Error{Code: 3, Name: "Unauthorized"}
	ErrNotFound           = &Error{Code: 4, Name: "NotFound"}
	ErrTransferFailed     = &Error{Code: 5, Name: "TransferFailed"}
	ErrAlreadyGranted     = &Error{Code: 7, Name: "AlreadyGranted"}
	ErrInvalidPackage     = &Error{Code: 8, Name: "InvalidPackage"}
	ErrAlreadyRunning     = &Error{Code: 9, Name: "AlreadyRunning"}
	ErrNotRunning         = &Error{Code: 10, Name: "NotRunning"}
	ErrNoBalance          = &Error{Code: 11, Name: "NoBalance"}
	ErrOrderMismatch      = &Error{Code: 12, Name: "OrderMismatch"}
	ErrInvalidTimestamp   = &Error{Code: 13, Name: "InvalidTimestamp"}
	ErrInvalidInvocation  = &Error{Code: 14, Name: "InvalidInvocation"}
)

// Kind returns the access error kind wrapped in err, if any.
func Kind(err error) (*Error, bool) {
	var kind *Error
	if errors.As(err, &kind) {
		return kind, true
	}
	return nil, false
}
