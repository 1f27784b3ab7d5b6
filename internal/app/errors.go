package app

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested id has no matching row.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated and ErrForbidden carry the ownership policy outcome;
	// handlers map them to 401 and 403 respectively.
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("not allowed")

	// ErrInvalidCredentials is returned when the supplied credentials do not
	// match. This message is shown to end users and must not enable account
	// enumeration.
	ErrInvalidCredentials = errors.New("incorrect username or password")

	// ErrPermanentlyBanned is a login failure distinct from bad credentials.
	ErrPermanentlyBanned = errors.New("account is permanently banned")

	ErrRegistrationFieldsRequired = errors.New("username, email, and password are required")
	ErrUsernameAlreadyExists      = errors.New("username already exists")
	ErrEmailAlreadyExists         = errors.New("email already exists")

	ErrCurrentPasswordRequired = errors.New("current password is required")
	ErrNewPasswordRequired     = errors.New("new password is required")

	ErrInvalidRole         = errors.New("invalid role name")
	ErrCannotChangeOwnRole = errors.New("cannot change own role")
	ErrCannotBanSelf       = errors.New("cannot ban self")

	ErrTitleRequired     = errors.New("title is required")
	ErrOwnerMismatch     = errors.New("ownerId must match the authenticated user")
	ErrLocationRequired  = errors.New("location or boundary is required")
	ErrInvalidBoundary   = errors.New("boundary must be a polygon with at least three vertices")
	ErrTagNameRequired   = errors.New("tag name is required")
	ErrTagAlreadyExists  = errors.New("tag name already exists")
	ErrObservationGone   = errors.New("referenced observation does not exist")
	ErrConfirmationGone  = errors.New("referenced confirmation does not exist")
	ErrNoFilesInUpload   = errors.New("at least one file is required")
)

// TemporaryBanError is a login failure for an active temporary ban. The
// message names the expiry so the client can show it verbatim.
type TemporaryBanError struct {
	Until time.Time
}

func (e *TemporaryBanError) Error() string {
	return fmt.Sprintf("account is banned until %s", e.Until.UTC().Format(time.RFC3339))
}

// UploadError rejects a whole picture batch, naming the offending file and
// the violated limit.
type UploadError struct {
	Filename string
	Reason   string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("file %q rejected: %s", e.Filename, e.Reason)
}

// IsValidation reports whether the error should surface as a 400.
func IsValidation(err error) bool {
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		return true
	}
	for _, sentinel := range []error{
		ErrRegistrationFieldsRequired,
		ErrCurrentPasswordRequired,
		ErrNewPasswordRequired,
		ErrInvalidRole,
		ErrCannotChangeOwnRole,
		ErrCannotBanSelf,
		ErrTitleRequired,
		ErrOwnerMismatch,
		ErrLocationRequired,
		ErrInvalidBoundary,
		ErrTagNameRequired,
		ErrObservationGone,
		ErrConfirmationGone,
		ErrNoFilesInUpload,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
