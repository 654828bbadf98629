// Package fault defines the error kinds surfaced by the tenant storage layer.
//
// Callers decide between retrying and escalating by kind:
//
//   - ErrProvisioning: the storage unit could not be created or permissioned. Escalate.
//   - ErrIntegrity: a stored document failed to parse or belongs to another user.
//     Handled inside the document store by quarantine; only Peek surfaces it.
//   - ErrWrite: a temp-file write or atomic rename failed. The original data is
//     untouched. Retryable.
//   - ErrErase: destroying a storage unit failed. Retry the whole erase.
//   - ErrInvalidUser: the user id cannot name a storage unit.
package fault

import "errors"

var (
	ErrProvisioning = errors.New("provisioning failed")
	ErrIntegrity    = errors.New("integrity fault")
	ErrWrite        = errors.New("write failed")
	ErrErase        = errors.New("erase failed")
	ErrInvalidUser  = errors.New("invalid user id")
)

// Error carries the kind, the failing operation and the user it concerns.
type Error struct {
	Kind   error
	Op     string
	UserID string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.UserID != "" {
		msg += " (user " + e.UserID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an Error of the given kind.
func New(kind error, op, userID string, err error) *Error {
	return &Error{Kind: kind, Op: op, UserID: userID, Err: err}
}

// Provisioning wraps err as a provisioning failure.
func Provisioning(op, userID string, err error) error {
	return New(ErrProvisioning, op, userID, err)
}

// Integrity wraps err as an integrity fault.
func Integrity(op, userID string, err error) error {
	return New(ErrIntegrity, op, userID, err)
}

// Write wraps err as a retryable write failure.
func Write(op, userID string, err error) error {
	return New(ErrWrite, op, userID, err)
}

// Erase wraps err as an erase failure.
func Erase(op, userID string, err error) error {
	return New(ErrErase, op, userID, err)
}

// InvalidUser reports a user id that cannot be mapped to a storage unit.
func InvalidUser(userID, reason string) error {
	return New(ErrInvalidUser, "validate user", userID, errors.New(reason))
}

// Retryable reports whether the caller may retry the same call unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrWrite)
}

// KindOf returns the kind sentinel of err, or nil if err carries none.
func KindOf(err error) error {
	for _, k := range []error{ErrInvalidUser, ErrProvisioning, ErrIntegrity, ErrWrite, ErrErase} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Describe is a short label for a kind, used in logs and metrics.
func Describe(err error) string {
	switch KindOf(err) {
	case ErrInvalidUser:
		return "invalid_user"
	case ErrProvisioning:
		return "provisioning"
	case ErrIntegrity:
		return "integrity"
	case ErrWrite:
		return "write"
	case ErrErase:
		return "erase"
	}
	if err == nil {
		return "none"
	}
	return "other"
}
