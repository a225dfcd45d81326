package securejoin

import (
	"errors"
	"fmt"
)

// ProtocolError is a failed check of a handshake step. The handshake it
// belongs to cannot continue.
type ProtocolError struct {
	Step   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("secure-join %s: %s", e.Step, e.Reason)
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

var (
	// ErrNotInvitation is returned by Join for codes that are not a
	// secure-join invitation.
	ErrNotInvitation = errors.New("securejoin: not an invitation code")
	// ErrAlreadyJoining is returned by Join while another join with the
	// same contact is running.
	ErrAlreadyJoining = errors.New("securejoin: join already running")
	// ErrNotVerifiedGroup is returned by QR for groups that are not
	// verified.
	ErrNotVerifiedGroup = errors.New("securejoin: group is not verified")
)
