package collab

import (
	"errors"
	"regexp"

	"github.com/agentworkforce/relaycollab/internal/ot"
)

var (
	ErrNotebookNotFound = errors.New("notebook not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidRoom      = errors.New("invalid room id")
	ErrInternal         = errors.New("internal error")
	ErrOutboxClosed     = errors.New("outbox closed")
	ErrOutboxOverflow   = errors.New("outbox overflow")
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

func ValidateRoomID(room string) error {
	if !roomIDPattern.MatchString(room) || room == "." || room == ".." {
		return ErrInvalidRoom
	}
	return nil
}

// ErrorCode maps an error to the code carried in error frames and HTTP
// error bodies.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ot.ErrVersionMismatch):
		return "version_mismatch"
	case errors.Is(err, ot.ErrOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, ot.ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrNotebookNotFound):
		return "notebook_not_found"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrInvalidRoom):
		return "invalid_room"
	default:
		return "internal"
	}
}
