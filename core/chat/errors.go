package chat

import "github.com/pkg/errors"

// Callers match these with errors.Cause; details are attached with errors.Wrap.
var (
	ErrInvalidMembership   = errors.New("invalid membership")
	ErrUnknownClass        = errors.New("unknown class")
	ErrNotAParticipant     = errors.New("not a participant of this room")
	ErrMembershipImmutable = errors.New("room membership cannot be changed")
	ErrAlreadyMember       = errors.New("user is already a member of this room")
	ErrRoomNotFound        = errors.New("room not found")
)
