package chat

import (
	"context"

	"github.com/trezcool/masomo-chat/core"
)

// MarkRead advances userID's read cursor in roomID up to the upto sequence, or to the latest message if upto is nil.
// Cursors never move backwards, and never past the room's latest message.
func (svc *Service) MarkRead(ctx context.Context, roomID, userID string, upto *int64) (ReadCursor, error) {
	if upto != nil && *upto < 0 {
		return ReadCursor{}, core.NewFieldError("upto_sequence", "must be a positive sequence")
	}

	p, roomMax, err := svc.repo.AdvanceReadCursor(ctx, roomID, userID, upto)
	if err != nil {
		return ReadCursor{}, err
	}
	cursor := ReadCursor{
		RoomID:           roomID,
		UserID:           userID,
		LastReadSequence: p.LastReadSequence,
		UnreadCount:      unread(roomMax, p.LastReadSequence),
	}
	svc.publish(ctx, Event{Type: EventCursorAdvanced, RoomID: roomID, Cursor: &cursor})
	return cursor, nil
}

// UnreadCount returns how many messages of roomID are past userID's read cursor.
func (svc *Service) UnreadCount(ctx context.Context, roomID, userID string) (int64, error) {
	p, err := svc.repo.GetParticipant(ctx, roomID, userID)
	if err != nil {
		return 0, err
	}
	room, err := svc.repo.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return unread(room.LastSequence, p.LastReadSequence), nil
}
