package chat

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Append stores a new message at the end of its room's history.
// A ClientID the sender already used in the room returns the stored message with created = false;
// the retry is otherwise invisible (no new sequence, no event).
func (svc *Service) Append(ctx context.Context, nm NewMessage) (msg Message, created bool, err error) {
	if err = nm.Validate(svc.validate); err != nil {
		return Message{}, false, err
	}
	if _, err = svc.repo.GetParticipant(ctx, nm.RoomID, nm.SenderID); err != nil {
		return Message{}, false, err
	}

	now := svc.now()
	msg, created, err = svc.repo.AppendMessage(ctx, Message{
		ID:            ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		RoomID:        nm.RoomID,
		SenderID:      nm.SenderID,
		ContentType:   nm.ContentType,
		Body:          nm.Body,
		AttachmentRef: nm.AttachmentRef,
		ClientID:      nm.ClientID,
		CreatedAt:     now,
	})
	if err != nil {
		return Message{}, false, err
	}

	if names, err := svc.userNames(ctx, []string{msg.SenderID}); err == nil {
		msg.SenderName = names[msg.SenderID]
	}
	if created {
		svc.publish(ctx, Event{Type: EventMessageAppended, RoomID: msg.RoomID, Message: &msg})
	}
	return msg, created, nil
}

// Page returns up to limit messages preceding the before sequence (the latest ones if before <= 0),
// ascending by sequence. An empty page is not an error.
func (svc *Service) Page(ctx context.Context, roomID, userID string, before int64, limit int) (Page, error) {
	if _, err := svc.repo.GetParticipant(ctx, roomID, userID); err != nil {
		return Page{}, err
	}

	if limit <= 0 {
		limit = svc.pageSize
	} else if limit > svc.maxPage {
		limit = svc.maxPage
	}
	if before == 1 {
		return Page{Messages: []Message{}}, nil // nothing precedes the first message
	}

	msgs, err := svc.repo.QueryMessages(ctx, roomID, before, limit)
	if err != nil {
		return Page{}, errors.Wrap(err, "querying messages")
	}
	if msgs == nil {
		msgs = []Message{}
	}

	senders := lo.Uniq(lo.Map(msgs, func(m Message, _ int) string { return m.SenderID }))
	names, err := svc.userNames(ctx, senders)
	if err != nil {
		return Page{}, err
	}
	for i := range msgs {
		msgs[i].SenderName = names[msgs[i].SenderID]
	}

	// sequences are gapless from 1, anything older than the first one returned exists
	return Page{Messages: msgs, HasMore: len(msgs) > 0 && msgs[0].Sequence > 1}, nil
}
