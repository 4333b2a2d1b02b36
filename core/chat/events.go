package chat

import (
	"context"
	"time"
)

type EventType string

const (
	EventRoomCreated     EventType = "room.created"
	EventMemberAdded     EventType = "member.added"
	EventMessageAppended EventType = "message.appended"
	EventCursorAdvanced  EventType = "cursor.advanced"
)

// Event describes a committed change to a room.
type Event struct {
	Type        EventType    `json:"type"`
	RoomID      string       `json:"room_id"`
	Room        *Room        `json:"room,omitempty"`
	Message     *Message     `json:"message,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
	Cursor      *ReadCursor  `json:"cursor,omitempty"`
	At          time.Time    `json:"at"`
}

// Publisher fans room events out to real-time subscribers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
