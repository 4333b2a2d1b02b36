package chat

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-chat/core"
)

type RoomType string

const (
	RoomPrivate RoomType = "private"
	RoomGroup   RoomType = "group"
	RoomClass   RoomType = "class"
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
)

// HasAttachment reports whether messages of this type carry an attachment reference.
func (ct ContentType) HasAttachment() bool {
	return ct == ContentImage || ct == ContentFile
}

type Room struct {
	ID       string   `json:"id"`
	Type     RoomType `json:"type"`
	Name     string   `json:"name"`
	ClassRef string   `json:"class_ref,omitempty"`
	// PrivateKey is the unordered pair key of a private room's two users; empty for other types.
	PrivateKey    string    `json:"-"`
	LastSequence  int64     `json:"last_sequence"`
	LastMessageAt time.Time `json:"-"` // zero until the first message
	CreatedAt     time.Time `json:"created_at"`
}

// ActivityAt is the time a room is ranked by when listing: its last message, else its creation.
func (r Room) ActivityAt() time.Time {
	if r.LastMessageAt.IsZero() {
		return r.CreatedAt
	}
	return r.LastMessageAt
}

type Participant struct {
	RoomID           string    `json:"-"`
	UserID           string    `json:"user_id"`
	Name             string    `json:"name"`
	JoinedAt         time.Time `json:"joined_at"`
	LastReadSequence int64     `json:"last_read_sequence"`
}

type Message struct {
	ID            string      `json:"id"`
	RoomID        string      `json:"room_id"`
	Sequence      int64       `json:"sequence"`
	SenderID      string      `json:"sender_id"`
	SenderName    string      `json:"sender_name"`
	ContentType   ContentType `json:"message_type"`
	Body          string      `json:"content"`
	AttachmentRef string      `json:"file_url,omitempty"`
	ClientID      string      `json:"client_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// RoomSummary is a room as seen by one of its participants.
type RoomSummary struct {
	Room
	DisplayName  string        `json:"display_name"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"last_message"`
	UnreadCount  int64         `json:"unread_count"`
}

type ReadCursor struct {
	RoomID           string `json:"room_id"`
	UserID           string `json:"user_id"`
	LastReadSequence int64  `json:"last_read_sequence"`
	UnreadCount      int64  `json:"unread_count"`
}

// Page is a window of a room's history, ascending by sequence.
type Page struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// NewRoom contains information needed to create a group or class Room.
type NewRoom struct {
	Type      RoomType `json:"type" validate:"required,oneof=private group class"`
	Name      string   `json:"name" validate:"max=200"`
	ClassRef  string   `json:"class_ref" validate:"max=64"`
	UserID    string   `json:"user_id"` // the other user of a private room
	MemberIDs []string `json:"member_ids" validate:"max=500"`
	CreatorID string   `json:"-"`
}

func (nr *NewRoom) Validate(validate *validator.Validate) error {
	nr.Name = core.CleanString(nr.Name)
	nr.ClassRef = core.CleanString(nr.ClassRef)
	nr.UserID = core.CleanString(nr.UserID)
	return validate.Struct(nr)
}

// Peer returns the other user of a private room request.
func (nr *NewRoom) Peer() string {
	if nr.UserID != "" {
		return nr.UserID
	}
	for _, id := range nr.MemberIDs {
		if id = strings.TrimSpace(id); id != "" && id != nr.CreatorID {
			return id
		}
	}
	return ""
}

// NewMessage contains information needed to append a Message to a Room.
type NewMessage struct {
	RoomID        string      `json:"-"`
	SenderID      string      `json:"-"`
	ContentType   ContentType `json:"message_type" validate:"omitempty,oneof=text image file"`
	Body          string      `json:"content" validate:"max=10000"`
	AttachmentRef string      `json:"file_url" validate:"max=2048"`
	ClientID      string      `json:"client_id" validate:"max=64"`
}

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	if nm.ContentType == "" {
		nm.ContentType = ContentText
	}
	nm.AttachmentRef = core.CleanString(nm.AttachmentRef)
	nm.ClientID = core.CleanString(nm.ClientID)
	if nm.ContentType.HasAttachment() {
		nm.Body = core.CleanString(nm.Body)
	}
	return validate.Struct(nm)
}
