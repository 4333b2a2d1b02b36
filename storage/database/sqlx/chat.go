package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/chat"
)

const (
	roomColumns        = `id, type, name, class_ref, private_key, last_sequence, last_message_at, created_at`
	participantColumns = `room_id, user_id, joined_at, last_read_sequence`
	messageColumns     = `id, room_id, sequence, sender_id, content_type, body, attachment_ref, client_id, created_at`

	// postgres error codes
	uniqueViolation     = pq.ErrorCode("23505")
	foreignKeyViolation = pq.ErrorCode("23503")
)

var errPrivateRoomExists = errors.New("private room exists")

type (
	roomRow struct {
		ID            string      `db:"id"`
		Type          string      `db:"type"`
		Name          null.String `db:"name"`
		ClassRef      null.String `db:"class_ref"`
		PrivateKey    null.String `db:"private_key"`
		LastSequence  int64       `db:"last_sequence"`
		LastMessageAt null.Time   `db:"last_message_at"`
		CreatedAt     time.Time   `db:"created_at"`
	}

	participantRow struct {
		RoomID           string    `db:"room_id"`
		UserID           string    `db:"user_id"`
		JoinedAt         time.Time `db:"joined_at"`
		LastReadSequence int64     `db:"last_read_sequence"`
	}

	messageRow struct {
		ID            string      `db:"id"`
		RoomID        string      `db:"room_id"`
		Sequence      int64       `db:"sequence"`
		SenderID      string      `db:"sender_id"`
		ContentType   string      `db:"content_type"`
		Body          string      `db:"body"`
		AttachmentRef null.String `db:"attachment_ref"`
		ClientID      null.String `db:"client_id"`
		CreatedAt     time.Time   `db:"created_at"`
	}
)

func (row roomRow) toRoom() chat.Room {
	return chat.Room{
		ID:            row.ID,
		Type:          chat.RoomType(row.Type),
		Name:          row.Name.String,
		ClassRef:      row.ClassRef.String,
		PrivateKey:    row.PrivateKey.String,
		LastSequence:  row.LastSequence,
		LastMessageAt: row.LastMessageAt.Time.UTC(),
		CreatedAt:     row.CreatedAt.UTC(),
	}
}

func (row participantRow) toParticipant() chat.Participant {
	return chat.Participant{
		RoomID:           row.RoomID,
		UserID:           row.UserID,
		JoinedAt:         row.JoinedAt.UTC(),
		LastReadSequence: row.LastReadSequence,
	}
}

func (row messageRow) toMessage() chat.Message {
	return chat.Message{
		ID:            row.ID,
		RoomID:        row.RoomID,
		Sequence:      row.Sequence,
		SenderID:      row.SenderID,
		ContentType:   chat.ContentType(row.ContentType),
		Body:          row.Body,
		AttachmentRef: row.AttachmentRef.String,
		ClientID:      row.ClientID.String,
		CreatedAt:     row.CreatedAt.UTC(),
	}
}

type chatRepository struct {
	db core.DB
}

var _ chat.Repository = (*chatRepository)(nil) // interface compliance check

func NewChatRepository(db core.DB) *chatRepository {
	return &chatRepository{db: db}
}

// pqErrorCode returns the postgres error code & constraint of err, if any.
func pqErrorCode(err error) (pq.ErrorCode, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code, pqErr.Constraint
	}
	return "", ""
}

func (repo *chatRepository) insertRoom(ctx context.Context, exec core.DBExecutor, room chat.Room, onConflict string) (chat.Room, error) {
	var row roomRow
	err := exec.GetContext(ctx, &row,
		`INSERT INTO chat_room (id, type, name, class_ref, private_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) `+onConflict+`
		RETURNING `+roomColumns,
		uuid.New().String(), string(room.Type),
		null.NewString(room.Name, room.Name != ""),
		null.NewString(room.ClassRef, room.ClassRef != ""),
		null.NewString(room.PrivateKey, room.PrivateKey != ""),
		room.CreatedAt.UTC(),
	)
	if err != nil {
		if code, constraint := pqErrorCode(err); code == foreignKeyViolation && constraint == "chat_room_class_ref_fkey" {
			return chat.Room{}, errors.Wrapf(chat.ErrUnknownClass, "class %q", room.ClassRef)
		}
		return chat.Room{}, err
	}
	return row.toRoom(), nil
}

func (repo *chatRepository) insertParticipants(ctx context.Context, exec core.DBExecutor, roomID string, participants []chat.Participant) error {
	for _, p := range participants {
		_, err := exec.ExecContext(ctx,
			`INSERT INTO chat_participant (`+participantColumns+`) VALUES ($1, $2, $3, $4)`,
			roomID, p.UserID, p.JoinedAt.UTC(), p.LastReadSequence,
		)
		if err != nil {
			return repo.trapParticipantErr(err, p.UserID)
		}
	}
	return nil
}

func (repo *chatRepository) trapParticipantErr(err error, userID string) error {
	code, constraint := pqErrorCode(err)
	switch {
	case code == uniqueViolation:
		return chat.ErrAlreadyMember
	case code == foreignKeyViolation && constraint == "chat_participant_room_id_fkey":
		return chat.ErrRoomNotFound
	case code == foreignKeyViolation:
		return errors.Wrapf(chat.ErrInvalidMembership, "unknown user %q", userID)
	}
	return errors.Wrap(err, "inserting participant")
}

func (repo *chatRepository) CreateRoom(ctx context.Context, room chat.Room, participants []chat.Participant) (saved chat.Room, err error) {
	err = core.WithTx(ctx, repo.db, func(tx core.DBTransactor) error {
		if saved, err = repo.insertRoom(ctx, tx, room, ""); err != nil {
			return errors.Wrap(err, "inserting room")
		}
		return repo.insertParticipants(ctx, tx, saved.ID, participants)
	})
	return saved, err
}

func (repo *chatRepository) CreatePrivateRoom(ctx context.Context, room chat.Room, participants []chat.Participant) (saved chat.Room, created bool, err error) {
	err = core.WithTx(ctx, repo.db, func(tx core.DBTransactor) error {
		// blocks on a concurrent insert of the same key until it commits or rolls back
		saved, err = repo.insertRoom(ctx, tx, room, `ON CONFLICT (private_key) DO NOTHING`)
		if err == sql.ErrNoRows {
			return errPrivateRoomExists
		} else if err != nil {
			return errors.Wrap(err, "inserting room")
		}
		return repo.insertParticipants(ctx, tx, saved.ID, participants)
	})
	switch {
	case err == nil:
		return saved, true, nil
	case errors.Cause(err) == errPrivateRoomExists:
		saved, err = repo.GetPrivateRoom(ctx, room.PrivateKey)
		return saved, false, err
	}
	return chat.Room{}, false, err
}

func (repo *chatRepository) GetRoom(ctx context.Context, id string) (chat.Room, error) {
	if _, err := uuid.Parse(id); err != nil {
		return chat.Room{}, chat.ErrRoomNotFound
	}
	var row roomRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+roomColumns+` FROM chat_room WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return chat.Room{}, chat.ErrRoomNotFound
		}
		return chat.Room{}, errors.Wrap(err, "selecting room")
	}
	return row.toRoom(), nil
}

func (repo *chatRepository) GetPrivateRoom(ctx context.Context, privateKey string) (chat.Room, error) {
	var row roomRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+roomColumns+` FROM chat_room WHERE private_key = $1`, privateKey); err != nil {
		if err == sql.ErrNoRows {
			return chat.Room{}, chat.ErrRoomNotFound
		}
		return chat.Room{}, errors.Wrap(err, "selecting private room")
	}
	return row.toRoom(), nil
}

func (repo *chatRepository) QueryRoomsForUser(ctx context.Context, userID string) ([]chat.Room, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return []chat.Room{}, nil
	}
	var rows []roomRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT r.id, r.type, r.name, r.class_ref, r.private_key, r.last_sequence, r.last_message_at, r.created_at
		FROM chat_room r
		JOIN chat_participant p ON p.room_id = r.id
		WHERE p.user_id = $1
		ORDER BY COALESCE(r.last_message_at, r.created_at) DESC, r.id`,
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting rooms")
	}
	rooms := make([]chat.Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.toRoom())
	}
	return rooms, nil
}

func (repo *chatRepository) QueryParticipants(ctx context.Context, roomIDs ...string) ([]chat.Participant, error) {
	roomIDs = validUUIDs(roomIDs)
	if len(roomIDs) == 0 {
		return []chat.Participant{}, nil
	}
	var rows []participantRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+participantColumns+` FROM chat_participant
		WHERE room_id = ANY($1::uuid[])
		ORDER BY room_id, joined_at, user_id`,
		pq.Array(roomIDs),
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting participants")
	}
	participants := make([]chat.Participant, 0, len(rows))
	for _, row := range rows {
		participants = append(participants, row.toParticipant())
	}
	return participants, nil
}

func (repo *chatRepository) GetParticipant(ctx context.Context, roomID, userID string) (chat.Participant, error) {
	if len(validUUIDs([]string{roomID, userID})) != 2 {
		return chat.Participant{}, chat.ErrNotAParticipant
	}
	var row participantRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT `+participantColumns+` FROM chat_participant WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return chat.Participant{}, chat.ErrNotAParticipant
		}
		return chat.Participant{}, errors.Wrap(err, "selecting participant")
	}
	return row.toParticipant(), nil
}

func (repo *chatRepository) AddParticipant(ctx context.Context, p chat.Participant) (chat.Participant, error) {
	if err := repo.insertParticipants(ctx, repo.db, p.RoomID, []chat.Participant{p}); err != nil {
		return chat.Participant{}, err
	}
	return p, nil
}

func (repo *chatRepository) AppendMessage(ctx context.Context, msg chat.Message) (saved chat.Message, created bool, err error) {
	if _, pErr := uuid.Parse(msg.RoomID); pErr != nil {
		return chat.Message{}, false, chat.ErrRoomNotFound
	}

	err = core.WithTx(ctx, repo.db, func(tx core.DBTransactor) error {
		// the room row lock is the room's serialization point: sequences follow lock order
		var lastSeq int64
		if err := tx.GetContext(ctx, &lastSeq,
			`SELECT last_sequence FROM chat_room WHERE id = $1 FOR UPDATE`, msg.RoomID); err != nil {
			if err == sql.ErrNoRows {
				return chat.ErrRoomNotFound
			}
			return errors.Wrap(err, "locking room")
		}

		if msg.ClientID != "" {
			var row messageRow
			err := tx.GetContext(ctx, &row,
				`SELECT `+messageColumns+` FROM chat_message WHERE room_id = $1 AND sender_id = $2 AND client_id = $3`,
				msg.RoomID, msg.SenderID, msg.ClientID)
			if err == nil {
				saved = row.toMessage()
				return nil
			} else if err != sql.ErrNoRows {
				return errors.Wrap(err, "selecting message by client id")
			}
		}

		msg.Sequence = lastSeq + 1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_message (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			msg.ID, msg.RoomID, msg.Sequence, msg.SenderID, string(msg.ContentType), msg.Body,
			null.NewString(msg.AttachmentRef, msg.AttachmentRef != ""),
			null.NewString(msg.ClientID, msg.ClientID != ""),
			msg.CreatedAt.UTC(),
		); err != nil {
			return errors.Wrap(err, "inserting message")
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_room SET last_sequence = $2, last_message_at = $3 WHERE id = $1`,
			msg.RoomID, msg.Sequence, msg.CreatedAt.UTC()); err != nil {
			return errors.Wrap(err, "updating room")
		}

		// sending a message reads the room up to it
		res, err := tx.ExecContext(ctx,
			`UPDATE chat_participant SET last_read_sequence = GREATEST(last_read_sequence, $3)
			WHERE room_id = $1 AND user_id = $2`,
			msg.RoomID, msg.SenderID, msg.Sequence)
		if err != nil {
			return errors.Wrap(err, "advancing sender cursor")
		}
		if n, err := res.RowsAffected(); err != nil {
			return errors.Wrap(err, "advancing sender cursor")
		} else if n == 0 {
			return chat.ErrNotAParticipant
		}

		saved, created = msg, true
		return nil
	})
	if err != nil {
		return chat.Message{}, false, err
	}
	return saved, created, nil
}

func (repo *chatRepository) QueryMessages(ctx context.Context, roomID string, before int64, limit int) ([]chat.Message, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return []chat.Message{}, nil
	}
	var rows []messageRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+` FROM chat_message
		WHERE room_id = $1 AND ($2::bigint <= 0 OR sequence < $2::bigint)
		ORDER BY sequence DESC
		LIMIT $3`,
		roomID, before, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting messages")
	}

	// newest first from the index, returned oldest first
	msgs := make([]chat.Message, len(rows))
	for i, row := range rows {
		msgs[len(rows)-1-i] = row.toMessage()
	}
	return msgs, nil
}

func (repo *chatRepository) QueryLastMessages(ctx context.Context, roomIDs ...string) ([]chat.Message, error) {
	roomIDs = validUUIDs(roomIDs)
	if len(roomIDs) == 0 {
		return []chat.Message{}, nil
	}
	var rows []messageRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT m.id, m.room_id, m.sequence, m.sender_id, m.content_type, m.body, m.attachment_ref, m.client_id, m.created_at
		FROM chat_message m
		JOIN chat_room r ON r.id = m.room_id AND m.sequence = r.last_sequence
		WHERE r.id = ANY($1::uuid[])`,
		pq.Array(roomIDs),
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting last messages")
	}
	msgs := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}
	return msgs, nil
}

func (repo *chatRepository) AdvanceReadCursor(ctx context.Context, roomID, userID string, upto *int64) (chat.Participant, int64, error) {
	if len(validUUIDs([]string{roomID, userID})) != 2 {
		return chat.Participant{}, 0, chat.ErrNotAParticipant
	}
	var row struct {
		participantRow
		RoomMax int64 `db:"room_max"`
	}
	// a single statement: concurrent calls serialize on the participant row and GREATEST keeps it monotonic
	err := repo.db.GetContext(ctx, &row,
		`UPDATE chat_participant p
		SET last_read_sequence = GREATEST(p.last_read_sequence, LEAST(COALESCE($3::bigint, r.last_sequence), r.last_sequence))
		FROM chat_room r
		WHERE r.id = p.room_id AND p.room_id = $1 AND p.user_id = $2
		RETURNING p.room_id, p.user_id, p.joined_at, p.last_read_sequence, r.last_sequence AS room_max`,
		roomID, userID, null.Int64FromPtr(upto),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return chat.Participant{}, 0, chat.ErrNotAParticipant
		}
		return chat.Participant{}, 0, errors.Wrap(err, "advancing read cursor")
	}
	return row.toParticipant(), row.RoomMax, nil
}
