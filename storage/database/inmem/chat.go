package inmemdb

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-chat/core/chat"
)

type (
	chatTables struct {
		mu      sync.RWMutex // guards the maps below; never held while waiting on a room
		rooms   map[string]*roomState
		private map[string]string   // {privateKey: roomID}
		byUser  map[string][]string // {userID: [roomID]}
	}

	roomState struct {
		writeMu   sync.Mutex       // serializes the writers of this room
		clientIDs map[string]int64 // {senderID clientID: sequence}; guarded by writeMu
		snap      atomic.Pointer[roomSnapshot]
	}

	// roomSnapshot is never mutated once published, so readers do not lock.
	// Appends may share the backing arrays of older snapshots, but only past their length.
	roomSnapshot struct {
		room     chat.Room
		members  []*member // by join time
		messages []chat.Message
	}

	member struct {
		userID   string
		joinedAt time.Time
		lastRead atomic.Int64
	}
)

func newChatTables() *chatTables {
	return &chatTables{
		rooms:   make(map[string]*roomState),
		private: make(map[string]string),
		byUser:  make(map[string][]string),
	}
}

func (s *roomSnapshot) member(userID string) (*member, bool) {
	for _, m := range s.members {
		if m.userID == userID {
			return m, true
		}
	}
	return nil, false
}

func (m *member) participant(roomID string) chat.Participant {
	return chat.Participant{
		RoomID:           roomID,
		UserID:           m.userID,
		JoinedAt:         m.joinedAt,
		LastReadSequence: m.lastRead.Load(),
	}
}

// advance moves the read cursor to seq unless it is already there or further.
func (m *member) advance(seq int64) {
	for {
		cur := m.lastRead.Load()
		if seq <= cur || m.lastRead.CompareAndSwap(cur, seq) {
			return
		}
	}
}

type chatRepository struct {
	db *chatTables
}

var _ chat.Repository = (*chatRepository)(nil) // interface compliance check

func NewChatRepository(db *DB) *chatRepository {
	return &chatRepository{db: db.chat}
}

func newRoomState(room chat.Room, participants []chat.Participant) *roomState {
	members := make([]*member, 0, len(participants))
	for _, p := range participants {
		m := &member{userID: p.UserID, joinedAt: p.JoinedAt}
		m.lastRead.Store(p.LastReadSequence)
		members = append(members, m)
	}
	state := &roomState{clientIDs: make(map[string]int64)}
	state.snap.Store(&roomSnapshot{room: room, members: members})
	return state
}

// insert registers a new room; the caller holds db.mu.
func (repo *chatRepository) insert(room chat.Room, participants []chat.Participant) chat.Room {
	room.ID = uuid.New().String()
	repo.db.rooms[room.ID] = newRoomState(room, participants)
	for _, p := range participants {
		repo.db.byUser[p.UserID] = append(repo.db.byUser[p.UserID], room.ID)
	}
	if room.PrivateKey != "" {
		repo.db.private[room.PrivateKey] = room.ID
	}
	return room
}

func (repo *chatRepository) state(roomID string) (*roomState, bool) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	state, ok := repo.db.rooms[roomID]
	return state, ok
}

func (repo *chatRepository) CreateRoom(ctx context.Context, room chat.Room, participants []chat.Participant) (chat.Room, error) {
	if err := ctx.Err(); err != nil {
		return chat.Room{}, err
	}
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	return repo.insert(room, participants), nil
}

func (repo *chatRepository) CreatePrivateRoom(ctx context.Context, room chat.Room, participants []chat.Participant) (chat.Room, bool, error) {
	if err := ctx.Err(); err != nil {
		return chat.Room{}, false, err
	}
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if id, ok := repo.db.private[room.PrivateKey]; ok {
		return repo.db.rooms[id].snap.Load().room, false, nil
	}
	return repo.insert(room, participants), true, nil
}

func (repo *chatRepository) GetRoom(_ context.Context, id string) (chat.Room, error) {
	state, ok := repo.state(id)
	if !ok {
		return chat.Room{}, chat.ErrRoomNotFound
	}
	return state.snap.Load().room, nil
}

func (repo *chatRepository) GetPrivateRoom(_ context.Context, privateKey string) (chat.Room, error) {
	repo.db.mu.RLock()
	id, ok := repo.db.private[privateKey]
	var state *roomState
	if ok {
		state = repo.db.rooms[id]
	}
	repo.db.mu.RUnlock()

	if !ok {
		return chat.Room{}, chat.ErrRoomNotFound
	}
	return state.snap.Load().room, nil
}

func (repo *chatRepository) QueryRoomsForUser(_ context.Context, userID string) ([]chat.Room, error) {
	repo.db.mu.RLock()
	states := make([]*roomState, 0, len(repo.db.byUser[userID]))
	for _, id := range repo.db.byUser[userID] {
		states = append(states, repo.db.rooms[id])
	}
	repo.db.mu.RUnlock()

	rooms := make([]chat.Room, 0, len(states))
	for _, state := range states {
		rooms = append(rooms, state.snap.Load().room)
	}
	chat.SortByActivity(rooms)
	return rooms, nil
}

func (repo *chatRepository) QueryParticipants(_ context.Context, roomIDs ...string) ([]chat.Participant, error) {
	participants := make([]chat.Participant, 0)
	for _, id := range roomIDs {
		state, ok := repo.state(id)
		if !ok {
			continue
		}
		for _, m := range state.snap.Load().members {
			participants = append(participants, m.participant(id))
		}
	}
	return participants, nil
}

func (repo *chatRepository) GetParticipant(_ context.Context, roomID, userID string) (chat.Participant, error) {
	state, ok := repo.state(roomID)
	if !ok {
		return chat.Participant{}, chat.ErrNotAParticipant
	}
	m, ok := state.snap.Load().member(userID)
	if !ok {
		return chat.Participant{}, chat.ErrNotAParticipant
	}
	return m.participant(roomID), nil
}

func (repo *chatRepository) AddParticipant(ctx context.Context, p chat.Participant) (chat.Participant, error) {
	state, ok := repo.state(p.RoomID)
	if !ok {
		return chat.Participant{}, chat.ErrRoomNotFound
	}

	state.writeMu.Lock()
	defer state.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return chat.Participant{}, err
	}

	cur := state.snap.Load()
	if _, exists := cur.member(p.UserID); exists {
		return chat.Participant{}, chat.ErrAlreadyMember
	}
	m := &member{userID: p.UserID, joinedAt: p.JoinedAt}
	m.lastRead.Store(p.LastReadSequence)
	state.snap.Store(&roomSnapshot{
		room:     cur.room,
		members:  append(cur.members, m),
		messages: cur.messages,
	})

	repo.db.mu.Lock()
	repo.db.byUser[p.UserID] = append(repo.db.byUser[p.UserID], p.RoomID)
	repo.db.mu.Unlock()

	return m.participant(p.RoomID), nil
}

func (repo *chatRepository) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, bool, error) {
	state, ok := repo.state(msg.RoomID)
	if !ok {
		return chat.Message{}, false, chat.ErrRoomNotFound
	}

	state.writeMu.Lock()
	defer state.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return chat.Message{}, false, err
	}

	cur := state.snap.Load()
	sender, ok := cur.member(msg.SenderID)
	if !ok {
		return chat.Message{}, false, chat.ErrNotAParticipant
	}
	dedupKey := msg.SenderID + " " + msg.ClientID
	if msg.ClientID != "" {
		if seq, dup := state.clientIDs[dedupKey]; dup {
			return cur.messages[seq-1], false, nil
		}
	}

	msg.Sequence = cur.room.LastSequence + 1
	room := cur.room
	room.LastSequence = msg.Sequence
	room.LastMessageAt = msg.CreatedAt
	state.snap.Store(&roomSnapshot{
		room:     room,
		members:  cur.members,
		messages: append(cur.messages, msg),
	})
	if msg.ClientID != "" {
		state.clientIDs[dedupKey] = msg.Sequence
	}
	sender.advance(msg.Sequence)
	return msg, true, nil
}

func (repo *chatRepository) QueryMessages(_ context.Context, roomID string, before int64, limit int) ([]chat.Message, error) {
	state, ok := repo.state(roomID)
	if !ok {
		return []chat.Message{}, nil
	}
	msgs := state.snap.Load().messages

	// message `seq` is at index seq-1
	end := int64(len(msgs))
	if before > 0 && before-1 < end {
		end = before - 1
	}
	start := end - int64(limit)
	if start < 0 {
		start = 0
	}
	page := make([]chat.Message, end-start)
	copy(page, msgs[start:end])
	return page, nil
}

func (repo *chatRepository) QueryLastMessages(_ context.Context, roomIDs ...string) ([]chat.Message, error) {
	last := make([]chat.Message, 0, len(roomIDs))
	for _, id := range roomIDs {
		state, ok := repo.state(id)
		if !ok {
			continue
		}
		if msgs := state.snap.Load().messages; len(msgs) > 0 {
			last = append(last, msgs[len(msgs)-1])
		}
	}
	return last, nil
}

func (repo *chatRepository) AdvanceReadCursor(ctx context.Context, roomID, userID string, upto *int64) (chat.Participant, int64, error) {
	if err := ctx.Err(); err != nil {
		return chat.Participant{}, 0, err
	}
	state, ok := repo.state(roomID)
	if !ok {
		return chat.Participant{}, 0, chat.ErrNotAParticipant
	}
	snap := state.snap.Load()
	m, ok := snap.member(userID)
	if !ok {
		return chat.Participant{}, 0, chat.ErrNotAParticipant
	}

	roomMax := snap.room.LastSequence
	target := roomMax
	if upto != nil && *upto < target {
		target = *upto
	}
	m.advance(target)
	return m.participant(roomID), roomMax, nil
}
