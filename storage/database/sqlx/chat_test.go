package sqlxrepos_test

import (
	"context"
	"sync"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/chat"
	"github.com/trezcool/masomo-chat/core/user"
	sqlxrepos "github.com/trezcool/masomo-chat/storage/database/sqlx"
	"github.com/trezcool/masomo-chat/tests"
)

type pgFixture struct {
	svc     *chat.Service
	repo    chat.Repository
	usrRepo user.Repository
	roster  interface {
		chat.Roster
		chat.Enroller
	}
}

func setup(t *testing.T) *pgFixture {
	db := testutil.PrepareDB(t)
	conf := testutil.NewConfig()

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	chat.InitValidators(validate, translator)

	fx := &pgFixture{
		repo:    sqlxrepos.NewChatRepository(db),
		usrRepo: sqlxrepos.NewUserRepository(db),
		roster:  sqlxrepos.NewRosterRepository(db),
	}
	fx.svc = chat.NewService(chat.ServiceDeps{
		Repo:     fx.repo,
		Roster:   fx.roster,
		Users:    user.NewService(fx.usrRepo),
		Validate: validate,
		Logger:   testutil.NewLogger(t, conf),
		Conf:     conf.Chat,
	})
	return fx
}

func (fx *pgFixture) createUsers(t *testing.T, unames ...string) []user.User {
	users := make([]user.User, 0, len(unames))
	for _, uname := range unames {
		users = append(users, testutil.CreateUser(t, fx.usrRepo, "User "+uname, uname, uname+"@test.cd", "", nil, true))
	}
	return users
}

func TestChatRepository_privateRoom(t *testing.T) {
	fx := setup(t)
	users := fx.createUsers(t, "alice", "bob")
	alice, bob := users[0], users[1]

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ids   = make(map[string]int)
		nNew  int
		first = make(chan struct{})
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-first
			a, b := alice.ID, bob.ID
			if i%2 == 1 {
				a, b = b, a
			}
			room, created, err := fx.svc.CreateOrGetPrivateRoom(context.Background(), a, b)
			assert.NoError(t, err)
			mu.Lock()
			ids[room.ID]++
			if created {
				nNew++
			}
			mu.Unlock()
		}(i)
	}
	close(first)
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, nNew)

	// the unique key also holds below the service: a second insert reports the existing room
	key := chat.PairKey(alice.ID, bob.ID)
	existing, err := fx.repo.GetPrivateRoom(context.Background(), key)
	require.NoError(t, err)
	saved, created, err := fx.repo.CreatePrivateRoom(context.Background(),
		chat.Room{Type: chat.RoomPrivate, PrivateKey: key, CreatedAt: existing.CreatedAt},
		[]chat.Participant{{UserID: alice.ID, JoinedAt: existing.CreatedAt}, {UserID: bob.ID, JoinedAt: existing.CreatedAt}},
	)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, saved.ID)
}

func TestChatRepository_appendAndRead(t *testing.T) {
	fx := setup(t)
	users := fx.createUsers(t, "u1", "u2", "u3")
	ctx := context.Background()

	room, err := fx.svc.CreateRoom(ctx, chat.NewRoom{Type: chat.RoomGroup, Name: "G", MemberIDs: []string{users[1].ID}, CreatorID: users[0].ID})
	require.NoError(t, err)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(sender user.User) {
			defer wg.Done()
			_, _, err := fx.svc.Append(ctx, chat.NewMessage{RoomID: room.ID, SenderID: sender.ID, Body: "hi"})
			assert.NoError(t, err)
		}(users[i%2])
	}
	wg.Wait()

	page, err := fx.svc.Page(ctx, room.ID, users[0].ID, 0, n)
	require.NoError(t, err)
	require.Len(t, page.Messages, n)
	for i, msg := range page.Messages {
		assert.EqualValues(t, i+1, msg.Sequence)
	}
	assert.False(t, page.HasMore)

	page, err = fx.svc.Page(ctx, room.ID, users[0].ID, 11, 5)
	require.NoError(t, err)
	require.Len(t, page.Messages, 5)
	assert.EqualValues(t, 6, page.Messages[0].Sequence)
	assert.True(t, page.HasMore)

	// replays are deduplicated by client id
	nm := chat.NewMessage{RoomID: room.ID, SenderID: users[0].ID, Body: "once", ClientID: "c-1"}
	msg, created, err := fx.svc.Append(ctx, nm)
	require.NoError(t, err)
	require.True(t, created)
	replay, created, err := fx.svc.Append(ctx, nm)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, msg.ID, replay.ID)

	// the same client id from another sender is a different message
	theirs, created, err := fx.svc.Append(ctx, chat.NewMessage{RoomID: room.ID, SenderID: users[1].ID, Body: "mine", ClientID: "c-1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, msg.ID, theirs.ID)
	assert.EqualValues(t, n+2, theirs.Sequence)
	assert.Equal(t, users[1].ID, theirs.SenderID)

	upto := int64(10)
	cursor, err := fx.svc.MarkRead(ctx, room.ID, users[1].ID, &upto)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cursor.LastReadSequence, int64(10))

	backwards := int64(3)
	again, err := fx.svc.MarkRead(ctx, room.ID, users[1].ID, &backwards)
	require.NoError(t, err)
	assert.Equal(t, cursor.LastReadSequence, again.LastReadSequence)

	cursor, err = fx.svc.MarkRead(ctx, room.ID, users[1].ID, nil)
	require.NoError(t, err)
	assert.EqualValues(t, n+2, cursor.LastReadSequence)
	assert.Zero(t, cursor.UnreadCount)

	_, err = fx.svc.MarkRead(ctx, room.ID, users[2].ID, nil)
	assert.Equal(t, chat.ErrNotAParticipant, errors.Cause(err))
	_, _, err = fx.svc.Append(ctx, chat.NewMessage{RoomID: room.ID, SenderID: users[2].ID, Body: "hi"})
	assert.Equal(t, chat.ErrNotAParticipant, errors.Cause(err))

	rooms, err := fx.svc.ListRoomsForUser(ctx, users[1].ID)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "mine", rooms[0].LastMessage.Body)
}

func TestChatRepository_members(t *testing.T) {
	fx := setup(t)
	users := fx.createUsers(t, "s1", "s2", "s3", "s4")
	ctx := context.Background()

	for _, u := range users[:3] {
		require.NoError(t, fx.roster.Enroll(ctx, "C101", "Biology", u.ID))
	}
	require.NoError(t, fx.roster.Enroll(ctx, "C101", "Biology", users[0].ID)) // idempotent
	assert.Equal(t, chat.ErrInvalidMembership, errors.Cause(fx.roster.Enroll(ctx, "C101", "Biology", "00000000-0000-0000-0000-000000000000")))

	members, err := fx.roster.MembersOf(ctx, "C101")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{users[0].ID, users[1].ID, users[2].ID}, members)
	_, err = fx.roster.MembersOf(ctx, "C999")
	assert.Equal(t, chat.ErrUnknownClass, errors.Cause(err))

	class, err := fx.svc.CreateRoom(ctx, chat.NewRoom{Type: chat.RoomClass, Name: "Biology", ClassRef: "C101", CreatorID: users[0].ID})
	require.NoError(t, err)
	assert.Len(t, class.Participants, 3)
	_, err = fx.svc.AddGroupMember(ctx, class.ID, users[0].ID, users[3].ID)
	assert.Equal(t, chat.ErrMembershipImmutable, errors.Cause(err))

	group, err := fx.svc.CreateRoom(ctx, chat.NewRoom{Type: chat.RoomGroup, Name: "G", MemberIDs: []string{users[1].ID}, CreatorID: users[0].ID})
	require.NoError(t, err)
	participants, err := fx.svc.AddGroupMember(ctx, group.ID, users[0].ID, users[3].ID)
	require.NoError(t, err)
	assert.Len(t, participants, 3)
	_, err = fx.svc.AddGroupMember(ctx, group.ID, users[0].ID, users[3].ID)
	assert.Equal(t, chat.ErrAlreadyMember, errors.Cause(err))

	_, err = fx.repo.GetRoom(ctx, "lol")
	assert.Equal(t, chat.ErrRoomNotFound, errors.Cause(err))
}
