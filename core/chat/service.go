package chat

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/user"
)

const (
	defaultPageSize    = 50
	defaultMaxPageSize = 200
	publishTimeout     = 2 * time.Second
)

type (
	Repository interface {
		// CreateRoom persists the room and its participants atomically. The room ID is assigned by the repository.
		CreateRoom(ctx context.Context, room Room, participants []Participant) (Room, error)
		// CreatePrivateRoom is CreateRoom for private rooms keyed by room.PrivateKey.
		// If a room already holds that key, it is returned instead with created = false.
		CreatePrivateRoom(ctx context.Context, room Room, participants []Participant) (saved Room, created bool, err error)
		GetRoom(ctx context.Context, id string) (Room, error)
		GetPrivateRoom(ctx context.Context, privateKey string) (Room, error)
		QueryRoomsForUser(ctx context.Context, userID string) ([]Room, error)

		// QueryParticipants returns the participants of the given rooms, by join time.
		QueryParticipants(ctx context.Context, roomIDs ...string) ([]Participant, error)
		// GetParticipant returns ErrNotAParticipant if userID is not a participant of roomID.
		GetParticipant(ctx context.Context, roomID, userID string) (Participant, error)
		// AddParticipant returns ErrAlreadyMember if the participant already exists.
		AddParticipant(ctx context.Context, p Participant) (Participant, error)

		// AppendMessage assigns msg the next sequence of its room, stores it, updates the room's last message
		// and advances the sender's read cursor to it, atomically.
		// A msg.ClientID already used by the same sender in the room returns the stored message with created = false.
		AppendMessage(ctx context.Context, msg Message) (saved Message, created bool, err error)
		// QueryMessages returns up to limit messages with sequence < before (the latest ones if before <= 0),
		// ascending by sequence.
		QueryMessages(ctx context.Context, roomID string, before int64, limit int) ([]Message, error)
		// QueryLastMessages returns the newest message of each given room that has one.
		QueryLastMessages(ctx context.Context, roomIDs ...string) ([]Message, error)

		// AdvanceReadCursor sets the participant's cursor to max(current, min(upto, roomMax)); a nil upto means roomMax.
		// It returns the participant and the room's max sequence.
		AdvanceReadCursor(ctx context.Context, roomID, userID string, upto *int64) (Participant, int64, error)
	}

	// UserDirectory resolves user ids, it is satisfied by *user.Service.
	UserDirectory interface {
		QueryByID(ctx context.Context, ids ...string) ([]user.User, error)
	}

	ServiceDeps struct {
		Repo      Repository
		Roster    Roster
		Users     UserDirectory
		Publisher Publisher // optional
		MailSvc   core.EmailService
		Validate  *validator.Validate
		Logger    core.Logger
		Conf      core.ChatConfig
	}

	// Service is the single authority over rooms, their messages and read state.
	Service struct {
		repo      Repository
		registry  *Registry
		users     UserDirectory
		publisher Publisher
		mailSvc   core.EmailService
		validate  *validator.Validate
		logger    core.Logger
		pageSize  int
		maxPage   int

		privateRooms singleflight.Group
		nowFunc      func() time.Time // mockable
	}

	privateRoomResult struct {
		room    Room
		created bool
	}
)

func NewService(deps ServiceDeps) *Service {
	pub := deps.Publisher
	if pub == nil {
		pub = NopPublisher{}
	}
	pageSize, maxPage := deps.Conf.PageSize, deps.Conf.MaxPageSize
	if maxPage <= 0 {
		maxPage = defaultMaxPageSize
	}
	if pageSize <= 0 || pageSize > maxPage {
		pageSize = lo.Min([]int{defaultPageSize, maxPage})
	}
	return &Service{
		repo:      deps.Repo,
		registry:  NewRegistry(deps.Roster),
		users:     deps.Users,
		publisher: pub,
		mailSvc:   deps.MailSvc,
		validate:  deps.Validate,
		logger:    deps.Logger,
		pageSize:  pageSize,
		maxPage:   maxPage,
		nowFunc:   time.Now,
	}
}

// Registry exposes the membership rules the service enforces.
func (svc *Service) Registry() *Registry {
	return svc.registry
}

func (svc *Service) now() time.Time {
	return svc.nowFunc().UTC().Truncate(time.Microsecond) // postgres precision
}

// CreateOrGetPrivateRoom returns the private room of userA and userB, creating it on first use.
// Concurrent calls for the same pair, in either order, all get the same room.
// The summary is built from userA's point of view.
func (svc *Service) CreateOrGetPrivateRoom(ctx context.Context, userA, userB string) (RoomSummary, bool, error) {
	ids, err := svc.registry.ResolveInitialMembers(ctx, RoomPrivate, []string{userA, userB}, "")
	if err != nil {
		return RoomSummary{}, false, err
	}
	if _, err = svc.requireUsers(ctx, ids); err != nil {
		return RoomSummary{}, false, err
	}

	key := PairKey(ids[0], ids[1])
	// detached: coalesced callers share the result
	sfCtx := context.WithoutCancel(ctx)
	v, err, _ := svc.privateRooms.Do(key, func() (interface{}, error) {
		ctx := sfCtx
		room, err := svc.repo.GetPrivateRoom(ctx, key)
		if err == nil {
			return privateRoomResult{room: room}, nil
		}
		if errors.Cause(err) != ErrRoomNotFound {
			return nil, errors.Wrap(err, "getting private room")
		}

		now := svc.now()
		room, created, err := svc.repo.CreatePrivateRoom(
			ctx,
			Room{Type: RoomPrivate, PrivateKey: key, CreatedAt: now},
			newParticipants(ids, now),
		)
		if err != nil {
			return nil, errors.Wrap(err, "creating private room")
		}
		if created {
			svc.publish(ctx, Event{Type: EventRoomCreated, RoomID: room.ID, Room: &room})
		}
		return privateRoomResult{room: room, created: created}, nil
	})
	if err != nil {
		return RoomSummary{}, false, err
	}

	res := v.(privateRoomResult)
	summary, err := svc.summarizeOne(ctx, strings.TrimSpace(userA), res.room)
	return summary, res.created, err
}

// CreateRoom creates a group or class room. The creator of a group room is always one of its members.
func (svc *Service) CreateRoom(ctx context.Context, nr NewRoom) (RoomSummary, error) {
	if err := nr.Validate(svc.validate); err != nil {
		return RoomSummary{}, err
	}

	var explicit []string
	switch nr.Type {
	case RoomGroup:
		explicit = append([]string{nr.CreatorID}, nr.MemberIDs...)
	case RoomClass:
	default:
		return RoomSummary{}, errors.Wrapf(ErrInvalidMembership, "%s rooms cannot be created this way", nr.Type)
	}

	ids, err := svc.registry.ResolveInitialMembers(ctx, nr.Type, explicit, nr.ClassRef)
	if err != nil {
		return RoomSummary{}, err
	}
	if _, err = svc.requireUsers(ctx, ids); err != nil {
		return RoomSummary{}, err
	}

	now := svc.now()
	room := Room{Type: nr.Type, Name: nr.Name, ClassRef: nr.ClassRef, CreatedAt: now}
	room, err = svc.repo.CreateRoom(ctx, room, newParticipants(ids, now))
	if err != nil {
		return RoomSummary{}, errors.Wrap(err, "creating room")
	}

	svc.publish(ctx, Event{Type: EventRoomCreated, RoomID: room.ID, Room: &room})
	return svc.summarizeOne(ctx, nr.CreatorID, room)
}

// ListRoomsForUser returns the rooms userID participates in, most recently active first.
func (svc *Service) ListRoomsForUser(ctx context.Context, userID string) ([]RoomSummary, error) {
	rooms, err := svc.repo.QueryRoomsForUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying rooms")
	}
	SortByActivity(rooms)
	return svc.summarize(ctx, userID, rooms...)
}

// GetRoom returns the summary of a room userID participates in.
func (svc *Service) GetRoom(ctx context.Context, roomID, userID string) (RoomSummary, error) {
	room, err := svc.repo.GetRoom(ctx, roomID)
	if err != nil {
		return RoomSummary{}, err
	}
	if _, err = svc.repo.GetParticipant(ctx, roomID, userID); err != nil {
		return RoomSummary{}, err
	}
	return svc.summarizeOne(ctx, userID, room)
}

// AddGroupMember adds userID to a group room on behalf of actorID, who must be a participant.
// It returns the updated participant set.
func (svc *Service) AddGroupMember(ctx context.Context, roomID, actorID, userID string) ([]Participant, error) {
	userID = strings.TrimSpace(userID)
	room, err := svc.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err = svc.registry.CanAddMember(room, userID); err != nil {
		return nil, err
	}
	if _, err = svc.repo.GetParticipant(ctx, roomID, actorID); err != nil {
		return nil, err
	}
	users, err := svc.requireUsers(ctx, []string{userID, actorID})
	if err != nil {
		return nil, err
	}

	p, err := svc.repo.AddParticipant(ctx, Participant{RoomID: roomID, UserID: userID, JoinedAt: svc.now()})
	if err != nil {
		return nil, err
	}
	svc.publish(ctx, Event{Type: EventMemberAdded, RoomID: roomID, Participant: &p})
	svc.notifyMemberAdded(room, users[userID], users[actorID])

	participants, err := svc.repo.QueryParticipants(ctx, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "querying participants")
	}
	names, err := svc.userNames(ctx, participantIDs(participants))
	if err != nil {
		return nil, err
	}
	return withNames(participants, names), nil
}

// SortByActivity orders rooms by last activity descending, then by id.
func SortByActivity(rooms []Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		ai, aj := rooms[i].ActivityAt(), rooms[j].ActivityAt()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return rooms[i].ID < rooms[j].ID
	})
}

// summarize builds the summaries of rooms as seen by viewerID, keeping the order of rooms.
func (svc *Service) summarize(ctx context.Context, viewerID string, rooms ...Room) ([]RoomSummary, error) {
	summaries := make([]RoomSummary, 0, len(rooms))
	if len(rooms) == 0 {
		return summaries, nil
	}

	roomIDs := lo.Map(rooms, func(r Room, _ int) string { return r.ID })
	participants, err := svc.repo.QueryParticipants(ctx, roomIDs...)
	if err != nil {
		return nil, errors.Wrap(err, "querying participants")
	}
	lastMsgs, err := svc.repo.QueryLastMessages(ctx, roomIDs...)
	if err != nil {
		return nil, errors.Wrap(err, "querying last messages")
	}

	userIDs := participantIDs(participants)
	userIDs = append(userIDs, lo.Map(lastMsgs, func(m Message, _ int) string { return m.SenderID })...)
	names, err := svc.userNames(ctx, lo.Uniq(userIDs))
	if err != nil {
		return nil, err
	}

	byRoom := lo.GroupBy(withNames(participants, names), func(p Participant) string { return p.RoomID })
	lastByRoom := lo.KeyBy(lastMsgs, func(m Message) string { return m.RoomID })

	for _, room := range rooms {
		members := byRoom[room.ID]
		if members == nil {
			members = []Participant{}
		}
		s := RoomSummary{
			Room:         room,
			DisplayName:  displayName(room, members, viewerID),
			Participants: members,
		}
		if msg, ok := lastByRoom[room.ID]; ok {
			msg.SenderName = names[msg.SenderID]
			s.LastMessage = &msg
		}
		if viewer, ok := lo.Find(members, func(p Participant) bool { return p.UserID == viewerID }); ok {
			s.UnreadCount = unread(room.LastSequence, viewer.LastReadSequence)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func (svc *Service) summarizeOne(ctx context.Context, viewerID string, room Room) (RoomSummary, error) {
	summaries, err := svc.summarize(ctx, viewerID, room)
	if err != nil {
		return RoomSummary{}, err
	}
	return summaries[0], nil
}

// requireUsers returns the users with the given ids, ErrInvalidMembership if any of them does not exist.
func (svc *Service) requireUsers(ctx context.Context, ids []string) (map[string]user.User, error) {
	ids = lo.Uniq(ids)
	users, err := svc.users.QueryByID(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	found := lo.KeyBy(users, func(u user.User) string { return u.ID })
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, errors.Wrapf(ErrInvalidMembership, "unknown user %q", id)
		}
	}
	return found, nil
}

func (svc *Service) userNames(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	users, err := svc.users.QueryByID(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.DisplayName()
	}
	return names, nil
}

// publish is best effort: the change it reports is already committed.
func (svc *Service) publish(ctx context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = svc.now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := svc.publisher.Publish(ctx, evt); err != nil {
		svc.logger.Warn(fmt.Sprintf("publishing %s event for room %s: %v", evt.Type, evt.RoomID, err), err)
	}
}

func (svc *Service) notifyMemberAdded(room Room, added, actor user.User) {
	if svc.mailSvc == nil {
		return
	}
	to, ok := added.MailAddress()
	if !ok {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{to},
		Subject:      fmt.Sprintf("You were added to %q", room.Name),
		TemplateName: "chat_member_added",
		TemplateData: map[string]string{
			"Name":     added.DisplayName(),
			"AddedBy":  actor.DisplayName(),
			"RoomName": room.Name,
			"RoomID":   room.ID,
		},
	})
}

func newParticipants(ids []string, joinedAt time.Time) []Participant {
	return lo.Map(ids, func(id string, _ int) Participant {
		return Participant{UserID: id, JoinedAt: joinedAt}
	})
}

func participantIDs(participants []Participant) []string {
	return lo.Map(participants, func(p Participant, _ int) string { return p.UserID })
}

func withNames(participants []Participant, names map[string]string) []Participant {
	return lo.Map(participants, func(p Participant, _ int) Participant {
		p.Name = names[p.UserID]
		return p
	})
}

// displayName is the room's own name, else the names of the other participants.
func displayName(room Room, members []Participant, viewerID string) string {
	if room.Name != "" {
		return room.Name
	}
	others := lo.FilterMap(members, func(p Participant, _ int) (string, bool) {
		return p.Name, p.UserID != viewerID && p.Name != ""
	})
	if len(others) == 0 {
		others = lo.FilterMap(members, func(p Participant, _ int) (string, bool) { return p.Name, p.Name != "" })
	}
	return strings.Join(others, ", ")
}

func unread(roomMax, cursor int64) int64 {
	return lo.Max([]int64{0, roomMax - cursor})
}
