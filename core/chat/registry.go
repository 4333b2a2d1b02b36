package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Roster is the class enrollment collaborator.
type Roster interface {
	// MembersOf returns the ids of the users currently on the class roster.
	// It returns ErrUnknownClass when no such class exists.
	MembersOf(ctx context.Context, classRef string) ([]string, error)
}

// Enroller seeds class rosters; the admin CLI uses it.
type Enroller interface {
	Enroll(ctx context.Context, classRef, className, userID string) error
}

type (
	resolveFunc func(ctx context.Context, roster Roster, explicit []string, classRef string) ([]string, error)

	// membershipRule is how one room type derives its initial members and whether it accepts new ones.
	membershipRule struct {
		resolve   resolveFunc
		addMember bool
	}
)

var membershipRules = map[RoomType]membershipRule{
	RoomPrivate: {resolve: resolvePrivateMembers},
	RoomGroup:   {resolve: resolveGroupMembers, addMember: true},
	RoomClass:   {resolve: resolveClassMembers},
}

// Registry validates room memberships. It never writes anything.
type Registry struct {
	roster Roster
}

func NewRegistry(roster Roster) *Registry {
	return &Registry{roster: roster}
}

// ResolveInitialMembers returns the participant set a new room of type typ starts with.
func (r *Registry) ResolveInitialMembers(ctx context.Context, typ RoomType, explicit []string, classRef string) ([]string, error) {
	rule, ok := membershipRules[typ]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidMembership, "unknown room type %q", typ)
	}
	return rule.resolve(ctx, r.roster, explicit, classRef)
}

// CanAddMember reports whether userID may join room after its creation.
func (r *Registry) CanAddMember(room Room, userID string) error {
	rule, ok := membershipRules[room.Type]
	if !ok || !rule.addMember {
		return errors.Wrapf(ErrMembershipImmutable, "%s rooms", room.Type)
	}
	if strings.TrimSpace(userID) == "" {
		return errors.Wrap(ErrInvalidMembership, "user id is required")
	}
	return nil
}

// PairKey is the unordered key of two users: PairKey(a, b) == PairKey(b, a).
func PairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// cleanIDs drops blank ids, keeping the first occurrence of each id.
func cleanIDs(ids []string) []string {
	trimmed := lo.FilterMap(ids, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	})
	return lo.Uniq(trimmed)
}

func resolvePrivateMembers(_ context.Context, _ Roster, explicit []string, _ string) ([]string, error) {
	ids := lo.FilterMap(explicit, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	})
	if len(ids) != 2 || ids[0] == ids[1] {
		return nil, errors.Wrap(ErrInvalidMembership, "private rooms need exactly 2 distinct users")
	}
	return ids, nil
}

func resolveGroupMembers(_ context.Context, _ Roster, explicit []string, _ string) ([]string, error) {
	ids := cleanIDs(explicit)
	if len(ids) < 2 {
		return nil, errors.Wrap(ErrInvalidMembership, "group rooms need at least 2 distinct users")
	}
	return ids, nil
}

func resolveClassMembers(ctx context.Context, roster Roster, _ []string, classRef string) ([]string, error) {
	classRef = strings.TrimSpace(classRef)
	if classRef == "" {
		return nil, errors.Wrap(ErrUnknownClass, "class reference is required")
	}
	if roster == nil {
		return nil, errors.Wrapf(ErrUnknownClass, "no roster for class %q", classRef)
	}

	members, err := roster.MembersOf(ctx, classRef)
	if err != nil {
		if errors.Cause(err) == ErrUnknownClass {
			return nil, errors.Wrapf(ErrUnknownClass, "class %q", classRef)
		}
		return nil, errors.Wrap(err, "reading class roster")
	}
	ids := cleanIDs(members)
	if len(ids) == 0 {
		return nil, errors.Wrapf(ErrInvalidMembership, "class %q has nobody on its roster", classRef)
	}
	return ids, nil
}
