package inmemdb

import (
	"context"

	"github.com/trezcool/masomo-chat/core/chat"
)

type rosterRepository struct {
	db *rosterTable
}

var (
	_ chat.Roster   = (*rosterRepository)(nil)
	_ chat.Enroller = (*rosterRepository)(nil)
)

func NewRosterRepository(db *DB) *rosterRepository {
	return &rosterRepository{db: db.roster}
}

// SetRoster replaces the roster of a class, creating the class if needed.
func (repo *rosterRepository) SetRoster(classRef string, userIDs ...string) {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.classes[classRef] = append([]string{}, userIDs...)
}

// Enroll adds userID to the roster of a class, creating the class if needed.
func (repo *rosterRepository) Enroll(_ context.Context, classRef, _ /* className */, userID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for _, id := range repo.db.classes[classRef] {
		if id == userID {
			return nil
		}
	}
	repo.db.classes[classRef] = append(repo.db.classes[classRef], userID)
	return nil
}

func (repo *rosterRepository) MembersOf(_ context.Context, classRef string) ([]string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	members, ok := repo.db.classes[classRef]
	if !ok {
		return nil, chat.ErrUnknownClass
	}
	return append([]string{}, members...), nil
}
