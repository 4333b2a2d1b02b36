package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-chat/core/user"
)

type (
	// DB is an in-process database with the same semantics as the postgres repositories.
	DB struct {
		user   *userTable
		chat   *chatTables
		roster *rosterTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	rosterTable struct {
		sync.RWMutex
		classes map[string][]string // {classRef: [userID]}
	}
)

func Open() *DB {
	return &DB{
		user:   &userTable{table: make(map[string]*user.User)},
		chat:   newChatTables(),
		roster: &rosterTable{classes: make(map[string][]string)},
	}
}
