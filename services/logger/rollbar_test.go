package logsvc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rollbar/rollbar-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-chat/core/user"
)

func personOf(t *testing.T, args []interface{}) (*rollbar.Person, bool) {
	t.Helper()
	for _, arg := range args {
		if ctx, ok := arg.(context.Context); ok {
			return rollbar.PersonFromContext(ctx)
		}
	}
	return nil, false
}

func TestRollbarLogger_prepare(t *testing.T) {
	var l RollbarLogger
	errBoom := errors.New("boom")
	alice := user.User{ID: "1", Username: "alice", Email: "alice@test.cd"}
	bob := user.User{ID: "2", Username: "bob", Email: "bob@test.cd"}

	tests := []struct {
		name       string
		args       []interface{}
		wantArgs   []interface{}
		wantPerson *rollbar.Person
	}{
		{name: "no user", args: []interface{}{errBoom}, wantArgs: []interface{}{"msg", errBoom}},
		{name: "user", args: []interface{}{errBoom, alice}, wantArgs: []interface{}{"msg", errBoom}, wantPerson: &rollbar.Person{Id: "1", Username: "alice", Email: "alice@test.cd"}},
		{name: "first user wins", args: []interface{}{bob, alice}, wantArgs: []interface{}{"msg"}, wantPerson: &rollbar.Person{Id: "2", Username: "bob", Email: "bob@test.cd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.prepare("msg", tt.args)

			var rest []interface{}
			for _, arg := range got {
				if _, ok := arg.(context.Context); !ok {
					rest = append(rest, arg)
				}
			}
			assert.Equal(t, tt.wantArgs, rest)

			person, ok := personOf(t, got)
			if tt.wantPerson == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantPerson, person)
		})
	}
}

func TestRollbarLogger_prepare_concurrent(t *testing.T) {
	var l RollbarLogger
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		usr := user.User{ID: string(rune('a' + i%26)), Username: "u"}
		wg.Add(1)
		go func(usr user.User) {
			defer wg.Done()
			person, ok := personOf(t, l.prepare("msg", []interface{}{usr}))
			if assert.True(t, ok) {
				assert.Equal(t, usr.ID, person.Id)
			}
		}(usr)
	}
	wg.Wait()
}
