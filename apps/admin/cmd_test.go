package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
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
	inmemdb "github.com/trezcool/masomo-chat/storage/database/inmem"
	"github.com/trezcool/masomo-chat/tests"
)

const strongPwd = "Sup3r-S3cret!"

type cliFixture struct {
	cli     *commandLine
	out     *bytes.Buffer
	usrRepo user.Repository
	roster  chat.Roster
}

func setup(t *testing.T) *cliFixture {
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(t, conf)

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	chat.InitValidators(validate, translator)

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo)
	roster := inmemdb.NewRosterRepository(db)
	out := new(bytes.Buffer)

	return &cliFixture{
		cli: &commandLine{
			usrRepo: usrRepo,
			usrSvc:  usrSvc,
			chatSvc: chat.NewService(chat.ServiceDeps{
				Repo:     inmemdb.NewChatRepository(db),
				Roster:   roster,
				Users:    usrSvc,
				Validate: validate,
				Logger:   logger,
				Conf:     conf.Chat,
			}),
			enroller: roster,
			validate: validate,
			out:      out,
		},
		out:     out,
		usrRepo: usrRepo,
		roster:  roster,
	}
}

// mockPassword makes the password prompt answer pwd.
func mockPassword(t *testing.T, pwd string) {
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkRunErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	fx := setup(t)

	var ran []string
	orig := gooseRunFunc
	gooseRunFunc = func(_ *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		ran = append(ran, strings.TrimSpace(command+" "+strings.Join(args, " ")))
		return nil
	}
	t.Cleanup(func() { gooseRunFunc = orig })

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: `"lol": no such command`},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}, extra: "up"},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}, extra: "up-to 2"},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}, extra: "down-to 1"},
		{name: "status", args: []string{"migrate", "status"}, extra: "status"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			ran = nil
			checkRunErr(t, tt, fx.cli.run(args))
			if want, ok := tt.extra.(string); ok {
				assert.Equal(t, []string{want}, ran)
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	t.Run("usage", func(t *testing.T) {
		mockPassword(t, strongPwd)
		checkRunErr(t, cliTest{wantErr: errHelp}, fx.cli.run([]string{"admin", "adduser", "-name", "Nobody"}))
	})
	t.Run("no password", func(t *testing.T) {
		mockPassword(t, "")
		checkRunErr(t, cliTest{wantErr: errHelp}, fx.cli.run([]string{"admin", "adduser", "-username", "awe"}))
	})
	t.Run("weak password", func(t *testing.T) {
		mockPassword(t, "awe")
		err := fx.cli.run([]string{"admin", "adduser", "-username", "awe", "-email", "awe@test.cd"})
		var vErrs validator.ValidationErrors
		assert.True(t, errors.As(err, &vErrs), "want validation errors, got %v", err)
	})

	var created user.User
	t.Run("created", func(t *testing.T) {
		mockPassword(t, strongPwd)
		fx.out.Reset()
		err := fx.cli.run([]string{"admin", "adduser", "-name", "Mr Awe", "-username", " AWE ", "-email", "awe@test.cd", "-role", user.RoleTeacher})
		require.NoError(t, err)

		created, err = fx.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: "awe"})
		require.NoError(t, err)
		assert.Equal(t, "Mr Awe", created.Name)
		assert.Equal(t, []string{user.RoleTeacher}, created.Roles)
		assert.NoError(t, created.CheckPassword(strongPwd))
		assert.Contains(t, fx.out.String(), fmt.Sprintf("user %q created", created.ID))
	})

	t.Run("updated", func(t *testing.T) {
		mockPassword(t, "N3w-Passw0rd!")
		fx.out.Reset()
		require.NoError(t, fx.cli.run([]string{"admin", "adduser", "-email", "awe@test.cd", "-admin"}))

		usr, err := fx.usrRepo.GetUser(ctx, user.GetFilter{ID: created.ID})
		require.NoError(t, err)
		assert.Equal(t, "Mr Awe", usr.Name)
		assert.True(t, usr.IsAdmin())
		assert.NoError(t, usr.CheckPassword("N3w-Passw0rd!"))
		assert.Contains(t, fx.out.String(), fmt.Sprintf("user %q updated", created.ID))
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	fx := setup(t)

	usr := testutil.CreateUser(t, fx.usrRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			pwd := ""
			if extra, ok := tt.extra.(extra); ok {
				pwd = extra.pwd
			}
			mockPassword(t, pwd)

			err := fx.cli.run(args)
			checkRunErr(t, tt, err)
			if err == nil {
				refreshed, err := fx.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				require.NoError(t, err)
				assert.NoError(t, refreshed.CheckPassword(pwd))
			}
		})
	}
}

func Test_commandLine_enroll(t *testing.T) {
	fx := setup(t)
	usr := testutil.CreateUser(t, fx.usrRepo, "Student", "stud", "stud@test.cd", "", []string{user.RoleStudent}, true)

	tests := []cliTest{
		{name: "no args", args: []string{"enroll"}, wantErr: errHelp},
		{name: "no class", args: []string{"enroll", "-username", "stud"}, wantErr: errHelp},
		{name: "user not found", args: []string{"enroll", "-class", "C101", "-username", "lol"}, wantErr: user.ErrNotFound},
		{name: "enrolled", args: []string{"enroll", "-class", "C101", "-name", "Algebra", "-username", "stud@test.cd"}},
		{name: "enrolled twice", args: []string{"enroll", "-class", "C101", "-username", "stud"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			fx.out.Reset()
			err := fx.cli.run(args)
			checkRunErr(t, tt, err)
			if err == nil {
				assert.Contains(t, fx.out.String(), "Student enrolled in C101")
			}
		})
	}

	members, err := fx.roster.MembersOf(context.Background(), "C101")
	require.NoError(t, err)
	assert.Equal(t, []string{usr.ID}, members)
}

func Test_commandLine_rooms(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, fx.usrRepo, "Alice", "alice", "alice@test.cd", "", nil, true)
	bob := testutil.CreateUser(t, fx.usrRepo, "Bob", "bob", "bob@test.cd", "", nil, true)

	room, _, err := fx.cli.chatSvc.CreateOrGetPrivateRoom(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, _, err = fx.cli.chatSvc.Append(ctx, chat.NewMessage{RoomID: room.ID, SenderID: bob.ID, Body: "hey"})
	require.NoError(t, err)

	tests := []cliTest{
		{name: "no args", args: []string{"rooms"}, wantErr: errHelp},
		{name: "user not found", args: []string{"rooms", "-username", "lol"}, wantErr: user.ErrNotFound},
		{name: "listed", args: []string{"rooms", "-username", "alice"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			fx.out.Reset()
			err := fx.cli.run(args)
			checkRunErr(t, tt, err)
			if err == nil {
				out := fx.out.String()
				assert.Contains(t, out, "MEMBERS")
				assert.Contains(t, out, room.ID)
				assert.Contains(t, out, "private")
				assert.Contains(t, out, "Alice")
			}
		})
	}
}
