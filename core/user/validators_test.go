package user_test

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/user"
	inmemdb "github.com/trezcool/masomo-chat/storage/database/inmem"
	"github.com/trezcool/masomo-chat/tests"
)

func writeCommonPasswords(t *testing.T, pwds ...string) string {
	fp := filepath.Join(t.TempDir(), "common-passwords.txt.gz")
	file, err := os.Create(fp)
	require.NoError(t, err)
	gzw := gzip.NewWriter(file)
	for _, pwd := range pwds {
		_, err = gzw.Write([]byte(pwd + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, gzw.Close())
	require.NoError(t, file.Close())
	return fp
}

func TestNewUser_Validate(t *testing.T) {
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(t, conf)
	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(writeCommonPasswords(t, "P@$$w0rd", "123456"), logger)

	repo := inmemdb.NewUserRepository(inmemdb.Open())
	svc := user.NewService(repo)
	testutil.CreateUser(t, repo, "Taken", "taken", "taken@test.cd", "", nil, true)

	valid := func(modify func(nu *user.NewUser)) user.NewUser {
		nu := user.NewUser{
			Name:            "Jane Doe",
			Username:        "jane",
			Email:           "jane@test.cd",
			Password:        "LolC@t123",
			PasswordConfirm: "LolC@t123",
			Roles:           []string{user.RoleStudent},
		}
		if modify != nil {
			modify(&nu)
		}
		return nu
	}
	pwd := func(p string) func(nu *user.NewUser) {
		return func(nu *user.NewUser) { nu.Password, nu.PasswordConfirm = p, p }
	}

	tests := []struct {
		name     string
		nu       user.NewUser
		wantErrs map[string]string
	}{
		{name: "valid", nu: valid(nil)},
		{name: "valid: email only", nu: valid(func(nu *user.NewUser) { nu.Username = "" })},
		{name: "name required", nu: valid(func(nu *user.NewUser) { nu.Name = "  " }), wantErrs: map[string]string{"name": "this field is required"}},
		{
			name: "username or email", nu: valid(func(nu *user.NewUser) { nu.Username, nu.Email = "", "" }),
			wantErrs: map[string]string{"username": "one of username or email is required", "email": "one of username or email is required"},
		},
		{name: "username too short", nu: valid(func(nu *user.NewUser) { nu.Username = "ja" }), wantErrs: map[string]string{"username": "username must be at least 3 characters in length"}},
		{name: "username charset", nu: valid(func(nu *user.NewUser) { nu.Username = "jane!" }), wantErrs: map[string]string{"username": "only alphanumeric characters and underscores are allowed"}},
		{name: "invalid email", nu: valid(func(nu *user.NewUser) { nu.Email = "lol" }), wantErrs: map[string]string{"email": "email must be a valid email address"}},
		{name: "invalid roles", nu: valid(func(nu *user.NewUser) { nu.Roles = []string{"lol"} }), wantErrs: map[string]string{"roles": "invalid roles"}},
		{name: "pwd: min len", nu: valid(pwd("Lo@1")), wantErrs: map[string]string{"password": "password must contain at least 8 characters"}},
		{name: "pwd: no whitespace", nu: valid(pwd("l o loll")), wantErrs: map[string]string{"password": "password must not contain whitespace"}},
		{name: "pwd: not all numeric", nu: valid(pwd("12345678")), wantErrs: map[string]string{"password": "password cannot be entirely numeric"}},
		{
			name: "pwd: complexity", nu: valid(pwd("lol12345")),
			wantErrs: map[string]string{"password": "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"},
		},
		{
			name: "pwd: similar to username", nu: valid(func(nu *user.NewUser) { nu.Username = "janedoe1"; nu.Password, nu.PasswordConfirm = "Janedoe1!", "Janedoe1!" }),
			wantErrs: map[string]string{"password": "password cannot be similar to user attributes"},
		},
		{name: "pwd: too common", nu: valid(pwd("P@$$w0rd")), wantErrs: map[string]string{"password": "password is too common"}},
		{
			name: "pwd: confirm", nu: valid(func(nu *user.NewUser) { nu.PasswordConfirm = "lol" }),
			wantErrs: map[string]string{"password_confirm": "password_confirm must be equal to Password"},
		},
		{name: "username taken", nu: valid(func(nu *user.NewUser) { nu.Username = " Taken " }), wantErrs: map[string]string{"username": "a user with this username already exists"}},
		{name: "email taken", nu: valid(func(nu *user.NewUser) { nu.Username, nu.Email = "", "TAKEN@test.cd" }), wantErrs: map[string]string{"email": "a user with this email already exists"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := tt.nu
			err := nu.Validate(context.Background(), validate, svc)
			if tt.wantErrs == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			gotErrs := make(map[string]string)
			var (
				vErrs validator.ValidationErrors
				cErr  *core.ValidationError
			)
			switch {
			case errors.As(err, &vErrs):
				for _, vErr := range vErrs {
					gotErrs[vErr.Field()] = vErr.Translate(translator)
				}
			case errors.As(err, &cErr):
				gotErrs = cErr.FieldMap()
			default:
				t.Fatalf("Validate() unexpected error = %v", err)
			}
			assert.Equal(t, tt.wantErrs, gotErrs)
		})
	}
}

func TestUser_roles(t *testing.T) {
	tests := []struct {
		name        string
		usr         user.User
		wantAdmin   bool
		wantTeacher bool
		wantStudent bool
		wantDisplay string
	}{
		{name: "owner", usr: user.User{Name: "Boss", Roles: []string{user.RoleAdminOwner}}, wantAdmin: true, wantDisplay: "Boss"},
		{name: "teacher", usr: user.User{Username: "teach", Roles: []string{user.RoleTeacher}}, wantTeacher: true, wantDisplay: "teach"},
		{name: "student", usr: user.User{Name: "Kid", Username: "kid", Roles: []string{user.RoleStudent}}, wantStudent: true, wantDisplay: "Kid"},
		{name: "no roles", usr: user.User{Username: "nobody"}, wantDisplay: "nobody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAdmin, tt.usr.IsAdmin())
			assert.Equal(t, tt.wantTeacher, tt.usr.IsTeacher())
			assert.Equal(t, tt.wantStudent, tt.usr.IsStudent())
			assert.Equal(t, tt.wantDisplay, tt.usr.DisplayName())
		})
	}

	var usr user.User
	_, ok := usr.MailAddress()
	assert.False(t, ok)
	require.NoError(t, usr.SetPassword("LolC@t123"))
	assert.NoError(t, usr.CheckPassword("LolC@t123"))
	assert.Error(t, usr.CheckPassword("lol"))
}
