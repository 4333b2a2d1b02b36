package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/user"
)

// addUser updates the user matching uname or email, or creates it.
func (cli *commandLine) addUser(name, uname, email, pwd string, isAdmin bool, roles []string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	if isAdmin {
		roles = user.AllRoles
	}

	usr, err := cli.findUser(ctx, uname, email)
	switch {
	case err == nil:
		if name = core.CleanString(name); name != "" {
			usr.Name = name
		}
		if roles != nil {
			usr.Roles = roles
		}
		usr.IsActive = true
		usr.UpdatedAt = time.Now().UTC()
		if err = usr.SetPassword(pwd); err != nil {
			return errors.Wrap(err, "setting password")
		}
		if _, err = cli.usrRepo.UpdateUser(ctx, usr); err != nil {
			return errors.Wrap(err, "updating user")
		}
		_, _ = fmt.Fprintf(cli.out, "user %q updated\n", usr.ID)
		return nil

	case errors.Cause(err) != user.ErrNotFound:
		return err
	}

	if name == "" {
		name = uname
	}
	nu := user.NewUser{
		Name:            name,
		Username:        uname,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           roles,
	}
	if err = nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
		return err
	}
	if usr, err = cli.usrSvc.Create(ctx, nu); err != nil {
		return errors.Wrap(err, "creating user")
	}
	_, _ = fmt.Fprintf(cli.out, "user %q created\n", usr.ID)
	return nil
}

func (cli *commandLine) findUser(ctx context.Context, unames ...string) (user.User, error) {
	for _, uname := range unames {
		if uname == "" {
			continue
		}
		usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
		if err == nil || errors.Cause(err) != user.ErrNotFound {
			return usr, err
		}
	}
	return user.User{}, user.ErrNotFound
}
