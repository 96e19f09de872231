package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/user"
)

// addUser updates or creates an active user.User with credentials.
func (cli *commandLine) addUser(name, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	name = core.CleanString(name)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email})
	found := err == nil
	if err != nil && errors.Cause(err) != user.ErrNotFound {
		return err
	}
	if !found {
		now := time.Now().UTC()
		usr = user.User{
			Email:     email,
			Provider:  user.ProviderCredentials,
			Roles:     []string{user.RoleTeacher},
			CreatedAt: now,
		}
	}

	usr.Name = name
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	usr.SetActive(true)
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()

	if found {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	return err
}
