package main

import (
	"github.com/pkg/errors"

	"github.com/fancysnake/ludamus/core"
	"github.com/fancysnake/ludamus/core/user"
)

// addUser creates a new active user.User
func (cli *commandLine) addUser(name, uname, email, pwd string, isAdmin bool) error {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	if err := cli.usrSvc.CheckUniqueness(uname, email); err != nil {
		return err
	}

	nu := user.NewUser{
		Name:            core.CleanString(name),
		Username:        uname,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
	}
	if isAdmin {
		nu.Roles = user.AllRoles
	}

	usr, err := cli.usrSvc.Create(nu)
	if err != nil {
		return err
	}
	logger.Printf("created user %s", usr.ID)
	return nil
}

// resetPassword sets a new password for an existing user.
func (cli *commandLine) resetPassword(uname, pwd string) error {
	usr, err := cli.usrSvc.GetByUsernameOrEmail(uname)
	if err != nil {
		return err
	}
	if _, err = cli.usrSvc.Update(usr.ID, user.UpdateUser{Password: pwd, PasswordConfirm: pwd}); err != nil {
		return errors.Wrap(err, "updating password")
	}
	return nil
}
