package main

import (
	"context"
	"fmt"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/user"
)

func (cli *commandLine) grantCredits(email string, n int) error {
	ctx := context.Background()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: core.CleanString(email, true /* lower */)})
	if err != nil {
		return err
	}
	balance, err := cli.usrRepo.AddCheckBalance(ctx, usr.ID, n)
	if err != nil {
		return err
	}
	fmt.Printf("%s now has %d check credits\n", usr.Email, balance)
	return nil
}
