package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/user"
	inmemdb "github.com/lim5max/checklytool/storage/database/inmem"
	testutil "github.com/lim5max/checklytool/tests"
)

const testPwd = "Un1que*Phrase"

func setup(t *testing.T) *commandLine {
	db := inmemdb.Open()
	validate, _ := core.NewValidator()
	return &commandLine{
		usrRepo:     inmemdb.NewUserRepository(db),
		billingRepo: inmemdb.NewBillingRepository(db),
		validate:    validate,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest, check func(t *testing.T, tt cliTest)) {
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				if errors.Cause(err) != tt.wantErr {
					t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
				}
			case tt.wantErrStr != "":
				if err == nil || err.Error() != tt.wantErrStr {
					t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
				}
			case err != nil:
				t.Errorf("cli.run() unexpected error = %v", err)
			case check != nil:
				check(t, tt)
			}
		})
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	var ran []string
	gooseRunFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		ran = append(ran, command)
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: up-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "status", args: []string{"migrate", "status"}},
	}, nil)

	assert.Equal(t, []string{"up", "up-to", "down", "status"}, ran)
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	mockPassword("")
	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-name", "Anna"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-name", "Anna", "-email", "anna@test.test"}, wantErr: errHelp},
	}, nil)

	mockPassword(testPwd)
	require.NoError(t, cli.run([]string{"admin", "adduser", "-name", "Anna", "-email", " Anna@Test.test "}))

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: "anna@test.test"})
	require.NoError(t, err)
	assert.Equal(t, "Anna", usr.Name)
	assert.True(t, *usr.IsActive)
	assert.False(t, usr.IsAdmin())
	assert.NoError(t, usr.CheckPassword(testPwd))

	// an existing user is promoted in place
	mockPassword("N3w*Password")
	require.NoError(t, cli.run([]string{"admin", "adduser", "-name", "Anna P", "-email", "anna@test.test", "-admin"}))

	promoted, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: "anna@test.test"})
	require.NoError(t, err)
	assert.Equal(t, usr.ID, promoted.ID)
	assert.Equal(t, "Anna P", promoted.Name)
	assert.True(t, promoted.IsAdmin())
	assert.NoError(t, promoted.CheckPassword("N3w*Password"))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, cli.usrRepo, "User", "awe@test.cd", testPwd, nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "-email", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-email", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-email", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				refreshedUsr, err := cli.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				if err != nil {
					t.Fatalf("GetUser() failed, %v", err)
				}
				if bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash) {
					t.Error("failed to update new password")
				}
			} else if errors.Cause(err) != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_commandLine_grantCredits(t *testing.T) {
	cli := setup(t)
	usr := testutil.CreateUser(t, cli.usrRepo, "User", "awe@test.cd", testPwd, nil, true)

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"grantcredits"}, wantErr: errHelp},
		{name: "no credits", args: []string{"grantcredits", "-email", usr.Email}, wantErr: errHelp},
		{name: "negative credits", args: []string{"grantcredits", "-email", usr.Email, "-n", "-3"}, wantErr: errHelp},
		{name: "user not found", args: []string{"grantcredits", "-email", "lol@test.cd", "-n", "3"}, wantErr: user.ErrNotFound},
		{name: "grant", args: []string{"grantcredits", "-email", usr.Email, "-n", "7"}},
	}, nil)

	refreshed, err := cli.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
	require.NoError(t, err)
	assert.Equal(t, 7, refreshed.CheckBalance)
}

func Test_commandLine_seedPlans(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	t.Run("default file", func(t *testing.T) {
		require.NoError(t, cli.run([]string{"admin", "seedplans"}))

		plan, err := cli.billingRepo.GetPlanByName(ctx, "plus")
		require.NoError(t, err)
		assert.EqualValues(t, 39900, plan.Price)
		assert.Equal(t, 100, plan.CheckCredits)
		assert.Equal(t, 30, plan.DurationDays)
	})

	t.Run("update by name", func(t *testing.T) {
		before, err := cli.billingRepo.GetPlanByName(ctx, "plus")
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "plans.yaml")
		yml := "plans:\n  - name: Plus\n    display_name: Plus\n    price: 49900\n    check_credits: 120\n    duration_days: 30\n    is_active: true\n"
		require.NoError(t, ioutil.WriteFile(path, []byte(yml), 0o600))
		require.NoError(t, cli.run([]string{"admin", "seedplans", "-file", path}))

		after, err := cli.billingRepo.GetPlanByName(ctx, "plus")
		require.NoError(t, err)
		assert.Equal(t, before.ID, after.ID)
		assert.EqualValues(t, 49900, after.Price)
		assert.Equal(t, 120, after.CheckCredits)
	})

	t.Run("invalid plan", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, ioutil.WriteFile(path, []byte("plans:\n  - name: bad plan\n    price: 100\n"), 0o600))
		assert.Error(t, cli.run([]string{"admin", "seedplans", "-file", path}))
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, ioutil.WriteFile(path, []byte("plans: []\n"), 0o600))
		assert.Error(t, cli.run([]string{"admin", "seedplans", "-file", path}))
	})
}
