package testutil

import (
	"context"
	"io/ioutil"
	"log"
	"testing"
	"time"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/billing"
	"github.com/lim5max/checklytool/core/user"
	logsvc "github.com/lim5max/checklytool/services/logger"
)

// NewLogger returns a silent logger.
func NewLogger() core.Logger {
	return logsvc.NewTestLogger(log.New(ioutil.Discard, "", 0))
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:         name,
		Email:        email,
		Provider:     user.ProviderCredentials,
		Roles:        roles,
		CheckBalance: 0,
		CreatedAt:    tstamp,
		UpdatedAt:    tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// GiveCredits sets the check balance of usr to n.
func GiveCredits(t *testing.T, repo user.Repository, usr user.User, n int) {
	fresh, err := repo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
	if err != nil {
		t.Fatalf("giveCredits() failed: %v", err)
	}
	if _, err = repo.AddCheckBalance(context.Background(), usr.ID, n-fresh.CheckBalance); err != nil {
		t.Fatalf("giveCredits() failed: %v", err)
	}
}

func CreatePlan(t *testing.T, repo billing.Repository, name string, price int64, credits, days int) billing.Plan {
	now := time.Now().UTC()
	plan, err := repo.UpsertPlan(context.Background(), billing.Plan{
		Name:         name,
		DisplayName:  name,
		Price:        price,
		CheckCredits: credits,
		DurationDays: days,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("createPlan() failed: %v", err)
	}
	return plan
}
