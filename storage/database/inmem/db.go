package inmemdb

import (
	"context"
	"sync"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/assessment"
	"github.com/lim5max/checklytool/core/billing"
	"github.com/lim5max/checklytool/core/user"
)

type (
	// DB is an in-memory store for tests and local runs without Postgres.
	DB struct {
		user        *userTable
		plan        *planTable
		order       *orderTable
		sub         *subscriptionTable
		check       *checkTable
		test        *testTable
		submission  *submissionTable
		evaluation  *evaluationTable
		transactMux sync.Mutex
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	planTable struct {
		sync.RWMutex
		table map[string]*billing.Plan
	}

	orderTable struct {
		sync.RWMutex
		table map[string]*billing.Order
	}

	subscriptionTable struct {
		sync.RWMutex
		table map[string]*billing.Subscription // by user ID
	}

	checkTable struct {
		sync.RWMutex
		table map[string]*assessment.Check
	}

	testTable struct {
		sync.RWMutex
		table map[string]*assessment.GeneratedTest
	}

	submissionTable struct {
		sync.RWMutex
		table map[string]*assessment.Submission
	}

	evaluationTable struct {
		sync.RWMutex
		table map[string]*assessment.Evaluation // by submission ID
	}
)

func Open() *DB {
	return &DB{
		user:       &userTable{table: make(map[string]*user.User)},
		plan:       &planTable{table: make(map[string]*billing.Plan)},
		order:      &orderTable{table: make(map[string]*billing.Order)},
		sub:        &subscriptionTable{table: make(map[string]*billing.Subscription)},
		check:      &checkTable{table: make(map[string]*assessment.Check)},
		test:       &testTable{table: make(map[string]*assessment.GeneratedTest)},
		submission: &submissionTable{table: make(map[string]*assessment.Submission)},
		evaluation: &evaluationTable{table: make(map[string]*assessment.Evaluation)},
	}
}

type transactor struct {
	db *DB
}

var _ core.Transactor = (*transactor)(nil)

// NewTransactor serializes transactions. There is no rollback: fn's writes are kept even when it fails.
func NewTransactor(db *DB) core.Transactor {
	return &transactor{db: db}
}

func (t *transactor) InTx(_ context.Context, fn func(exec core.DBExecutor) error) error {
	t.db.transactMux.Lock()
	defer t.db.transactMux.Unlock()
	return fn(nil)
}
