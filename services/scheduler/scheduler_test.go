package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lim5max/checklytool/core/billing"
	testutil "github.com/lim5max/checklytool/tests"
)

type renewerMock struct {
	mu    sync.Mutex
	calls []time.Time
	block chan struct{}
	err   error
}

func (r *renewerMock) RenewDue(_ context.Context, now time.Time) ([]billing.RenewalResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, now)
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	return []billing.RenewalResult{
		{UserID: "u1", Status: billing.StatusPaid},
		{UserID: "u2", Status: billing.StatusFailed, Error: "card expired"},
	}, r.err
}

func (r *renewerMock) numCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRunRenewals(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &renewerMock{}
	s := New(r, testutil.NewLogger())
	s.nowFunc = func() time.Time { return now }

	s.RunRenewals()
	assert.Equal(t, []time.Time{now}, r.calls)

	r.err = errors.New("db down")
	s.RunRenewals()
	assert.Equal(t, 2, r.numCalls())
}

func TestRunRenewalsSkipsOverlap(t *testing.T) {
	r := &renewerMock{block: make(chan struct{})}
	s := New(r, testutil.NewLogger())

	done := make(chan struct{})
	go func() {
		s.RunRenewals()
		close(done)
	}()
	assert.Eventually(t, func() bool { return r.numCalls() == 1 }, time.Second, 5*time.Millisecond)

	s.RunRenewals() // returns immediately
	close(r.block)
	<-done
	assert.Equal(t, 1, r.numCalls())
}

func TestScheduleRenewals(t *testing.T) {
	s := New(&renewerMock{}, testutil.NewLogger())
	assert.Error(t, s.ScheduleRenewals("not a spec"))
	assert.NoError(t, s.ScheduleRenewals("@every 1h"))

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
