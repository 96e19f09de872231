// Package scheduler runs periodic jobs, such as subscription renewal.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/billing"
)

// Renewer is implemented by billing.Service.
type Renewer interface {
	RenewDue(ctx context.Context, now time.Time) ([]billing.RenewalResult, error)
}

type Scheduler struct {
	cron    *cron.Cron
	renewer Renewer
	logger  core.Logger
	timeout time.Duration
	nowFunc func() time.Time

	mu      sync.Mutex
	running bool
}

func New(renewer Renewer, logger core.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		renewer: renewer,
		logger:  logger,
		timeout: 10 * time.Minute,
		nowFunc: time.Now,
	}
}

// ScheduleRenewals registers the renewal job on a cron spec, e.g. "@every 1h" or "0 * * * *".
func (s *Scheduler) ScheduleRenewals(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.RunRenewals); err != nil {
		return errors.Wrapf(err, "scheduling renewals on %q", spec)
	}
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunRenewals renews due subscriptions once. Overlapping runs are skipped.
func (s *Scheduler) RunRenewals() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("renewal run skipped: previous run still in progress")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	results, err := s.renewer.RenewDue(ctx, s.nowFunc())
	if err != nil {
		s.logger.Error("renewing subscriptions", err)
		return
	}

	counts := make(map[string]int)
	for _, res := range results {
		counts[res.Status]++
		if res.Status == billing.StatusFailed {
			s.logger.Warn(fmt.Sprintf("renewal failed for user %s: %s", res.UserID, res.Error), map[string]interface{}{
				"user_id":  res.UserID,
				"order_id": res.OrderID,
			})
		}
	}
	if len(results) > 0 {
		s.logger.Info(fmt.Sprintf("renewed subscriptions: %d due", len(results)), counts)
	}
}
