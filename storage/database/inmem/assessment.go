package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/assessment"
)

type assessmentRepository struct {
	checks      *checkTable
	tests       *testTable
	submissions *submissionTable
	evaluations *evaluationTable
}

var _ assessment.Repository = (*assessmentRepository)(nil)

func NewAssessmentRepository(db *DB) assessment.Repository {
	return &assessmentRepository{
		checks:      db.check,
		tests:       db.test,
		submissions: db.submission,
		evaluations: db.evaluation,
	}
}

// Checks

func (repo *assessmentRepository) CreateCheck(_ context.Context, chk assessment.Check, _ ...core.DBExecutor) (assessment.Check, error) {
	repo.checks.Lock()
	defer repo.checks.Unlock()

	if chk.ID == "" {
		chk.ID = uuid.New().String()
	}
	repo.checks.table[chk.ID] = &chk
	return chk, nil
}

func (repo *assessmentRepository) GetCheck(_ context.Context, id, userID string, _ ...core.DBExecutor) (assessment.Check, error) {
	repo.checks.RLock()
	defer repo.checks.RUnlock()

	if chk, ok := repo.checks.table[id]; ok && chk.UserID == userID {
		return *chk, nil
	}
	return assessment.Check{}, assessment.ErrCheckNotFound
}

func (repo *assessmentRepository) QueryChecks(
	_ context.Context,
	userID string,
	filter *assessment.CheckFilter,
	ordering []core.DBOrdering,
	_ ...core.DBExecutor,
) ([]assessment.Check, error) {
	repo.checks.RLock()
	defer repo.checks.RUnlock()

	checks := make([]assessment.Check, 0)
	for _, chk := range repo.checks.table {
		if chk.UserID != userID {
			continue
		}
		if filter != nil {
			if filter.CheckType != "" && chk.CheckType != filter.CheckType {
				continue
			}
			if filter.Search != "" && !strings.Contains(strings.ToLower(chk.Title), strings.ToLower(filter.Search)) {
				continue
			}
		}
		checks = append(checks, *chk)
	}

	sort.Slice(checks, func(i, j int) bool { return checks[i].CreatedAt.After(checks[j].CreatedAt) })
	for i := len(ordering) - 1; i >= 0; i-- {
		ord := ordering[i]
		less := func(a, b assessment.Check) bool {
			if ord.Field == "title" {
				return a.Title < b.Title
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		sort.SliceStable(checks, func(a, b int) bool {
			if ord.Ascending {
				return less(checks[a], checks[b])
			}
			return less(checks[b], checks[a])
		})
	}
	return checks, nil
}

func (repo *assessmentRepository) UpdateCheck(_ context.Context, chk assessment.Check, _ ...core.DBExecutor) (assessment.Check, error) {
	repo.checks.Lock()
	defer repo.checks.Unlock()

	if orig, ok := repo.checks.table[chk.ID]; !ok || orig.UserID != chk.UserID {
		return assessment.Check{}, assessment.ErrCheckNotFound
	}
	repo.checks.table[chk.ID] = &chk
	return chk, nil
}

func (repo *assessmentRepository) DeleteCheck(_ context.Context, id, userID string, _ ...core.DBExecutor) error {
	repo.checks.Lock()
	chk, ok := repo.checks.table[id]
	if !ok || chk.UserID != userID {
		repo.checks.Unlock()
		return assessment.ErrCheckNotFound
	}
	delete(repo.checks.table, id)
	repo.checks.Unlock()

	// cascade
	repo.submissions.Lock()
	defer repo.submissions.Unlock()
	repo.evaluations.Lock()
	defer repo.evaluations.Unlock()
	for sid, sub := range repo.submissions.table {
		if sub.CheckID == id {
			delete(repo.submissions.table, sid)
			delete(repo.evaluations.table, sid)
		}
	}
	return nil
}

// Generated tests

func (repo *assessmentRepository) CreateTest(_ context.Context, test assessment.GeneratedTest, _ ...core.DBExecutor) (assessment.GeneratedTest, error) {
	repo.tests.Lock()
	defer repo.tests.Unlock()

	if test.ID == "" {
		test.ID = uuid.New().String()
	}
	repo.tests.table[test.ID] = &test
	return test, nil
}

func (repo *assessmentRepository) GetTest(_ context.Context, id, userID string, _ ...core.DBExecutor) (assessment.GeneratedTest, error) {
	repo.tests.RLock()
	defer repo.tests.RUnlock()

	if test, ok := repo.tests.table[id]; ok && test.UserID == userID {
		return *test, nil
	}
	return assessment.GeneratedTest{}, assessment.ErrTestNotFound
}

func (repo *assessmentRepository) QueryTests(_ context.Context, userID string, _ ...core.DBExecutor) ([]assessment.GeneratedTest, error) {
	repo.tests.RLock()
	defer repo.tests.RUnlock()

	tests := make([]assessment.GeneratedTest, 0)
	for _, test := range repo.tests.table {
		if test.UserID == userID {
			tests = append(tests, *test)
		}
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].CreatedAt.After(tests[j].CreatedAt) })
	return tests, nil
}

func (repo *assessmentRepository) UpdateTest(_ context.Context, test assessment.GeneratedTest, _ ...core.DBExecutor) (assessment.GeneratedTest, error) {
	repo.tests.Lock()
	defer repo.tests.Unlock()

	if orig, ok := repo.tests.table[test.ID]; !ok || orig.UserID != test.UserID {
		return assessment.GeneratedTest{}, assessment.ErrTestNotFound
	}
	repo.tests.table[test.ID] = &test
	return test, nil
}

func (repo *assessmentRepository) DeleteTest(_ context.Context, id, userID string, _ ...core.DBExecutor) error {
	repo.tests.Lock()
	defer repo.tests.Unlock()

	if test, ok := repo.tests.table[id]; !ok || test.UserID != userID {
		return assessment.ErrTestNotFound
	}
	delete(repo.tests.table, id)
	return nil
}

// Submissions

func (repo *assessmentRepository) CreateSubmission(_ context.Context, sub assessment.Submission, _ ...core.DBExecutor) (assessment.Submission, error) {
	repo.submissions.Lock()
	defer repo.submissions.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	repo.submissions.table[sub.ID] = &sub
	return sub, nil
}

func (repo *assessmentRepository) GetSubmission(_ context.Context, id, checkID string, _ ...core.DBExecutor) (assessment.Submission, error) {
	repo.submissions.RLock()
	defer repo.submissions.RUnlock()

	if sub, ok := repo.submissions.table[id]; ok && sub.CheckID == checkID {
		return *sub, nil
	}
	return assessment.Submission{}, assessment.ErrSubmissionNotFound
}

// LockSubmission needs no lock of its own: the in-memory transactor runs one transaction at a time.
func (repo *assessmentRepository) LockSubmission(ctx context.Context, id, checkID string, _ core.DBExecutor) (assessment.Submission, error) {
	return repo.GetSubmission(ctx, id, checkID)
}

func (repo *assessmentRepository) QuerySubmissions(_ context.Context, checkID string, _ ...core.DBExecutor) ([]assessment.Submission, error) {
	repo.submissions.RLock()
	defer repo.submissions.RUnlock()

	subs := make([]assessment.Submission, 0)
	for _, sub := range repo.submissions.table {
		if sub.CheckID == checkID {
			subs = append(subs, *sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.After(subs[j].CreatedAt) })
	return subs, nil
}

func (repo *assessmentRepository) UpdateSubmission(_ context.Context, sub assessment.Submission, _ ...core.DBExecutor) (assessment.Submission, error) {
	repo.submissions.Lock()
	defer repo.submissions.Unlock()

	if _, ok := repo.submissions.table[sub.ID]; !ok {
		return assessment.Submission{}, assessment.ErrSubmissionNotFound
	}
	repo.submissions.table[sub.ID] = &sub
	return sub, nil
}

func (repo *assessmentRepository) DeleteSubmission(_ context.Context, id, checkID string, _ ...core.DBExecutor) error {
	repo.submissions.Lock()
	defer repo.submissions.Unlock()

	if sub, ok := repo.submissions.table[id]; !ok || sub.CheckID != checkID {
		return assessment.ErrSubmissionNotFound
	}
	delete(repo.submissions.table, id)

	repo.evaluations.Lock()
	delete(repo.evaluations.table, id)
	repo.evaluations.Unlock()
	return nil
}

// Evaluations

func (repo *assessmentRepository) SaveEvaluation(_ context.Context, ev assessment.Evaluation, _ ...core.DBExecutor) (assessment.Evaluation, error) {
	repo.evaluations.Lock()
	defer repo.evaluations.Unlock()
	repo.evaluations.table[ev.SubmissionID] = &ev
	return ev, nil
}

func (repo *assessmentRepository) GetEvaluation(_ context.Context, submissionID string, _ ...core.DBExecutor) (assessment.Evaluation, error) {
	repo.evaluations.RLock()
	defer repo.evaluations.RUnlock()

	if ev, ok := repo.evaluations.table[submissionID]; ok {
		return *ev, nil
	}
	return assessment.Evaluation{}, assessment.ErrEvaluationNotFound
}

func (repo *assessmentRepository) QueryEvaluations(_ context.Context, checkID string, _ ...core.DBExecutor) ([]assessment.Evaluation, error) {
	repo.submissions.RLock()
	defer repo.submissions.RUnlock()
	repo.evaluations.RLock()
	defer repo.evaluations.RUnlock()

	evs := make([]assessment.Evaluation, 0)
	for sid, ev := range repo.evaluations.table {
		if sub, ok := repo.submissions.table[sid]; ok && sub.CheckID == checkID {
			evs = append(evs, *ev)
		}
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].CreatedAt.Before(evs[j].CreatedAt) })
	return evs, nil
}
