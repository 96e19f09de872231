package assessment_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/assessment"
	"github.com/lim5max/checklytool/core/billing"
	"github.com/lim5max/checklytool/core/user"
	emailsvc "github.com/lim5max/checklytool/services/email"
	inmemdb "github.com/lim5max/checklytool/storage/database/inmem"
	testutil "github.com/lim5max/checklytool/tests"
)

type fakeGrader struct {
	answers    map[int]string
	confidence float64
	essay      assessment.EssayGrade
	err        error
	calls      int
}

func (g *fakeGrader) RecognizeAnswers(context.Context, []string, int) (map[int]string, float64, error) {
	g.calls++
	return g.answers, g.confidence, g.err
}

func (g *fakeGrader) GradeEssay(context.Context, string, string, []string, []assessment.GradeCriterion) (assessment.EssayGrade, error) {
	g.calls++
	return g.essay, g.err
}

type recorder struct {
	outcomes []string
}

func (r *recorder) ObserveEvaluation(outcome string) { r.outcomes = append(r.outcomes, outcome) }

type fixture struct {
	usrRepo  user.Repository
	repo     assessment.Repository
	grader   *fakeGrader
	recorder *recorder
	svc      assessment.Service
	usr      user.User
}

func setup(t *testing.T) fixture {
	conf := core.NewTestConfig()
	validate, translator := core.NewValidator()
	assessment.InitValidators(validate, translator)

	db := inmemdb.Open()
	tx := inmemdb.NewTransactor(db)
	f := fixture{
		usrRepo:  inmemdb.NewUserRepository(db),
		repo:     inmemdb.NewAssessmentRepository(db),
		grader:   &fakeGrader{confidence: 0.9},
		recorder: &recorder{},
	}
	credits := billing.NewService(billing.ServiceDeps{
		Tx:       tx,
		Repo:     inmemdb.NewBillingRepository(db),
		UserRepo: f.usrRepo,
		Gateway:  testutil.NewFakeGateway(),
		MailSvc:  emailsvc.NewConsoleServiceMock(conf),
		Logger:   testutil.NewLogger(),
		Conf:     conf,
	})
	f.svc = assessment.NewService(assessment.ServiceDeps{
		Tx:       tx,
		Repo:     f.repo,
		Credits:  credits,
		Grader:   f.grader,
		Validate: validate,
		Logger:   testutil.NewLogger(),
		Recorder: f.recorder,
	})
	f.usr = testutil.CreateUser(t, f.usrRepo, "Olga Ivanova", "olga@test.test", "", []string{user.RoleTeacher}, true)
	testutil.GiveCredits(t, f.usrRepo, f.usr, 2)
	return f
}

func (f fixture) balance(t *testing.T) int {
	usr, err := f.usrRepo.GetUser(context.Background(), user.GetFilter{ID: f.usr.ID})
	require.NoError(t, err)
	return usr.CheckBalance
}

func (f fixture) createTestCheck(t *testing.T) assessment.Check {
	chk, err := f.svc.CreateCheck(context.Background(), f.usr, assessment.NewCheck{
		Title:          "Fractions",
		CheckType:      assessment.CheckTypeTest,
		VariantCount:   2,
		TotalQuestions: 4,
		Criteria:       assessment.DefaultCriteria,
		AnswerKeys: assessment.AnswerKeys{
			1: {1: {Value: "1"}, 2: {Value: "2"}, 3: {Value: "3"}, 4: {Value: "4"}},
			2: {1: {Value: "4"}, 2: {Value: "3"}, 3: {Value: "2"}, 4: {Value: "1"}},
		},
	})
	require.NoError(t, err)
	return chk
}

func TestCheckOwnership(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	chk := f.createTestCheck(t)

	other := testutil.CreateUser(t, f.usrRepo, "Petr", "petr@test.test", "", []string{user.RoleTeacher}, true)
	_, err := f.svc.GetCheck(ctx, other, chk.ID)
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(f.svc.DeleteCheck(ctx, other, chk.ID)))

	checks, err := f.svc.QueryChecks(ctx, other, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, checks)

	checks, err = f.svc.QueryChecks(ctx, f.usr, &assessment.CheckFilter{Search: "fract"}, nil)
	require.NoError(t, err)
	assert.Len(t, checks, 1)
}

func TestUpdateCheck(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	chk := f.createTestCheck(t)

	title := "Decimals"
	got, err := f.svc.UpdateCheck(ctx, f.usr, chk.ID, assessment.UpdateCheck{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Decimals", got.Title)
	assert.Len(t, got.AnswerKeys, 2)

	// shrinking the variant count orphans the second answer key
	one := 1
	_, err = f.svc.UpdateCheck(ctx, f.usr, chk.ID, assessment.UpdateCheck{VariantCount: &one})
	require.Error(t, err)
	_, ok := errors.Cause(err).(*core.ValidationError)
	assert.True(t, ok)
}

func TestCreateSubmission(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	chk := f.createTestCheck(t)

	_, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{VariantNumber: 3, Answers: map[int]string{1: "1"}})
	require.Error(t, err)

	_, err = f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{StudentName: "Masha"})
	require.Error(t, err)

	sub, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{StudentName: " Masha ", Answers: map[int]string{1: "1"}})
	require.NoError(t, err)
	assert.Equal(t, "Masha", sub.StudentName)
	assert.Equal(t, 1, sub.VariantNumber)
	assert.Equal(t, assessment.SubmissionPending, sub.Status)
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("answers", func(t *testing.T) {
		f := setup(t)
		chk := f.createTestCheck(t)
		sub, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{
			VariantNumber: 2,
			Answers:       map[int]string{1: "4", 2: "3", 3: "2", 4: "2"},
		})
		require.NoError(t, err)

		ev, err := f.svc.Evaluate(ctx, f.usr, chk.ID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 75.0, ev.Percentage)
		assert.Equal(t, 4, ev.FinalGrade)
		assert.Equal(t, 1, f.balance(t))
		assert.Zero(t, f.grader.calls)

		detail, err := f.svc.GetSubmission(ctx, f.usr, chk.ID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, assessment.SubmissionCompleted, detail.Status)
		require.NotNil(t, detail.Evaluation)
		assert.Equal(t, 3, detail.Evaluation.CorrectAnswers)
		assert.Equal(t, []string{assessment.SubmissionCompleted}, f.recorder.outcomes)
	})

	t.Run("recognized from images", func(t *testing.T) {
		f := setup(t)
		chk := f.createTestCheck(t)
		f.grader.answers = map[int]string{1: "1", 2: "2", 3: "3", 4: "4"}
		sub, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{ImageURLs: []string{"https://img.test/1.jpg"}})
		require.NoError(t, err)

		ev, err := f.svc.Evaluate(ctx, f.usr, chk.ID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 100.0, ev.Percentage)
		assert.Equal(t, 5, ev.FinalGrade)
		assert.Equal(t, 0.9, ev.Confidence)
		assert.Equal(t, 1, f.grader.calls)
	})

	t.Run("essay", func(t *testing.T) {
		f := setup(t)
		chk, err := f.svc.CreateCheck(ctx, f.usr, assessment.NewCheck{
			Title:        "My summer",
			CheckType:    assessment.CheckTypeEssay,
			VariantCount: 1,
			EssayRubric:  "structure, grammar",
		})
		require.NoError(t, err)
		f.grader.essay = assessment.EssayGrade{Grade: 4, Comment: "good", Confidence: 0.8}
		sub, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{Content: "Summer was ..."})
		require.NoError(t, err)

		ev, err := f.svc.Evaluate(ctx, f.usr, chk.ID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, ev.FinalGrade)
		assert.Equal(t, 70.0, ev.Percentage)
		assert.Equal(t, "good", ev.Comment)
	})

	t.Run("grader failure refunds", func(t *testing.T) {
		f := setup(t)
		chk := f.createTestCheck(t)
		f.grader.err = errors.New("model overloaded")
		sub, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{ImageURLs: []string{"https://img.test/1.jpg"}})
		require.NoError(t, err)

		_, err = f.svc.Evaluate(ctx, f.usr, chk.ID, sub.ID)
		require.Error(t, err)
		assert.Equal(t, 2, f.balance(t))

		detail, err := f.svc.GetSubmission(ctx, f.usr, chk.ID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, assessment.SubmissionFailed, detail.Status)
		assert.Contains(t, detail.ErrorMessage, "model overloaded")
		assert.Nil(t, detail.Evaluation)
		assert.Equal(t, []string{assessment.SubmissionFailed}, f.recorder.outcomes)
	})

	t.Run("already processing", func(t *testing.T) {
		f := setup(t)
		chk := f.createTestCheck(t)
		sub, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{Answers: map[int]string{1: "1"}})
		require.NoError(t, err)

		sub.Status = assessment.SubmissionProcessing
		sub.UpdatedAt = time.Now().UTC()
		sub, err = f.repo.UpdateSubmission(ctx, sub)
		require.NoError(t, err)

		_, err = f.svc.Evaluate(ctx, f.usr, chk.ID, sub.ID)
		require.Error(t, err)
		_, ok := errors.Cause(err).(*core.ValidationError)
		assert.True(t, ok)
		assert.Equal(t, 2, f.balance(t))

		// a run that never finished does not block the submission forever
		sub.UpdatedAt = time.Now().UTC().Add(-assessment.ProcessingTimeout - time.Minute)
		_, err = f.repo.UpdateSubmission(ctx, sub)
		require.NoError(t, err)

		ev, err := f.svc.Evaluate(ctx, f.usr, chk.ID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 25.0, ev.Percentage)
		assert.Equal(t, 1, f.balance(t))
	})

	t.Run("no credits", func(t *testing.T) {
		f := setup(t)
		chk := f.createTestCheck(t)
		testutil.GiveCredits(t, f.usrRepo, f.usr, 0)
		sub, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{Answers: map[int]string{1: "1"}})
		require.NoError(t, err)

		_, err = f.svc.Evaluate(ctx, f.usr, chk.ID, sub.ID)
		assert.Equal(t, billing.ErrInsufficientCredits, errors.Cause(err))

		detail, err := f.svc.GetSubmission(ctx, f.usr, chk.ID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, assessment.SubmissionPending, detail.Status)
	})

	t.Run("re-evaluation replaces", func(t *testing.T) {
		f := setup(t)
		chk := f.createTestCheck(t)
		sub, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{Answers: map[int]string{1: "1"}})
		require.NoError(t, err)

		_, err = f.svc.Evaluate(ctx, f.usr, chk.ID, sub.ID)
		require.NoError(t, err)
		_, err = f.svc.Evaluate(ctx, f.usr, chk.ID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, f.balance(t))

		stats, err := f.svc.Statistics(ctx, f.usr, chk.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Evaluated)
	})
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	testutil.GiveCredits(t, f.usrRepo, f.usr, 10)
	chk := f.createTestCheck(t)

	for _, answers := range []map[int]string{
		{1: "1", 2: "2", 3: "3", 4: "4"}, // 100
		{1: "1", 2: "2", 3: "3"},         // 75
		{1: "1"},                         // 25
	} {
		sub, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{Answers: answers})
		require.NoError(t, err)
		_, err = f.svc.Evaluate(ctx, f.usr, chk.ID, sub.ID)
		require.NoError(t, err)
	}
	_, err := f.svc.CreateSubmission(ctx, f.usr, chk.ID, assessment.NewSubmission{Answers: map[int]string{1: "2"}})
	require.NoError(t, err)

	stats, err := f.svc.Statistics(ctx, f.usr, chk.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalSubmissions)
	assert.Equal(t, 3, stats.Evaluated)
	assert.Equal(t, 66.67, stats.AveragePercentage)
	assert.Equal(t, 3.67, stats.AverageGrade)
	assert.Equal(t, map[int]int{2: 1, 3: 0, 4: 1, 5: 1}, stats.GradeDistribution)
}

func TestCreateCheckFromTest(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	test, err := f.svc.CreateTest(ctx, f.usr, assessment.NewTest{
		Title: "Geography",
		Questions: []assessment.Question{
			{Text: "Capital of Russia", Type: assessment.QuestionSingle, Options: []string{"Kazan", "Moscow"}, Correct: []string{"Moscow"}},
			{Text: "Longest river", Type: assessment.QuestionText, Correct: []string{"Lena"}},
		},
	})
	require.NoError(t, err)
	for _, q := range test.Questions {
		assert.NotEmpty(t, q.ID)
	}

	chk, err := f.svc.CreateCheckFromTest(ctx, f.usr, test.ID, assessment.CheckFromTest{VariantCount: 2})
	require.NoError(t, err)
	assert.Equal(t, assessment.CheckTypeTest, chk.CheckType)
	assert.Equal(t, 2, chk.TotalQuestions)
	assert.Equal(t, test.ID, chk.GeneratedTestID)
	assert.Len(t, chk.AnswerKeys, 2)
	assert.Equal(t, "2", chk.AnswerKeys[1][1].Value)

	other := testutil.CreateUser(t, f.usrRepo, "Petr", "petr@test.test", "", nil, true)
	_, err = f.svc.CreateCheckFromTest(ctx, other, test.ID, assessment.CheckFromTest{VariantCount: 1})
	assert.True(t, core.IsNotFound(err))
}
