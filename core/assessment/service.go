package assessment

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/user"
)

var (
	// errors
	ErrCheckNotFound      = core.NewNotFoundError("check not found")
	ErrTestNotFound       = core.NewNotFoundError("test not found")
	ErrSubmissionNotFound = core.NewNotFoundError("submission not found")
	ErrEvaluationNotFound = core.NewNotFoundError("evaluation not found")
	ErrNoGrader           = errors.New("no grader configured")

	errAlreadyProcessing = "submission is already being evaluated"
)

type (
	Repository interface {
		CreateCheck(ctx context.Context, chk Check, exec ...core.DBExecutor) (Check, error)
		// GetCheck returns the check only if it belongs to userID.
		GetCheck(ctx context.Context, id, userID string, exec ...core.DBExecutor) (Check, error)
		QueryChecks(ctx context.Context, userID string, filter *CheckFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Check, error)
		UpdateCheck(ctx context.Context, chk Check, exec ...core.DBExecutor) (Check, error)
		DeleteCheck(ctx context.Context, id, userID string, exec ...core.DBExecutor) error

		CreateTest(ctx context.Context, test GeneratedTest, exec ...core.DBExecutor) (GeneratedTest, error)
		GetTest(ctx context.Context, id, userID string, exec ...core.DBExecutor) (GeneratedTest, error)
		QueryTests(ctx context.Context, userID string, exec ...core.DBExecutor) ([]GeneratedTest, error)
		UpdateTest(ctx context.Context, test GeneratedTest, exec ...core.DBExecutor) (GeneratedTest, error)
		DeleteTest(ctx context.Context, id, userID string, exec ...core.DBExecutor) error

		CreateSubmission(ctx context.Context, sub Submission, exec ...core.DBExecutor) (Submission, error)
		GetSubmission(ctx context.Context, id, checkID string, exec ...core.DBExecutor) (Submission, error)
		// LockSubmission is GetSubmission holding a row lock until exec's transaction ends.
		LockSubmission(ctx context.Context, id, checkID string, exec core.DBExecutor) (Submission, error)
		QuerySubmissions(ctx context.Context, checkID string, exec ...core.DBExecutor) ([]Submission, error)
		UpdateSubmission(ctx context.Context, sub Submission, exec ...core.DBExecutor) (Submission, error)
		DeleteSubmission(ctx context.Context, id, checkID string, exec ...core.DBExecutor) error

		// SaveEvaluation replaces the evaluation of ev.SubmissionID.
		SaveEvaluation(ctx context.Context, ev Evaluation, exec ...core.DBExecutor) (Evaluation, error)
		GetEvaluation(ctx context.Context, submissionID string, exec ...core.DBExecutor) (Evaluation, error)
		QueryEvaluations(ctx context.Context, checkID string, exec ...core.DBExecutor) ([]Evaluation, error)
	}

	// Grader is an LLM backed grading assistant.
	Grader interface {
		RecognizeAnswers(ctx context.Context, imageURLs []string, questionCount int) (map[int]string, float64, error)
		GradeEssay(ctx context.Context, rubric, content string, imageURLs []string, criteria []GradeCriterion) (EssayGrade, error)
	}

	// CreditStore charges evaluations against the user's check balance.
	CreditStore interface {
		ConsumeCredit(ctx context.Context, userID string) (int, error)
		GrantCredits(ctx context.Context, userID string, n int) (int, error)
	}

	// Recorder receives evaluation outcomes, e.g. for metrics.
	Recorder interface {
		ObserveEvaluation(outcome string)
	}

	Service interface {
		CreateCheck(ctx context.Context, usr user.User, nc NewCheck) (Check, error)
		QueryChecks(ctx context.Context, usr user.User, filter *CheckFilter, ordering []core.DBOrdering) ([]Check, error)
		GetCheck(ctx context.Context, usr user.User, id string) (Check, error)
		UpdateCheck(ctx context.Context, usr user.User, id string, uc UpdateCheck) (Check, error)
		DeleteCheck(ctx context.Context, usr user.User, id string) error
		Statistics(ctx context.Context, usr user.User, checkID string) (Statistics, error)

		CreateTest(ctx context.Context, usr user.User, nt NewTest) (GeneratedTest, error)
		QueryTests(ctx context.Context, usr user.User) ([]GeneratedTest, error)
		GetTest(ctx context.Context, usr user.User, id string) (GeneratedTest, error)
		UpdateTest(ctx context.Context, usr user.User, id string, nt NewTest) (GeneratedTest, error)
		DeleteTest(ctx context.Context, usr user.User, id string) error
		CreateCheckFromTest(ctx context.Context, usr user.User, testID string, cft CheckFromTest) (Check, error)

		CreateSubmission(ctx context.Context, usr user.User, checkID string, ns NewSubmission) (Submission, error)
		ListSubmissions(ctx context.Context, usr user.User, checkID string) ([]SubmissionDetail, error)
		GetSubmission(ctx context.Context, usr user.User, checkID, id string) (SubmissionDetail, error)
		DeleteSubmission(ctx context.Context, usr user.User, checkID, id string) error
		Evaluate(ctx context.Context, usr user.User, checkID, id string) (Evaluation, error)
	}

	ServiceDeps struct {
		Tx       core.Transactor
		Repo     Repository
		Credits  CreditStore
		Grader   Grader // optional
		Validate *validator.Validate
		Logger   core.Logger
		Recorder Recorder // optional
	}

	service struct {
		ServiceDeps
	}
)

var _ Service = (*service)(nil)

func NewService(deps ServiceDeps) Service {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &service{ServiceDeps: deps}
}

// Checks

func (svc *service) CreateCheck(ctx context.Context, usr user.User, nc NewCheck) (Check, error) {
	now := time.Now().UTC()
	return svc.Repo.CreateCheck(ctx, Check{
		ID:             uuid.New().String(),
		UserID:         usr.ID,
		Title:          nc.Title,
		Description:    nc.Description,
		Subject:        nc.Subject,
		ClassName:      nc.ClassName,
		CheckType:      nc.CheckType,
		VariantCount:   nc.VariantCount,
		TotalQuestions: nc.TotalQuestions,
		Criteria:       nc.Criteria,
		AnswerKeys:     nc.AnswerKeys,
		EssayRubric:    nc.EssayRubric,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (svc *service) QueryChecks(ctx context.Context, usr user.User, filter *CheckFilter, ordering []core.DBOrdering) ([]Check, error) {
	return svc.Repo.QueryChecks(ctx, usr.ID, filter, ordering)
}

func (svc *service) GetCheck(ctx context.Context, usr user.User, id string) (Check, error) {
	return svc.Repo.GetCheck(ctx, id, usr.ID)
}

func (svc *service) UpdateCheck(ctx context.Context, usr user.User, id string, uc UpdateCheck) (Check, error) {
	var chk Check
	err := svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		orig, err := svc.Repo.GetCheck(ctx, id, usr.ID, exec)
		if err != nil {
			return err
		}
		if chk, err = uc.Apply(orig, svc.Validate); err != nil {
			return err
		}
		chk.UpdatedAt = time.Now().UTC()
		chk, err = svc.Repo.UpdateCheck(ctx, chk, exec)
		return err
	})
	if err != nil {
		return Check{}, err
	}
	return chk, nil
}

func (svc *service) DeleteCheck(ctx context.Context, usr user.User, id string) error {
	return svc.Repo.DeleteCheck(ctx, id, usr.ID)
}

func (svc *service) Statistics(ctx context.Context, usr user.User, checkID string) (Statistics, error) {
	chk, err := svc.Repo.GetCheck(ctx, checkID, usr.ID)
	if err != nil {
		return Statistics{}, err
	}
	subs, err := svc.Repo.QuerySubmissions(ctx, chk.ID)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "querying submissions")
	}
	evs, err := svc.Repo.QueryEvaluations(ctx, chk.ID)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "querying evaluations")
	}

	stats := Statistics{
		CheckID:           chk.ID,
		TotalSubmissions:  len(subs),
		Evaluated:         len(evs),
		GradeDistribution: map[int]int{2: 0, 3: 0, 4: 0, 5: 0},
	}
	if len(evs) == 0 {
		return stats, nil
	}

	var pctSum float64
	var gradeSum int
	for _, ev := range evs {
		pctSum += ev.Percentage
		gradeSum += ev.FinalGrade
		stats.GradeDistribution[ev.FinalGrade]++
	}
	stats.AveragePercentage = round2(pctSum / float64(len(evs)))
	stats.AverageGrade = round2(float64(gradeSum) / float64(len(evs)))
	return stats, nil
}

// Generated tests

func (svc *service) CreateTest(ctx context.Context, usr user.User, nt NewTest) (GeneratedTest, error) {
	now := time.Now().UTC()
	return svc.Repo.CreateTest(ctx, GeneratedTest{
		ID:        uuid.New().String(),
		UserID:    usr.ID,
		Title:     nt.Title,
		Subject:   nt.Subject,
		Questions: withQuestionIDs(nt.Questions),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *service) QueryTests(ctx context.Context, usr user.User) ([]GeneratedTest, error) {
	return svc.Repo.QueryTests(ctx, usr.ID)
}

func (svc *service) GetTest(ctx context.Context, usr user.User, id string) (GeneratedTest, error) {
	return svc.Repo.GetTest(ctx, id, usr.ID)
}

func (svc *service) UpdateTest(ctx context.Context, usr user.User, id string, nt NewTest) (GeneratedTest, error) {
	var test GeneratedTest
	err := svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if test, err = svc.Repo.GetTest(ctx, id, usr.ID, exec); err != nil {
			return err
		}
		test.Title = nt.Title
		test.Subject = nt.Subject
		test.Questions = withQuestionIDs(nt.Questions)
		test.UpdatedAt = time.Now().UTC()
		test, err = svc.Repo.UpdateTest(ctx, test, exec)
		return err
	})
	if err != nil {
		return GeneratedTest{}, err
	}
	return test, nil
}

func (svc *service) DeleteTest(ctx context.Context, usr user.User, id string) error {
	return svc.Repo.DeleteTest(ctx, id, usr.ID)
}

func (svc *service) CreateCheckFromTest(ctx context.Context, usr user.User, testID string, cft CheckFromTest) (Check, error) {
	test, err := svc.Repo.GetTest(ctx, testID, usr.ID)
	if err != nil {
		return Check{}, err
	}

	now := time.Now().UTC()
	return svc.Repo.CreateCheck(ctx, Check{
		ID:              uuid.New().String(),
		UserID:          usr.ID,
		Title:           test.Title,
		Subject:         test.Subject,
		ClassName:       cft.ClassName,
		CheckType:       CheckTypeTest,
		VariantCount:    cft.VariantCount,
		TotalQuestions:  len(test.Questions),
		Criteria:        cft.Criteria,
		AnswerKeys:      BuildAnswerKeys(test, cft.VariantCount),
		GeneratedTestID: test.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

func withQuestionIDs(questions []Question) []Question {
	out := make([]Question, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		out[i] = q
	}
	return out
}

// Submissions

func (svc *service) CreateSubmission(ctx context.Context, usr user.User, checkID string, ns NewSubmission) (Submission, error) {
	chk, err := svc.Repo.GetCheck(ctx, checkID, usr.ID)
	if err != nil {
		return Submission{}, err
	}
	if err = ns.Validate(chk, svc.Validate); err != nil {
		return Submission{}, err
	}

	now := time.Now().UTC()
	return svc.Repo.CreateSubmission(ctx, Submission{
		ID:            uuid.New().String(),
		CheckID:       chk.ID,
		UserID:        usr.ID,
		StudentName:   ns.StudentName,
		StudentClass:  ns.StudentClass,
		VariantNumber: ns.VariantNumber,
		Answers:       ns.Answers,
		Content:       ns.Content,
		ImageURLs:     ns.ImageURLs,
		Status:        SubmissionPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

func (svc *service) ListSubmissions(ctx context.Context, usr user.User, checkID string) ([]SubmissionDetail, error) {
	chk, err := svc.Repo.GetCheck(ctx, checkID, usr.ID)
	if err != nil {
		return nil, err
	}
	subs, err := svc.Repo.QuerySubmissions(ctx, chk.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	evs, err := svc.Repo.QueryEvaluations(ctx, chk.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}

	bySub := make(map[string]Evaluation, len(evs))
	for _, ev := range evs {
		bySub[ev.SubmissionID] = ev
	}
	details := make([]SubmissionDetail, 0, len(subs))
	for _, sub := range subs {
		d := SubmissionDetail{Submission: sub}
		if ev, ok := bySub[sub.ID]; ok {
			ev := ev
			d.Evaluation = &ev
		}
		details = append(details, d)
	}
	return details, nil
}

func (svc *service) GetSubmission(ctx context.Context, usr user.User, checkID, id string) (SubmissionDetail, error) {
	chk, err := svc.Repo.GetCheck(ctx, checkID, usr.ID)
	if err != nil {
		return SubmissionDetail{}, err
	}
	sub, err := svc.Repo.GetSubmission(ctx, id, chk.ID)
	if err != nil {
		return SubmissionDetail{}, err
	}

	d := SubmissionDetail{Submission: sub}
	ev, err := svc.Repo.GetEvaluation(ctx, sub.ID)
	switch {
	case err == nil:
		d.Evaluation = &ev
	case errors.Cause(err) != ErrEvaluationNotFound:
		return SubmissionDetail{}, errors.Wrap(err, "finding evaluation")
	}
	return d, nil
}

func (svc *service) DeleteSubmission(ctx context.Context, usr user.User, checkID, id string) error {
	chk, err := svc.Repo.GetCheck(ctx, checkID, usr.ID)
	if err != nil {
		return err
	}
	return svc.Repo.DeleteSubmission(ctx, id, chk.ID)
}

// Evaluate grades a submission. Each run costs one check credit, refunded when grading fails.
func (svc *service) Evaluate(ctx context.Context, usr user.User, checkID, id string) (Evaluation, error) {
	chk, err := svc.Repo.GetCheck(ctx, checkID, usr.ID)
	if err != nil {
		return Evaluation{}, err
	}

	var (
		sub      Submission
		consumed bool
	)
	err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		if sub, err = svc.Repo.LockSubmission(ctx, id, chk.ID, exec); err != nil {
			return err
		}
		if sub.Status == SubmissionProcessing && time.Since(sub.UpdatedAt) < ProcessingTimeout {
			return core.NewValidationError(nil, core.FieldError{Field: "status", Error: errAlreadyProcessing})
		}
		if _, err = svc.Credits.ConsumeCredit(ctx, usr.ID); err != nil {
			return err
		}
		consumed = true
		sub.Status = SubmissionProcessing
		sub.ErrorMessage = ""
		sub.UpdatedAt = time.Now().UTC()
		sub, err = svc.Repo.UpdateSubmission(ctx, sub, exec)
		return err
	})
	if err != nil {
		if consumed {
			if _, rErr := svc.Credits.GrantCredits(ctx, usr.ID, 1); rErr != nil {
				svc.Logger.Error("refunding check credit", rErr, usr)
			}
		}
		return Evaluation{}, err
	}

	ev, sub, gErr := svc.grade(ctx, chk, sub)
	if gErr != nil {
		svc.evaluationFailed(ctx, usr, sub, gErr)
		return Evaluation{}, errors.Wrap(gErr, "grading submission")
	}

	err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		if ev, err = svc.Repo.SaveEvaluation(ctx, ev, exec); err != nil {
			return errors.Wrap(err, "saving evaluation")
		}
		sub.Status = SubmissionCompleted
		sub.UpdatedAt = time.Now().UTC()
		_, err = svc.Repo.UpdateSubmission(ctx, sub, exec)
		return errors.Wrap(err, "updating submission")
	})
	if err != nil {
		svc.evaluationFailed(ctx, usr, sub, err)
		return Evaluation{}, err
	}
	svc.Recorder.ObserveEvaluation(SubmissionCompleted)
	return ev, nil
}

func (svc *service) grade(ctx context.Context, chk Check, sub Submission) (Evaluation, Submission, error) {
	var ev Evaluation
	switch chk.CheckType {
	case CheckTypeEssay:
		if svc.Grader == nil {
			return ev, sub, ErrNoGrader
		}
		eg, err := svc.Grader.GradeEssay(ctx, chk.EssayRubric, sub.Content, sub.ImageURLs, chk.Criteria)
		if err != nil {
			return ev, sub, errors.Wrap(err, "grading essay")
		}
		ev = Evaluation{
			FinalGrade: eg.Grade,
			Percentage: GradePercentage(chk.Criteria, eg.Grade),
			Comment:    eg.Comment,
			Confidence: eg.Confidence,
		}

	default:
		confidence := 1.0
		if len(sub.Answers) == 0 && len(sub.ImageURLs) > 0 {
			if svc.Grader == nil {
				return ev, sub, ErrNoGrader
			}
			answers, conf, err := svc.Grader.RecognizeAnswers(ctx, sub.ImageURLs, chk.TotalQuestions)
			if err != nil {
				return ev, sub, errors.Wrap(err, "recognizing answers")
			}
			sub.Answers = answers
			confidence = conf
		}
		var err error
		if ev, err = Grade(chk, sub.VariantNumber, sub.Answers); err != nil {
			return ev, sub, err
		}
		ev.Confidence = confidence
	}

	ev.SubmissionID = sub.ID
	ev.CreatedAt = time.Now().UTC()
	return ev, sub, nil
}

func (svc *service) evaluationFailed(ctx context.Context, usr user.User, sub Submission, cause error) {
	svc.Recorder.ObserveEvaluation(SubmissionFailed)

	if _, err := svc.Credits.GrantCredits(ctx, usr.ID, 1); err != nil {
		svc.Logger.Error("refunding check credit", err, usr)
	}
	sub.Status = SubmissionFailed
	sub.ErrorMessage = cause.Error()
	sub.UpdatedAt = time.Now().UTC()
	if _, err := svc.Repo.UpdateSubmission(ctx, sub); err != nil {
		svc.Logger.Error("updating failed submission", err, usr)
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvaluation(string) {}
