package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/assessment"
)

const (
	checkColumns      = `id, user_id, title, description, subject, class_name, check_type, variant_count, total_questions, criteria, answer_keys, essay_rubric, generated_test_id, created_at, updated_at`
	testColumns       = `id, user_id, title, subject, questions, created_at, updated_at`
	submissionColumns = `id, check_id, user_id, student_name, student_class, variant_number, answers, content, image_urls, status, error_message, created_at, updated_at`
	evaluationColumns = `submission_id, total_questions, correct_answers, percentage, final_grade, details, comment, confidence, created_at`
)

var checkOrderColumns = map[string]string{
	"title":      "title",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

type checkRow struct {
	ID              string         `db:"id"`
	UserID          string         `db:"user_id"`
	Title           string         `db:"title"`
	Description     string         `db:"description"`
	Subject         string         `db:"subject"`
	ClassName       string         `db:"class_name"`
	CheckType       string         `db:"check_type"`
	VariantCount    int            `db:"variant_count"`
	TotalQuestions  int            `db:"total_questions"`
	Criteria        types.JSONText `db:"criteria"`
	AnswerKeys      types.JSONText `db:"answer_keys"`
	EssayRubric     string         `db:"essay_rubric"`
	GeneratedTestID null.String    `db:"generated_test_id"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

type testRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Title     string         `db:"title"`
	Subject   string         `db:"subject"`
	Questions types.JSONText `db:"questions"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

type submissionRow struct {
	ID            string         `db:"id"`
	CheckID       string         `db:"check_id"`
	UserID        string         `db:"user_id"`
	StudentName   string         `db:"student_name"`
	StudentClass  string         `db:"student_class"`
	VariantNumber int            `db:"variant_number"`
	Answers       types.JSONText `db:"answers"`
	Content       string         `db:"content"`
	ImageURLs     pq.StringArray `db:"image_urls"`
	Status        string         `db:"status"`
	ErrorMessage  null.String    `db:"error_message"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type evaluationRow struct {
	SubmissionID   string         `db:"submission_id"`
	TotalQuestions int            `db:"total_questions"`
	CorrectAnswers int            `db:"correct_answers"`
	Percentage     float64        `db:"percentage"`
	FinalGrade     int            `db:"final_grade"`
	Details        types.JSONText `db:"details"`
	Comment        string         `db:"comment"`
	Confidence     float64        `db:"confidence"`
	CreatedAt      time.Time      `db:"created_at"`
}

// jsonText marshals v, using empty when v marshals to null.
func jsonText(v interface{}, empty string) (types.JSONText, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return types.JSONText(empty), nil
	}
	return b, nil
}

type assessmentRepository struct {
	repository
}

var _ assessment.Repository = (*assessmentRepository)(nil)

func NewAssessmentRepository(exec core.DBExecutor) assessment.Repository {
	return &assessmentRepository{repository{exec: exec}}
}

func validIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

// Checks

func (repo assessmentRepository) toCheckRow(chk assessment.Check) (checkRow, error) {
	criteria, err := jsonText(chk.Criteria, "[]")
	if err != nil {
		return checkRow{}, errors.Wrap(err, "encoding criteria")
	}
	keys, err := jsonText(chk.AnswerKeys, "{}")
	if err != nil {
		return checkRow{}, errors.Wrap(err, "encoding answer keys")
	}
	return checkRow{
		ID:              chk.ID,
		UserID:          chk.UserID,
		Title:           chk.Title,
		Description:     chk.Description,
		Subject:         chk.Subject,
		ClassName:       chk.ClassName,
		CheckType:       chk.CheckType,
		VariantCount:    chk.VariantCount,
		TotalQuestions:  chk.TotalQuestions,
		Criteria:        criteria,
		AnswerKeys:      keys,
		EssayRubric:     chk.EssayRubric,
		GeneratedTestID: optString(chk.GeneratedTestID),
		CreatedAt:       chk.CreatedAt.UTC(),
		UpdatedAt:       chk.UpdatedAt.UTC(),
	}, nil
}

func (repo assessmentRepository) fromCheckRow(row checkRow) (assessment.Check, error) {
	chk := assessment.Check{
		ID:              row.ID,
		UserID:          row.UserID,
		Title:           row.Title,
		Description:     row.Description,
		Subject:         row.Subject,
		ClassName:       row.ClassName,
		CheckType:       row.CheckType,
		VariantCount:    row.VariantCount,
		TotalQuestions:  row.TotalQuestions,
		EssayRubric:     row.EssayRubric,
		GeneratedTestID: row.GeneratedTestID.String,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
	if err := row.Criteria.Unmarshal(&chk.Criteria); err != nil {
		return assessment.Check{}, errors.Wrap(err, "decoding criteria")
	}
	if err := row.AnswerKeys.Unmarshal(&chk.AnswerKeys); err != nil {
		return assessment.Check{}, errors.Wrap(err, "decoding answer keys")
	}
	return chk, nil
}

func (repo assessmentRepository) CreateCheck(ctx context.Context, chk assessment.Check, exec ...core.DBExecutor) (assessment.Check, error) {
	if chk.ID == "" {
		chk.ID = uuid.New().String()
	}
	row, err := repo.toCheckRow(chk)
	if err != nil {
		return assessment.Check{}, err
	}

	var created checkRow
	err = repo.getExec(exec).GetContext(ctx, &created,
		`INSERT INTO checks (`+checkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+checkColumns,
		row.ID, row.UserID, row.Title, row.Description, row.Subject, row.ClassName, row.CheckType, row.VariantCount,
		row.TotalQuestions, row.Criteria, row.AnswerKeys, row.EssayRubric, row.GeneratedTestID, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return assessment.Check{}, errors.Wrap(err, "inserting check")
	}
	return repo.fromCheckRow(created)
}

func (repo assessmentRepository) GetCheck(ctx context.Context, id, userID string, exec ...core.DBExecutor) (assessment.Check, error) {
	if !validIDs(id, userID) {
		return assessment.Check{}, assessment.ErrCheckNotFound
	}

	var row checkRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`SELECT `+checkColumns+` FROM checks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return assessment.Check{}, trapNoRowsErr(err, assessment.ErrCheckNotFound)
	}
	return repo.fromCheckRow(row)
}

func (repo assessmentRepository) QueryChecks(ctx context.Context, userID string, filter *assessment.CheckFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]assessment.Check, error) {
	checks := make([]assessment.Check, 0)
	if !validIDs(userID) {
		return checks, nil
	}

	var w where
	w.add("user_id = ?", userID)
	if filter != nil {
		if filter.CheckType != "" {
			w.add("check_type = ?", filter.CheckType)
		}
		if filter.Search != "" {
			w.add("title ILIKE ?", likePattern(filter.Search))
		}
	}

	ex := repo.getExec(exec)
	query := ex.Rebind(`SELECT ` + checkColumns + ` FROM checks` + w.String() + orderBy(ordering, checkOrderColumns, "created_at DESC"))

	var rows []checkRow
	if err := ex.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying checks")
	}
	for _, row := range rows {
		chk, err := repo.fromCheckRow(row)
		if err != nil {
			return nil, err
		}
		checks = append(checks, chk)
	}
	return checks, nil
}

func (repo assessmentRepository) UpdateCheck(ctx context.Context, chk assessment.Check, exec ...core.DBExecutor) (assessment.Check, error) {
	row, err := repo.toCheckRow(chk)
	if err != nil {
		return assessment.Check{}, err
	}

	var updated checkRow
	err = repo.getExec(exec).GetContext(ctx, &updated,
		`UPDATE checks SET
			title = $3, description = $4, subject = $5, class_name = $6, variant_count = $7, total_questions = $8,
			criteria = $9, answer_keys = $10, essay_rubric = $11, generated_test_id = $12, updated_at = $13
		WHERE id = $1 AND user_id = $2
		RETURNING `+checkColumns,
		row.ID, row.UserID, row.Title, row.Description, row.Subject, row.ClassName, row.VariantCount, row.TotalQuestions,
		row.Criteria, row.AnswerKeys, row.EssayRubric, row.GeneratedTestID, row.UpdatedAt,
	)
	if err != nil {
		return assessment.Check{}, trapNoRowsErr(err, assessment.ErrCheckNotFound)
	}
	return repo.fromCheckRow(updated)
}

func (repo assessmentRepository) deleteOwned(ctx context.Context, table, id, userID string, notFound error, exec []core.DBExecutor) error {
	if !validIDs(id, userID) {
		return notFound
	}
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return errors.Wrapf(err, "deleting from %s", table)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound
	}
	return nil
}

// DeleteCheck also deletes the check's submissions and evaluations (ON DELETE CASCADE).
func (repo assessmentRepository) DeleteCheck(ctx context.Context, id, userID string, exec ...core.DBExecutor) error {
	return repo.deleteOwned(ctx, "checks", id, userID, assessment.ErrCheckNotFound, exec)
}

// Generated tests

func (repo assessmentRepository) fromTestRow(row testRow) (assessment.GeneratedTest, error) {
	test := assessment.GeneratedTest{
		ID:        row.ID,
		UserID:    row.UserID,
		Title:     row.Title,
		Subject:   row.Subject,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if err := row.Questions.Unmarshal(&test.Questions); err != nil {
		return assessment.GeneratedTest{}, errors.Wrap(err, "decoding questions")
	}
	return test, nil
}

func (repo assessmentRepository) CreateTest(ctx context.Context, test assessment.GeneratedTest, exec ...core.DBExecutor) (assessment.GeneratedTest, error) {
	if test.ID == "" {
		test.ID = uuid.New().String()
	}
	questions, err := jsonText(test.Questions, "[]")
	if err != nil {
		return assessment.GeneratedTest{}, errors.Wrap(err, "encoding questions")
	}

	var created testRow
	err = repo.getExec(exec).GetContext(ctx, &created,
		`INSERT INTO generated_tests (`+testColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+testColumns,
		test.ID, test.UserID, test.Title, test.Subject, questions, test.CreatedAt.UTC(), test.UpdatedAt.UTC(),
	)
	if err != nil {
		return assessment.GeneratedTest{}, errors.Wrap(err, "inserting test")
	}
	return repo.fromTestRow(created)
}

func (repo assessmentRepository) GetTest(ctx context.Context, id, userID string, exec ...core.DBExecutor) (assessment.GeneratedTest, error) {
	if !validIDs(id, userID) {
		return assessment.GeneratedTest{}, assessment.ErrTestNotFound
	}

	var row testRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`SELECT `+testColumns+` FROM generated_tests WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return assessment.GeneratedTest{}, trapNoRowsErr(err, assessment.ErrTestNotFound)
	}
	return repo.fromTestRow(row)
}

func (repo assessmentRepository) QueryTests(ctx context.Context, userID string, exec ...core.DBExecutor) ([]assessment.GeneratedTest, error) {
	tests := make([]assessment.GeneratedTest, 0)
	if !validIDs(userID) {
		return tests, nil
	}

	var rows []testRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT `+testColumns+` FROM generated_tests WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying tests")
	}
	for _, row := range rows {
		test, err := repo.fromTestRow(row)
		if err != nil {
			return nil, err
		}
		tests = append(tests, test)
	}
	return tests, nil
}

func (repo assessmentRepository) UpdateTest(ctx context.Context, test assessment.GeneratedTest, exec ...core.DBExecutor) (assessment.GeneratedTest, error) {
	questions, err := jsonText(test.Questions, "[]")
	if err != nil {
		return assessment.GeneratedTest{}, errors.Wrap(err, "encoding questions")
	}

	var updated testRow
	err = repo.getExec(exec).GetContext(ctx, &updated,
		`UPDATE generated_tests SET title = $3, subject = $4, questions = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2
		RETURNING `+testColumns,
		test.ID, test.UserID, test.Title, test.Subject, questions, test.UpdatedAt.UTC(),
	)
	if err != nil {
		return assessment.GeneratedTest{}, trapNoRowsErr(err, assessment.ErrTestNotFound)
	}
	return repo.fromTestRow(updated)
}

func (repo assessmentRepository) DeleteTest(ctx context.Context, id, userID string, exec ...core.DBExecutor) error {
	return repo.deleteOwned(ctx, "generated_tests", id, userID, assessment.ErrTestNotFound, exec)
}

// Submissions

func (repo assessmentRepository) toSubmissionRow(sub assessment.Submission) (submissionRow, error) {
	answers, err := jsonText(sub.Answers, "{}")
	if err != nil {
		return submissionRow{}, errors.Wrap(err, "encoding answers")
	}
	urls := sub.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	return submissionRow{
		ID:            sub.ID,
		CheckID:       sub.CheckID,
		UserID:        sub.UserID,
		StudentName:   sub.StudentName,
		StudentClass:  sub.StudentClass,
		VariantNumber: sub.VariantNumber,
		Answers:       answers,
		Content:       sub.Content,
		ImageURLs:     urls,
		Status:        sub.Status,
		ErrorMessage:  optString(sub.ErrorMessage),
		CreatedAt:     sub.CreatedAt.UTC(),
		UpdatedAt:     sub.UpdatedAt.UTC(),
	}, nil
}

func (repo assessmentRepository) fromSubmissionRow(row submissionRow) (assessment.Submission, error) {
	sub := assessment.Submission{
		ID:            row.ID,
		CheckID:       row.CheckID,
		UserID:        row.UserID,
		StudentName:   row.StudentName,
		StudentClass:  row.StudentClass,
		VariantNumber: row.VariantNumber,
		Content:       row.Content,
		ImageURLs:     []string(row.ImageURLs),
		Status:        row.Status,
		ErrorMessage:  row.ErrorMessage.String,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
	if err := row.Answers.Unmarshal(&sub.Answers); err != nil {
		return assessment.Submission{}, errors.Wrap(err, "decoding answers")
	}
	return sub, nil
}

func (repo assessmentRepository) CreateSubmission(ctx context.Context, sub assessment.Submission, exec ...core.DBExecutor) (assessment.Submission, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	row, err := repo.toSubmissionRow(sub)
	if err != nil {
		return assessment.Submission{}, err
	}

	var created submissionRow
	err = repo.getExec(exec).GetContext(ctx, &created,
		`INSERT INTO student_submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+submissionColumns,
		row.ID, row.CheckID, row.UserID, row.StudentName, row.StudentClass, row.VariantNumber, row.Answers,
		row.Content, row.ImageURLs, row.Status, row.ErrorMessage, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return assessment.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return repo.fromSubmissionRow(created)
}

func (repo assessmentRepository) GetSubmission(ctx context.Context, id, checkID string, exec ...core.DBExecutor) (assessment.Submission, error) {
	if !validIDs(id, checkID) {
		return assessment.Submission{}, assessment.ErrSubmissionNotFound
	}

	var row submissionRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`SELECT `+submissionColumns+` FROM student_submissions WHERE id = $1 AND check_id = $2`, id, checkID)
	if err != nil {
		return assessment.Submission{}, trapNoRowsErr(err, assessment.ErrSubmissionNotFound)
	}
	return repo.fromSubmissionRow(row)
}

func (repo assessmentRepository) LockSubmission(ctx context.Context, id, checkID string, exec core.DBExecutor) (assessment.Submission, error) {
	if !validIDs(id, checkID) {
		return assessment.Submission{}, assessment.ErrSubmissionNotFound
	}

	var row submissionRow
	err := exec.GetContext(ctx, &row,
		`SELECT `+submissionColumns+` FROM student_submissions WHERE id = $1 AND check_id = $2 FOR UPDATE`, id, checkID)
	if err != nil {
		return assessment.Submission{}, trapNoRowsErr(err, assessment.ErrSubmissionNotFound)
	}
	return repo.fromSubmissionRow(row)
}

func (repo assessmentRepository) QuerySubmissions(ctx context.Context, checkID string, exec ...core.DBExecutor) ([]assessment.Submission, error) {
	subs := make([]assessment.Submission, 0)
	if !validIDs(checkID) {
		return subs, nil
	}

	var rows []submissionRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT `+submissionColumns+` FROM student_submissions WHERE check_id = $1 ORDER BY created_at DESC`, checkID)
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	for _, row := range rows {
		sub, err := repo.fromSubmissionRow(row)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (repo assessmentRepository) UpdateSubmission(ctx context.Context, sub assessment.Submission, exec ...core.DBExecutor) (assessment.Submission, error) {
	row, err := repo.toSubmissionRow(sub)
	if err != nil {
		return assessment.Submission{}, err
	}

	var updated submissionRow
	err = repo.getExec(exec).GetContext(ctx, &updated,
		`UPDATE student_submissions SET
			student_name = $3, student_class = $4, variant_number = $5, answers = $6, content = $7,
			image_urls = $8, status = $9, error_message = $10, updated_at = $11
		WHERE id = $1 AND check_id = $2
		RETURNING `+submissionColumns,
		row.ID, row.CheckID, row.StudentName, row.StudentClass, row.VariantNumber, row.Answers, row.Content,
		row.ImageURLs, row.Status, row.ErrorMessage, row.UpdatedAt,
	)
	if err != nil {
		return assessment.Submission{}, trapNoRowsErr(err, assessment.ErrSubmissionNotFound)
	}
	return repo.fromSubmissionRow(updated)
}

func (repo assessmentRepository) DeleteSubmission(ctx context.Context, id, checkID string, exec ...core.DBExecutor) error {
	if !validIDs(id, checkID) {
		return assessment.ErrSubmissionNotFound
	}
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM student_submissions WHERE id = $1 AND check_id = $2`, id, checkID)
	if err != nil {
		return errors.Wrap(err, "deleting submission")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return assessment.ErrSubmissionNotFound
	}
	return nil
}

// Evaluations

func (repo assessmentRepository) fromEvaluationRow(row evaluationRow) (assessment.Evaluation, error) {
	ev := assessment.Evaluation{
		SubmissionID:   row.SubmissionID,
		TotalQuestions: row.TotalQuestions,
		CorrectAnswers: row.CorrectAnswers,
		Percentage:     row.Percentage,
		FinalGrade:     row.FinalGrade,
		Comment:        row.Comment,
		Confidence:     row.Confidence,
		CreatedAt:      row.CreatedAt.UTC(),
	}
	if err := row.Details.Unmarshal(&ev.Details); err != nil {
		return assessment.Evaluation{}, errors.Wrap(err, "decoding details")
	}
	return ev, nil
}

func (repo assessmentRepository) SaveEvaluation(ctx context.Context, ev assessment.Evaluation, exec ...core.DBExecutor) (assessment.Evaluation, error) {
	details, err := jsonText(ev.Details, "[]")
	if err != nil {
		return assessment.Evaluation{}, errors.Wrap(err, "encoding details")
	}

	var saved evaluationRow
	err = repo.getExec(exec).GetContext(ctx, &saved,
		`INSERT INTO evaluations (`+evaluationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (submission_id) DO UPDATE SET
			total_questions = EXCLUDED.total_questions,
			correct_answers = EXCLUDED.correct_answers,
			percentage = EXCLUDED.percentage,
			final_grade = EXCLUDED.final_grade,
			details = EXCLUDED.details,
			comment = EXCLUDED.comment,
			confidence = EXCLUDED.confidence,
			created_at = EXCLUDED.created_at
		RETURNING `+evaluationColumns,
		ev.SubmissionID, ev.TotalQuestions, ev.CorrectAnswers, ev.Percentage, ev.FinalGrade,
		details, ev.Comment, ev.Confidence, ev.CreatedAt.UTC(),
	)
	if err != nil {
		return assessment.Evaluation{}, errors.Wrap(err, "saving evaluation")
	}
	return repo.fromEvaluationRow(saved)
}

func (repo assessmentRepository) GetEvaluation(ctx context.Context, submissionID string, exec ...core.DBExecutor) (assessment.Evaluation, error) {
	if !validIDs(submissionID) {
		return assessment.Evaluation{}, assessment.ErrEvaluationNotFound
	}

	var row evaluationRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE submission_id = $1`, submissionID)
	if err != nil {
		return assessment.Evaluation{}, trapNoRowsErr(err, assessment.ErrEvaluationNotFound)
	}
	return repo.fromEvaluationRow(row)
}

func (repo assessmentRepository) QueryEvaluations(ctx context.Context, checkID string, exec ...core.DBExecutor) ([]assessment.Evaluation, error) {
	evs := make([]assessment.Evaluation, 0)
	if !validIDs(checkID) {
		return evs, nil
	}

	var rows []evaluationRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT e.submission_id, e.total_questions, e.correct_answers, e.percentage, e.final_grade,
			e.details, e.comment, e.confidence, e.created_at
		FROM evaluations e
		JOIN student_submissions s ON s.id = e.submission_id
		WHERE s.check_id = $1
		ORDER BY e.created_at`,
		checkID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}
	for _, row := range rows {
		ev, err := repo.fromEvaluationRow(row)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}
