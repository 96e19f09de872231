package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lim5max/checklytool/core/assessment"
	"github.com/lim5max/checklytool/core/user"
	testutil "github.com/lim5max/checklytool/tests"
)

const newCheckBody = `{
	"title": "Fractions",
	"subject": "Math",
	"check_type": "test",
	"variant_count": 1,
	"total_questions": 2,
	"answer_keys": {"1": {"1": {"value": "a"}, "2": {"value": "b"}}}
}`

func TestChecks(t *testing.T) {
	app := setup(t)
	anna := testutil.CreateUser(t, app.usrRepo, "Anna", "anna@test.test", strongPwd, []string{user.RoleTeacher}, true)
	boris := testutil.CreateUser(t, app.usrRepo, "Boris", "boris@test.test", strongPwd, []string{user.RoleTeacher}, true)
	annaToken, borisToken := getToken(t, anna), getToken(t, boris)

	app.run(t, []httpTest{
		{
			name:     "no token",
			path:     "/api/checks",
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, errMissingToken),
		},
		{
			name:     "invalid check type",
			method:   http.MethodPost,
			path:     "/api/checks",
			body:     []byte(`{"title":"Fractions","check_type":"quiz"}`),
			token:    annaToken,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "answer key out of range",
			method:   http.MethodPost,
			path:     "/api/checks",
			body:     []byte(`{"title":"Fractions","check_type":"test","variant_count":1,"answer_keys":{"2":{"1":{"value":"a"}}}}`),
			token:    annaToken,
			wantCode: http.StatusBadRequest,
		},
	})

	rec := app.do(http.MethodPost, "/api/checks", annaToken, []byte(newCheckBody))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var chk assessment.Check
	decode(t, rec, &chk)
	assert.Equal(t, anna.ID, chk.UserID)
	assert.Equal(t, assessment.CheckTypeTest, chk.CheckType)
	assert.Len(t, chk.Criteria, len(assessment.DefaultCriteria))
	assert.Equal(t, "b", chk.AnswerKeys[1][2].Value)

	t.Run("other user", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/checks/"+chk.ID, borisToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = app.do(http.MethodDelete, "/api/checks/"+chk.ID, borisToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = app.do(http.MethodGet, "/api/checks", borisToken)
		require.Equal(t, http.StatusOK, rec.Code)
		var checks []assessment.Check
		decode(t, rec, &checks)
		assert.Empty(t, checks)
	})

	t.Run("query", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/checks?search=fract&check_type=TEST", annaToken)
		require.Equal(t, http.StatusOK, rec.Code)
		var checks []assessment.Check
		decode(t, rec, &checks)
		require.Len(t, checks, 1)
		assert.Equal(t, chk.ID, checks[0].ID)
	})

	t.Run("update", func(t *testing.T) {
		rec := app.do(http.MethodPut, "/api/checks/"+chk.ID, annaToken, []byte(`{"title":"Decimals"}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got assessment.Check
		decode(t, rec, &got)
		assert.Equal(t, "Decimals", got.Title)
		assert.Len(t, got.AnswerKeys, 1)

		rec = app.do(http.MethodPut, "/api/checks/"+chk.ID, annaToken, []byte(`{"title":"  "}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := app.do(http.MethodDelete, "/api/checks/"+chk.ID, annaToken)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = app.do(http.MethodGet, "/api/checks/"+chk.ID, annaToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestEvaluateSubmission(t *testing.T) {
	app := setup(t)
	anna := testutil.CreateUser(t, app.usrRepo, "Anna", "anna@test.test", strongPwd, []string{user.RoleTeacher}, true)
	annaToken := getToken(t, anna)

	rec := app.do(http.MethodPost, "/api/checks", annaToken, []byte(newCheckBody))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var chk assessment.Check
	decode(t, rec, &chk)
	subsPath := "/api/checks/" + chk.ID + "/submissions"

	app.run(t, []httpTest{
		{
			name:     "variant out of range",
			method:   http.MethodPost,
			path:     subsPath,
			body:     []byte(`{"variant_number":2,"answers":{"1":"a"}}`),
			token:    annaToken,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "nothing to grade",
			method:   http.MethodPost,
			path:     subsPath,
			body:     []byte(`{"student_name":"Masha"}`),
			token:    annaToken,
			wantCode: http.StatusBadRequest,
		},
	})

	rec = app.do(http.MethodPost, subsPath, annaToken, []byte(`{"student_name":"Masha","answers":{"1":"a","2":"c"}}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub assessment.Submission
	decode(t, rec, &sub)
	assert.Equal(t, assessment.SubmissionPending, sub.Status)
	evalPath := subsPath + "/" + sub.ID + "/evaluate"

	t.Run("without credits", func(t *testing.T) {
		rec := app.do(http.MethodPost, evalPath, annaToken)
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	})

	testutil.GiveCredits(t, app.usrRepo, anna, 1)
	rec = app.do(http.MethodPost, evalPath, annaToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ev assessment.Evaluation
	decode(t, rec, &ev)
	assert.Equal(t, sub.ID, ev.SubmissionID)
	assert.Equal(t, 2, ev.TotalQuestions)
	assert.Equal(t, 1, ev.CorrectAnswers)
	assert.Equal(t, 50.0, ev.Percentage)
	assert.Equal(t, 3, ev.FinalGrade)

	rec = app.do(http.MethodGet, "/api/users/me/credits", annaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"check_balance":0}`, rec.Body.String())

	rec = app.do(http.MethodGet, subsPath+"/"+sub.ID, annaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail assessment.SubmissionDetail
	decode(t, rec, &detail)
	assert.Equal(t, assessment.SubmissionCompleted, detail.Status)
	require.NotNil(t, detail.Evaluation)
	assert.Equal(t, 3, detail.Evaluation.FinalGrade)

	rec = app.do(http.MethodGet, subsPath, annaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var details []assessment.SubmissionDetail
	decode(t, rec, &details)
	assert.Len(t, details, 1)

	rec = app.do(http.MethodGet, "/api/checks/"+chk.ID+"/statistics", annaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats assessment.Statistics
	decode(t, rec, &stats)
	assert.Equal(t, 1, stats.TotalSubmissions)
	assert.Equal(t, 1, stats.Evaluated)
	assert.Equal(t, 50.0, stats.AveragePercentage)
	assert.Equal(t, 1, stats.GradeDistribution[3])

	rec = app.do(http.MethodDelete, subsPath+"/"+sub.ID, annaToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = app.do(http.MethodGet, subsPath+"/"+sub.ID, annaToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGeneratedTests(t *testing.T) {
	app := setup(t)
	anna := testutil.CreateUser(t, app.usrRepo, "Anna", "anna@test.test", strongPwd, []string{user.RoleTeacher}, true)
	boris := testutil.CreateUser(t, app.usrRepo, "Boris", "boris@test.test", strongPwd, []string{user.RoleTeacher}, true)
	annaToken := getToken(t, anna)

	body := []byte(`{
		"title": "Capitals",
		"subject": "Geography",
		"questions": [
			{"text": "Capital of France?", "type": "single", "options": ["Paris", "Rome"], "correct": ["Paris"], "points": 1},
			{"text": "Capital of Italy?", "type": "single", "options": ["Paris", "Rome"], "correct": ["Rome"], "points": 1}
		]
	}`)

	app.run(t, []httpTest{
		{
			name:     "no questions",
			method:   http.MethodPost,
			path:     "/api/tests",
			body:     []byte(`{"title":"Capitals","questions":[]}`),
			token:    annaToken,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown question type",
			method:   http.MethodPost,
			path:     "/api/tests",
			body:     []byte(`{"title":"Capitals","questions":[{"text":"?","type":"essay","correct":["x"]}]}`),
			token:    annaToken,
			wantCode: http.StatusBadRequest,
		},
	})

	rec := app.do(http.MethodPost, "/api/tests", annaToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var test assessment.GeneratedTest
	decode(t, rec, &test)
	require.Len(t, test.Questions, 2)

	rec = app.do(http.MethodGet, "/api/tests/"+test.ID, getToken(t, boris))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(http.MethodGet, "/api/tests", annaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var tests []assessment.GeneratedTest
	decode(t, rec, &tests)
	assert.Len(t, tests, 1)

	rec = app.do(http.MethodPost, "/api/tests/"+test.ID+"/checks", annaToken, []byte(`{"class_name":"7A"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var chk assessment.Check
	decode(t, rec, &chk)
	assert.Equal(t, test.ID, chk.GeneratedTestID)
	assert.Equal(t, "7A", chk.ClassName)
	assert.Equal(t, 2, chk.TotalQuestions)
	assert.NotEmpty(t, chk.AnswerKeys[1])

	rec = app.do(http.MethodDelete, "/api/tests/"+test.ID, annaToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = app.do(http.MethodGet, "/api/tests/"+test.ID, annaToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
