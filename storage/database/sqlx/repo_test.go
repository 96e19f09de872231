package sqlxrepos

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/assessment"
	"github.com/lim5max/checklytool/core/billing"
	"github.com/lim5max/checklytool/core/user"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return sqlx.NewDb(db, "postgres"), mock
}

var userCols = []string{"id", "name", "email", "provider", "avatar_url", "is_active", "roles", "password_hash", "check_balance", "created_at", "updated_at", "last_login"}

func TestUserRepository_GetUser(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := NewUserRepository(db)
	id := uuid.New().String()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("by id", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM user_profiles WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(userCols).
				AddRow(id, "Ivan", "ivan@mail.ru", user.ProviderCredentials, nil, nil, "{teacher:}", []byte("hash"), 5, now, now, nil))

		usr, err := repo.GetUser(ctx, user.GetFilter{ID: id})
		require.NoError(t, err)
		assert.Equal(t, "ivan@mail.ru", usr.Email)
		assert.Equal(t, []string{user.RoleTeacher}, usr.Roles)
		assert.True(t, usr.Active())
		assert.Equal(t, 5, usr.CheckBalance)
		assert.True(t, usr.LastLogin.IsZero())
		assert.Empty(t, usr.AvatarURL)
	})

	t.Run("no rows", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM user_profiles WHERE email = \$1`).
			WithArgs("nobody@mail.ru").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetUser(ctx, user.GetFilter{Email: "nobody@mail.ru"})
		assert.Equal(t, user.ErrNotFound, err)
	})

	t.Run("malformed id", func(t *testing.T) {
		_, err := repo.GetUser(ctx, user.GetFilter{ID: "42"})
		assert.Equal(t, user.ErrNotFound, err)
	})
}

func TestUserRepository_QueryUsers(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)
	active := false

	mock.ExpectQuery(`SELECT .+ FROM user_profiles WHERE \(name ILIKE \$1 OR email ILIKE \$2\) AND is_active = false ORDER BY name DESC`).
		WithArgs("%iv\\_an%", "%iv\\_an%").
		WillReturnRows(sqlmock.NewRows(userCols))

	users, err := repo.QueryUsers(context.Background(),
		&user.QueryFilter{Search: "iv_an", IsActive: &active},
		[]core.DBOrdering{{Field: "name"}, {Field: "password_hash; DROP TABLE user_profiles"}},
	)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestUserRepository_AddCheckBalance(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := NewUserRepository(db)
	id := uuid.New().String()

	t.Run("ok", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE user_profiles SET check_balance = check_balance \+ \$2`).
			WithArgs(id, 10).
			WillReturnRows(sqlmock.NewRows([]string{"check_balance"}).AddRow(12))

		balance, err := repo.AddCheckBalance(ctx, id, 10)
		require.NoError(t, err)
		assert.Equal(t, 12, balance)
	})

	t.Run("insufficient", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE user_profiles SET check_balance`).
			WithArgs(id, -1).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT check_balance FROM user_profiles WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"check_balance"}).AddRow(0))

		balance, err := repo.AddCheckBalance(ctx, id, -1)
		assert.Equal(t, user.ErrInsufficientCredits, err)
		assert.Equal(t, 0, balance)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE user_profiles SET check_balance`).
			WithArgs(id, -1).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT check_balance FROM user_profiles`).
			WithArgs(id).
			WillReturnError(sql.ErrNoRows)

		_, err := repo.AddCheckBalance(ctx, id, -1)
		assert.Equal(t, user.ErrNotFound, err)
	})
}

func TestUserRepository_DeleteUsersByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)

	require.NoError(t, repo.DeleteUsersByID(context.Background(), nil))

	mock.ExpectExec(`DELETE FROM user_profiles WHERE id = ANY\(\$1::uuid\[\]\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, repo.DeleteUsersByID(context.Background(), []string{uuid.New().String(), uuid.New().String()}))
}

var orderCols = []string{"id", "user_id", "plan_id", "order_id", "payment_id", "amount", "status", "is_recurrent", "parent_order_id", "rebill_id", "payment_url", "error_code", "message", "created_at", "updated_at"}

func TestBillingRepository_GetOrder(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := NewBillingRepository(db)
	now := time.Now().UTC()

	t.Run("for update", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM payment_orders WHERE order_id = \$1 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`).
			WithArgs("checkly-1").
			WillReturnRows(sqlmock.NewRows(orderCols).AddRow(
				uuid.New().String(), uuid.New().String(), uuid.New().String(), "checkly-1", "1001", 29900,
				billing.StatusPaid, true, nil, "rebill-1", nil, nil, nil, now, now,
			))

		order, err := repo.GetOrder(ctx, billing.OrderFilter{OrderID: "checkly-1", ForUpdate: true})
		require.NoError(t, err)
		assert.Equal(t, "1001", order.PaymentID)
		assert.Equal(t, "rebill-1", order.RebillID)
		assert.Empty(t, order.ParentOrderID)
		assert.Equal(t, int64(29900), order.Amount)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM payment_orders WHERE order_id = \$1 AND status = \$2`).
			WithArgs("checkly-2", billing.StatusPending).
			WillReturnRows(sqlmock.NewRows(orderCols))

		_, err := repo.GetOrder(ctx, billing.OrderFilter{OrderID: "checkly-2", Status: billing.StatusPending})
		assert.Equal(t, billing.ErrOrderNotFound, err)
	})

	t.Run("malformed id", func(t *testing.T) {
		_, err := repo.GetOrder(ctx, billing.OrderFilter{ID: "nope"})
		assert.Equal(t, billing.ErrOrderNotFound, err)
	})
}

func TestBillingRepository_ListDueSubscriptions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBillingRepository(db)
	now := time.Now().UTC()
	userID := uuid.New().String()

	mock.ExpectQuery(`SELECT .+ FROM subscriptions\s+WHERE status = \$1 AND auto_renew`).
		WithArgs(billing.SubscriptionActive, now).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "plan_id", "status", "expires_at", "auto_renew", "rebill_id", "customer_key", "parent_order_id", "created_at", "updated_at"}).
			AddRow(userID, uuid.New().String(), billing.SubscriptionActive, now.Add(-time.Hour), true, "rebill-1", userID, "checkly-1", now, now))

	subs, err := repo.ListDueSubscriptions(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "rebill-1", subs[0].RebillID)
	assert.Equal(t, "checkly-1", subs[0].ParentOrderID)
}

func TestBillingRepository_GetPlan(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBillingRepository(db)
	id := uuid.New().String()

	mock.ExpectQuery(`SELECT .+ FROM subscription_plans WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetPlan(context.Background(), id)
	assert.Equal(t, billing.ErrPlanNotFound, err)
}

var checkCols = []string{"id", "user_id", "title", "description", "subject", "class_name", "check_type", "variant_count", "total_questions", "criteria", "answer_keys", "essay_rubric", "generated_test_id", "created_at", "updated_at"}

func TestAssessmentRepository_GetCheck(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := NewAssessmentRepository(db)
	id, userID := uuid.New().String(), uuid.New().String()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM checks WHERE id = \$1 AND user_id = \$2`).
		WithArgs(id, userID).
		WillReturnRows(sqlmock.NewRows(checkCols).AddRow(
			id, userID, "Fractions", "", "math", "5A", assessment.CheckTypeTest, 2, 2,
			[]byte(`[{"grade":5,"min_percentage":85},{"grade":2,"min_percentage":0}]`),
			[]byte(`{"1":{"1":{"value":"a"},"2":{"value":"1,3","type":"multiple"}},"2":{"1":{"value":"b"}}}`),
			"", nil, now, now,
		))

	chk, err := repo.GetCheck(ctx, id, userID)
	require.NoError(t, err)
	require.Len(t, chk.Criteria, 2)
	assert.Equal(t, 5, chk.Criteria[0].Grade)
	assert.Equal(t, "a", chk.AnswerKeys[1][1].Value)
	assert.Equal(t, assessment.QuestionMultiple, chk.AnswerKeys[1][2].Type)
	assert.Equal(t, "b", chk.AnswerKeys[2][1].Value)
	assert.Empty(t, chk.GeneratedTestID)

	_, err = repo.GetCheck(ctx, "x", userID)
	assert.Equal(t, assessment.ErrCheckNotFound, err)
}

func TestAssessmentRepository_DeleteCheck(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAssessmentRepository(db)
	id, userID := uuid.New().String(), uuid.New().String()

	mock.ExpectExec(`DELETE FROM checks WHERE id = \$1 AND user_id = \$2`).
		WithArgs(id, userID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteCheck(context.Background(), id, userID)
	assert.Equal(t, assessment.ErrCheckNotFound, err)
}

func TestAssessmentRepository_LockSubmission(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	repo := NewAssessmentRepository(db)
	id, checkID := uuid.New().String(), uuid.New().String()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM student_submissions WHERE id = \$1 AND check_id = \$2 FOR UPDATE`).
		WithArgs(id, checkID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "check_id", "user_id", "student_name", "student_class", "variant_number", "answers", "content", "image_urls", "status", "error_message", "created_at", "updated_at"}).
			AddRow(id, checkID, uuid.New().String(), "Masha", "5A", 1, []byte(`{"1":"a"}`), "", "{}", assessment.SubmissionPending, nil, now, now))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	sub, err := repo.LockSubmission(ctx, id, checkID, tx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, "Masha", sub.StudentName)
	assert.Equal(t, "a", sub.Answers[1])
	assert.Equal(t, assessment.SubmissionPending, sub.Status)

	_, err = repo.LockSubmission(ctx, "x", checkID, db)
	assert.Equal(t, assessment.ErrSubmissionNotFound, err)
}

func TestAssessmentRepository_SaveEvaluation(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAssessmentRepository(db)
	subID := uuid.New().String()
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO evaluations .+ ON CONFLICT \(submission_id\) DO UPDATE`).
		WithArgs(subID, 0, 0, float64(70), 4, []byte("[]"), "good", 0.9, now).
		WillReturnRows(sqlmock.NewRows([]string{"submission_id", "total_questions", "correct_answers", "percentage", "final_grade", "details", "comment", "confidence", "created_at"}).
			AddRow(subID, 0, 0, 70.0, 4, []byte("[]"), "good", 0.9, now))

	ev, err := repo.SaveEvaluation(context.Background(), assessment.Evaluation{
		SubmissionID: subID,
		Percentage:   70,
		FinalGrade:   4,
		Comment:      "good",
		Confidence:   0.9,
		CreatedAt:    now,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, ev.FinalGrade)
	assert.Empty(t, ev.Details)
}

func TestTrapNoRowsErr(t *testing.T) {
	assert.Equal(t, user.ErrNotFound, trapNoRowsErr(errors.Wrap(sql.ErrNoRows, "get"), user.ErrNotFound))
	other := errors.New("boom")
	assert.Equal(t, other, trapNoRowsErr(other, user.ErrNotFound))
}
