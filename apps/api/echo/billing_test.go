package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lim5max/checklytool/core/billing"
	"github.com/lim5max/checklytool/core/user"
	testutil "github.com/lim5max/checklytool/tests"
)

func TestPlans(t *testing.T) {
	app := setup(t)
	testutil.CreatePlan(t, app.billRepo, "monthly", 29900, 100, 30)

	rec := app.do(http.MethodGet, "/api/subscription-plans", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var plans []billing.Plan
	decode(t, rec, &plans)
	require.Len(t, plans, 1)
	assert.Equal(t, "monthly", plans[0].Name)
	assert.EqualValues(t, 29900, plans[0].Price)
}

func TestPaymentFlow(t *testing.T) {
	ctx := context.Background()
	app := setup(t)
	plan := testutil.CreatePlan(t, app.billRepo, "monthly", 29900, 100, 30)
	anna := testutil.CreateUser(t, app.usrRepo, "Anna", "anna@test.test", strongPwd, []string{user.RoleTeacher}, true)
	boris := testutil.CreateUser(t, app.usrRepo, "Boris", "boris@test.test", strongPwd, []string{user.RoleTeacher}, true)
	annaToken := getToken(t, anna)

	app.run(t, []httpTest{
		{
			name:     "no subscription yet",
			path:     "/api/subscription",
			token:    annaToken,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "unknown plan",
			method:   http.MethodPost,
			path:     "/api/payment/create",
			body:     []byte(`{"plan_id":"nope"}`),
			token:    annaToken,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing plan",
			method:   http.MethodPost,
			path:     "/api/payment/create",
			body:     []byte(`{}`),
			token:    annaToken,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "create without token",
			method:   http.MethodPost,
			path:     "/api/payment/create",
			body:     []byte(`{"plan_id":"` + plan.ID + `"}`),
			wantCode: http.StatusUnauthorized,
		},
	})

	rec := app.do(http.MethodPost, "/api/payment/create", annaToken, []byte(`{"plan_id":"`+plan.ID+`"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order billing.Order
	decode(t, rec, &order)
	assert.Equal(t, billing.StatusPending, order.Status)
	assert.EqualValues(t, 29900, order.Amount)
	assert.NotEmpty(t, order.PaymentURL)
	require.Len(t, app.gw.Inits, 1)

	t.Run("order of another user", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/payment/orders/"+order.OrderID, getToken(t, boris))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("webhook with a bad token", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/api/payment/webhook", "", []byte(`{"OrderId":"`+order.OrderID+`","Token":"forged"}`))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("webhook with a wrong amount", func(t *testing.T) {
		body := testutil.NotificationBody(order.OrderID, order.PaymentID, billing.GatewayConfirmed, 100, "")
		rec := app.do(http.MethodPost, "/api/payment/webhook", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	body := testutil.NotificationBody(order.OrderID, order.PaymentID, billing.GatewayConfirmed, order.Amount, "rebill-1")
	for i := 0; i < 2; i++ {
		rec = app.do(http.MethodPost, "/api/payment/webhook", "", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "OK", rec.Body.String())
	}

	// repeated notifications credit the plan once
	usr, err := app.usrRepo.GetUser(ctx, user.GetFilter{ID: anna.ID})
	require.NoError(t, err)
	assert.Equal(t, 100, usr.CheckBalance)

	rec = app.do(http.MethodGet, "/api/payment/orders/"+order.OrderID, annaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &order)
	assert.Equal(t, billing.StatusPaid, order.Status)

	rec = app.do(http.MethodGet, "/api/payment/orders", annaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []billing.Order
	decode(t, rec, &orders)
	assert.Len(t, orders, 1)

	rec = app.do(http.MethodGet, "/api/subscription", annaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var sub billing.Subscription
	decode(t, rec, &sub)
	assert.Equal(t, billing.SubscriptionActive, sub.Status)
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, plan.ID, sub.PlanID)

	rec = app.do(http.MethodPost, "/api/subscription/cancel-auto-renew", annaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &sub)
	assert.False(t, sub.AutoRenew)
	assert.Equal(t, billing.SubscriptionActive, sub.Status)
}

func TestOrdersEmpty(t *testing.T) {
	app := setup(t)
	anna := testutil.CreateUser(t, app.usrRepo, "Anna", "anna@test.test", strongPwd, []string{user.RoleTeacher}, true)

	app.run(t, []httpTest{
		{
			name:     "no orders",
			path:     "/api/payment/orders",
			token:    getToken(t, anna),
			wantCode: http.StatusOK,
			wantData: []byte(`[]`),
		},
	})
}
