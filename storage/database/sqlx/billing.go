package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/billing"
)

const (
	planColumns         = `id, name, display_name, description, price, check_credits, duration_days, is_active, sort_order, created_at, updated_at`
	orderColumns        = `id, user_id, plan_id, order_id, payment_id, amount, status, is_recurrent, parent_order_id, rebill_id, payment_url, error_code, message, created_at, updated_at`
	subscriptionColumns = `user_id, plan_id, status, expires_at, auto_renew, rebill_id, customer_key, parent_order_id, created_at, updated_at`
)

type orderRow struct {
	ID            string      `db:"id"`
	UserID        string      `db:"user_id"`
	PlanID        string      `db:"plan_id"`
	OrderID       string      `db:"order_id"`
	PaymentID     null.String `db:"payment_id"`
	Amount        int64       `db:"amount"`
	Status        string      `db:"status"`
	IsRecurrent   bool        `db:"is_recurrent"`
	ParentOrderID null.String `db:"parent_order_id"`
	RebillID      null.String `db:"rebill_id"`
	PaymentURL    null.String `db:"payment_url"`
	ErrorCode     null.String `db:"error_code"`
	Message       null.String `db:"message"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

type subscriptionRow struct {
	UserID        string      `db:"user_id"`
	PlanID        string      `db:"plan_id"`
	Status        string      `db:"status"`
	ExpiresAt     time.Time   `db:"expires_at"`
	AutoRenew     bool        `db:"auto_renew"`
	RebillID      null.String `db:"rebill_id"`
	CustomerKey   string      `db:"customer_key"`
	ParentOrderID null.String `db:"parent_order_id"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

func optString(s string) null.String {
	return null.NewString(s, s != "")
}

type billingRepository struct {
	repository
}

var _ billing.Repository = (*billingRepository)(nil)

func NewBillingRepository(exec core.DBExecutor) billing.Repository {
	return &billingRepository{repository{exec: exec}}
}

// Plans

func (repo billingRepository) ListPlans(ctx context.Context, activeOnly bool, exec ...core.DBExecutor) ([]billing.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY sort_order, price`

	plans := make([]billing.Plan, 0)
	if err := repo.getExec(exec).SelectContext(ctx, &plans, query); err != nil {
		return nil, errors.Wrap(err, "listing plans")
	}
	return plans, nil
}

func (repo billingRepository) getPlan(ctx context.Context, cond, arg string, exec []core.DBExecutor) (billing.Plan, error) {
	var plan billing.Plan
	err := repo.getExec(exec).GetContext(ctx, &plan, `SELECT `+planColumns+` FROM subscription_plans WHERE `+cond, arg)
	if err != nil {
		return billing.Plan{}, trapNoRowsErr(err, billing.ErrPlanNotFound)
	}
	return plan, nil
}

func (repo billingRepository) GetPlan(ctx context.Context, id string, exec ...core.DBExecutor) (billing.Plan, error) {
	if _, err := uuid.Parse(id); err != nil {
		return billing.Plan{}, billing.ErrPlanNotFound
	}
	return repo.getPlan(ctx, "id = $1", id, exec)
}

func (repo billingRepository) GetPlanByName(ctx context.Context, name string, exec ...core.DBExecutor) (billing.Plan, error) {
	return repo.getPlan(ctx, "name = $1", name, exec)
}

func (repo billingRepository) UpsertPlan(ctx context.Context, plan billing.Plan, exec ...core.DBExecutor) (billing.Plan, error) {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}

	var saved billing.Plan
	err := repo.getExec(exec).GetContext(ctx, &saved,
		`INSERT INTO subscription_plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			check_credits = EXCLUDED.check_credits,
			duration_days = EXCLUDED.duration_days,
			is_active = EXCLUDED.is_active,
			sort_order = EXCLUDED.sort_order,
			updated_at = EXCLUDED.updated_at
		RETURNING `+planColumns,
		plan.ID, plan.Name, plan.DisplayName, plan.Description, plan.Price, plan.CheckCredits,
		plan.DurationDays, plan.IsActive, plan.SortOrder, plan.CreatedAt.UTC(), plan.UpdatedAt.UTC(),
	)
	if err != nil {
		return billing.Plan{}, errors.Wrap(err, "upserting plan")
	}
	return saved, nil
}

// Orders

func (repo billingRepository) toOrderRow(o billing.Order) orderRow {
	return orderRow{
		ID:            o.ID,
		UserID:        o.UserID,
		PlanID:        o.PlanID,
		OrderID:       o.OrderID,
		PaymentID:     optString(o.PaymentID),
		Amount:        o.Amount,
		Status:        o.Status,
		IsRecurrent:   o.IsRecurrent,
		ParentOrderID: optString(o.ParentOrderID),
		RebillID:      optString(o.RebillID),
		PaymentURL:    optString(o.PaymentURL),
		ErrorCode:     optString(o.ErrorCode),
		Message:       optString(o.Message),
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.UpdatedAt.UTC(),
	}
}

func (repo billingRepository) fromOrderRow(row orderRow) billing.Order {
	return billing.Order{
		ID:            row.ID,
		UserID:        row.UserID,
		PlanID:        row.PlanID,
		OrderID:       row.OrderID,
		PaymentID:     row.PaymentID.String,
		Amount:        row.Amount,
		Status:        row.Status,
		IsRecurrent:   row.IsRecurrent,
		ParentOrderID: row.ParentOrderID.String,
		RebillID:      row.RebillID.String,
		PaymentURL:    row.PaymentURL.String,
		ErrorCode:     row.ErrorCode.String,
		Message:       row.Message.String,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

func (repo billingRepository) CreateOrder(ctx context.Context, order billing.Order, exec ...core.DBExecutor) (billing.Order, error) {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	row := repo.toOrderRow(order)

	var created orderRow
	err := repo.getExec(exec).GetContext(ctx, &created,
		`INSERT INTO payment_orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+orderColumns,
		row.ID, row.UserID, row.PlanID, row.OrderID, row.PaymentID, row.Amount, row.Status, row.IsRecurrent,
		row.ParentOrderID, row.RebillID, row.PaymentURL, row.ErrorCode, row.Message, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return billing.Order{}, errors.Wrap(err, "inserting order")
	}
	return repo.fromOrderRow(created), nil
}

func orderWhere(filter billing.OrderFilter) (where, bool) {
	var w where
	if filter.ID != "" {
		if _, err := uuid.Parse(filter.ID); err != nil {
			return w, false
		}
		w.add("id = ?", filter.ID)
	}
	if filter.OrderID != "" {
		w.add("order_id = ?", filter.OrderID)
	}
	if filter.UserID != "" {
		w.add("user_id = ?", filter.UserID)
	}
	if filter.ParentOrderID != "" {
		w.add("parent_order_id = ?", filter.ParentOrderID)
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	return w, true
}

func (repo billingRepository) selectOrders(ctx context.Context, filter billing.OrderFilter, limit string, exec []core.DBExecutor) ([]billing.Order, error) {
	w, ok := orderWhere(filter)
	if !ok {
		return nil, nil
	}
	query := `SELECT ` + orderColumns + ` FROM payment_orders` + w.String() + ` ORDER BY created_at DESC` + limit
	if filter.ForUpdate {
		query += ` FOR UPDATE`
	}

	ex := repo.getExec(exec)
	var rows []orderRow
	if err := ex.SelectContext(ctx, &rows, ex.Rebind(query), w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting orders")
	}
	orders := make([]billing.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, repo.fromOrderRow(row))
	}
	return orders, nil
}

func (repo billingRepository) GetOrder(ctx context.Context, filter billing.OrderFilter, exec ...core.DBExecutor) (billing.Order, error) {
	orders, err := repo.selectOrders(ctx, filter, " LIMIT 1", exec)
	if err != nil {
		return billing.Order{}, err
	}
	if len(orders) == 0 {
		return billing.Order{}, billing.ErrOrderNotFound
	}
	return orders[0], nil
}

func (repo billingRepository) ListOrders(ctx context.Context, filter billing.OrderFilter, exec ...core.DBExecutor) ([]billing.Order, error) {
	orders, err := repo.selectOrders(ctx, filter, "", exec)
	if orders == nil && err == nil {
		orders = []billing.Order{}
	}
	return orders, err
}

func (repo billingRepository) UpdateOrder(ctx context.Context, order billing.Order, exec ...core.DBExecutor) (billing.Order, error) {
	row := repo.toOrderRow(order)

	var updated orderRow
	err := repo.getExec(exec).GetContext(ctx, &updated,
		`UPDATE payment_orders SET
			payment_id = $2, amount = $3, status = $4, is_recurrent = $5, parent_order_id = $6,
			rebill_id = $7, payment_url = $8, error_code = $9, message = $10, updated_at = $11
		WHERE id = $1
		RETURNING `+orderColumns,
		row.ID, row.PaymentID, row.Amount, row.Status, row.IsRecurrent, row.ParentOrderID,
		row.RebillID, row.PaymentURL, row.ErrorCode, row.Message, row.UpdatedAt,
	)
	if err != nil {
		return billing.Order{}, trapNoRowsErr(err, billing.ErrOrderNotFound)
	}
	return repo.fromOrderRow(updated), nil
}

// Subscriptions

func (repo billingRepository) fromSubscriptionRow(row subscriptionRow) billing.Subscription {
	return billing.Subscription{
		UserID:        row.UserID,
		PlanID:        row.PlanID,
		Status:        row.Status,
		ExpiresAt:     row.ExpiresAt.UTC(),
		AutoRenew:     row.AutoRenew,
		RebillID:      row.RebillID.String,
		CustomerKey:   row.CustomerKey,
		ParentOrderID: row.ParentOrderID.String,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

func (repo billingRepository) GetSubscription(ctx context.Context, userID string, exec ...core.DBExecutor) (billing.Subscription, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return billing.Subscription{}, billing.ErrSubscriptionNotFound
	}

	var row subscriptionRow
	err := repo.getExec(exec).GetContext(ctx, &row, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return billing.Subscription{}, trapNoRowsErr(err, billing.ErrSubscriptionNotFound)
	}
	return repo.fromSubscriptionRow(row), nil
}

func (repo billingRepository) UpsertSubscription(ctx context.Context, sub billing.Subscription, exec ...core.DBExecutor) (billing.Subscription, error) {
	var saved subscriptionRow
	err := repo.getExec(exec).GetContext(ctx, &saved,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			auto_renew = EXCLUDED.auto_renew,
			rebill_id = EXCLUDED.rebill_id,
			customer_key = EXCLUDED.customer_key,
			parent_order_id = EXCLUDED.parent_order_id,
			updated_at = EXCLUDED.updated_at
		RETURNING `+subscriptionColumns,
		sub.UserID, sub.PlanID, sub.Status, sub.ExpiresAt.UTC(), sub.AutoRenew, optString(sub.RebillID),
		sub.CustomerKey, optString(sub.ParentOrderID), sub.CreatedAt.UTC(), sub.UpdatedAt.UTC(),
	)
	if err != nil {
		return billing.Subscription{}, errors.Wrap(err, "upserting subscription")
	}
	return repo.fromSubscriptionRow(saved), nil
}

func (repo billingRepository) ListDueSubscriptions(ctx context.Context, t time.Time, exec ...core.DBExecutor) ([]billing.Subscription, error) {
	var rows []subscriptionRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = $1 AND auto_renew AND rebill_id IS NOT NULL AND rebill_id <> '' AND expires_at <= $2
		ORDER BY expires_at`,
		billing.SubscriptionActive, t.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "listing due subscriptions")
	}
	subs := make([]billing.Subscription, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, repo.fromSubscriptionRow(row))
	}
	return subs, nil
}
