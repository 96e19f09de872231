package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/billing"
)

type billingRepository struct {
	plans  *planTable
	orders *orderTable
	subs   *subscriptionTable
}

var _ billing.Repository = (*billingRepository)(nil)

func NewBillingRepository(db *DB) billing.Repository {
	return &billingRepository{plans: db.plan, orders: db.order, subs: db.sub}
}

// Plans

func (repo *billingRepository) ListPlans(_ context.Context, activeOnly bool, _ ...core.DBExecutor) ([]billing.Plan, error) {
	repo.plans.RLock()
	defer repo.plans.RUnlock()

	plans := make([]billing.Plan, 0, len(repo.plans.table))
	for _, p := range repo.plans.table {
		if activeOnly && !p.IsActive {
			continue
		}
		plans = append(plans, *p)
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].SortOrder == plans[j].SortOrder {
			return plans[i].Price < plans[j].Price
		}
		return plans[i].SortOrder < plans[j].SortOrder
	})
	return plans, nil
}

func (repo *billingRepository) GetPlan(_ context.Context, id string, _ ...core.DBExecutor) (billing.Plan, error) {
	repo.plans.RLock()
	defer repo.plans.RUnlock()

	if p, ok := repo.plans.table[id]; ok {
		return *p, nil
	}
	return billing.Plan{}, billing.ErrPlanNotFound
}

func (repo *billingRepository) GetPlanByName(_ context.Context, name string, _ ...core.DBExecutor) (billing.Plan, error) {
	repo.plans.RLock()
	defer repo.plans.RUnlock()

	for _, p := range repo.plans.table {
		if p.Name == name {
			return *p, nil
		}
	}
	return billing.Plan{}, billing.ErrPlanNotFound
}

func (repo *billingRepository) UpsertPlan(_ context.Context, plan billing.Plan, _ ...core.DBExecutor) (billing.Plan, error) {
	repo.plans.Lock()
	defer repo.plans.Unlock()

	for _, p := range repo.plans.table {
		if p.Name == plan.Name {
			plan.ID = p.ID
			plan.CreatedAt = p.CreatedAt
			break
		}
	}
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	repo.plans.table[plan.ID] = &plan
	return plan, nil
}

// Orders

func (repo *billingRepository) CreateOrder(_ context.Context, order billing.Order, _ ...core.DBExecutor) (billing.Order, error) {
	repo.orders.Lock()
	defer repo.orders.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	repo.orders.table[order.ID] = &order
	return order, nil
}

func (repo *billingRepository) filterOrders(filter billing.OrderFilter) []billing.Order {
	orders := make([]billing.Order, 0)
	for _, o := range repo.orders.table {
		if matchOrder(*o, filter) {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders
}

func matchOrder(o billing.Order, f billing.OrderFilter) bool {
	return (f.ID == "" || o.ID == f.ID) &&
		(f.OrderID == "" || o.OrderID == f.OrderID) &&
		(f.UserID == "" || o.UserID == f.UserID) &&
		(f.ParentOrderID == "" || o.ParentOrderID == f.ParentOrderID) &&
		(f.Status == "" || o.Status == f.Status)
}

func (repo *billingRepository) GetOrder(_ context.Context, filter billing.OrderFilter, _ ...core.DBExecutor) (billing.Order, error) {
	repo.orders.RLock()
	defer repo.orders.RUnlock()

	if orders := repo.filterOrders(filter); len(orders) > 0 {
		return orders[0], nil
	}
	return billing.Order{}, billing.ErrOrderNotFound
}

func (repo *billingRepository) ListOrders(_ context.Context, filter billing.OrderFilter, _ ...core.DBExecutor) ([]billing.Order, error) {
	repo.orders.RLock()
	defer repo.orders.RUnlock()
	return repo.filterOrders(filter), nil
}

func (repo *billingRepository) UpdateOrder(_ context.Context, order billing.Order, _ ...core.DBExecutor) (billing.Order, error) {
	repo.orders.Lock()
	defer repo.orders.Unlock()

	if _, ok := repo.orders.table[order.ID]; !ok {
		return billing.Order{}, billing.ErrOrderNotFound
	}
	repo.orders.table[order.ID] = &order
	return order, nil
}

// Subscriptions

func (repo *billingRepository) GetSubscription(_ context.Context, userID string, _ ...core.DBExecutor) (billing.Subscription, error) {
	repo.subs.RLock()
	defer repo.subs.RUnlock()

	if s, ok := repo.subs.table[userID]; ok {
		return *s, nil
	}
	return billing.Subscription{}, billing.ErrSubscriptionNotFound
}

func (repo *billingRepository) UpsertSubscription(_ context.Context, sub billing.Subscription, _ ...core.DBExecutor) (billing.Subscription, error) {
	repo.subs.Lock()
	defer repo.subs.Unlock()
	repo.subs.table[sub.UserID] = &sub
	return sub, nil
}

func (repo *billingRepository) ListDueSubscriptions(_ context.Context, t time.Time, _ ...core.DBExecutor) ([]billing.Subscription, error) {
	repo.subs.RLock()
	defer repo.subs.RUnlock()

	subs := make([]billing.Subscription, 0)
	for _, s := range repo.subs.table {
		if s.Status == billing.SubscriptionActive && s.AutoRenew && s.RebillID != "" && !s.ExpiresAt.After(t) {
			subs = append(subs, *s)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ExpiresAt.Before(subs[j].ExpiresAt) })
	return subs, nil
}
