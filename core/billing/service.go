package billing

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/user"
)

var (
	// errors
	ErrPlanNotFound         = core.NewNotFoundError("plan not found")
	ErrOrderNotFound        = core.NewNotFoundError("order not found")
	ErrSubscriptionNotFound = core.NewNotFoundError("subscription not found")
	ErrAmountMismatch       = errors.New("notification amount does not match the order amount")
	ErrInsufficientCredits  = user.ErrInsufficientCredits

	errPlanNotPurchasable = "plan is not available for purchase"
)

type (
	Repository interface {
		ListPlans(ctx context.Context, activeOnly bool, exec ...core.DBExecutor) ([]Plan, error)
		GetPlan(ctx context.Context, id string, exec ...core.DBExecutor) (Plan, error)
		GetPlanByName(ctx context.Context, name string, exec ...core.DBExecutor) (Plan, error)
		// UpsertPlan creates the plan or updates the plan with the same name.
		UpsertPlan(ctx context.Context, plan Plan, exec ...core.DBExecutor) (Plan, error)

		CreateOrder(ctx context.Context, order Order, exec ...core.DBExecutor) (Order, error)
		GetOrder(ctx context.Context, filter OrderFilter, exec ...core.DBExecutor) (Order, error)
		// ListOrders returns matching orders, newest first.
		ListOrders(ctx context.Context, filter OrderFilter, exec ...core.DBExecutor) ([]Order, error)
		UpdateOrder(ctx context.Context, order Order, exec ...core.DBExecutor) (Order, error)

		GetSubscription(ctx context.Context, userID string, exec ...core.DBExecutor) (Subscription, error)
		UpsertSubscription(ctx context.Context, sub Subscription, exec ...core.DBExecutor) (Subscription, error)
		// ListDueSubscriptions returns active auto-renewing subscriptions with a RebillID expiring at or before t.
		ListDueSubscriptions(ctx context.Context, t time.Time, exec ...core.DBExecutor) ([]Subscription, error)
	}

	// Recorder receives billing outcomes, e.g. for metrics.
	Recorder interface {
		ObservePayment(status string)
		ObserveRenewal(outcome string)
	}

	Service interface {
		ListPlans(ctx context.Context) ([]Plan, error)
		GetPlan(ctx context.Context, id string) (Plan, error)
		UpsertPlan(ctx context.Context, plan Plan) (Plan, error)

		CreatePayment(ctx context.Context, usr user.User, planID string) (Order, error)
		HandleNotification(ctx context.Context, body []byte) (Order, error)
		ListOrders(ctx context.Context, usr user.User) ([]Order, error)
		GetOrder(ctx context.Context, usr user.User, orderID string, sync bool) (Order, error)

		GetSubscription(ctx context.Context, usr user.User) (Subscription, error)
		CancelAutoRenew(ctx context.Context, usr user.User) (Subscription, error)
		RenewDue(ctx context.Context, now time.Time) ([]RenewalResult, error)

		ConsumeCredit(ctx context.Context, userID string) (int, error)
		GrantCredits(ctx context.Context, userID string, n int) (int, error)
	}

	ServiceDeps struct {
		Tx       core.Transactor
		Repo     Repository
		UserRepo user.Repository
		Gateway  Gateway
		MailSvc  core.EmailService
		Logger   core.Logger
		Recorder Recorder // optional
		Conf     *core.Config
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

// Plans

func (svc *service) ListPlans(ctx context.Context) ([]Plan, error) {
	return svc.Repo.ListPlans(ctx, true)
}

func (svc *service) GetPlan(ctx context.Context, id string) (Plan, error) {
	return svc.Repo.GetPlan(ctx, id)
}

func (svc *service) UpsertPlan(ctx context.Context, plan Plan) (Plan, error) {
	now := time.Now().UTC()
	plan.UpdatedAt = now
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	return svc.Repo.UpsertPlan(ctx, plan)
}

// Payments

func (svc *service) CreatePayment(ctx context.Context, usr user.User, planID string) (Order, error) {
	plan, err := svc.Repo.GetPlan(ctx, planID)
	if err != nil {
		if errors.Cause(err) == ErrPlanNotFound {
			return Order{}, core.NewValidationError(nil, core.FieldError{Field: "plan_id", Error: err.Error()})
		}
		return Order{}, errors.Wrap(err, "finding plan")
	}
	if !plan.Purchasable() {
		return Order{}, core.NewValidationError(nil, core.FieldError{Field: "plan_id", Error: errPlanNotPurchasable})
	}

	now := time.Now().UTC()
	order, err := svc.Repo.CreateOrder(ctx, Order{
		ID:          uuid.New().String(),
		UserID:      usr.ID,
		PlanID:      plan.ID,
		OrderID:     OrderIDPrefix + uuid.New().String(),
		Amount:      plan.Price,
		Status:      StatusPending,
		IsRecurrent: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Order{}, errors.Wrap(err, "creating order")
	}

	state, err := svc.Gateway.Init(ctx, InitRequest{
		OrderID:         order.OrderID,
		Amount:          order.Amount,
		Description:     fmt.Sprintf("%s: %s", svc.Conf.AppName, plan.DisplayName),
		CustomerKey:     usr.ID,
		Recurrent:       true,
		Email:           usr.Email,
		SuccessURL:      svc.Conf.TBank.SuccessURL,
		FailURL:         svc.Conf.TBank.FailURL,
		NotificationURL: svc.Conf.TBank.NotificationURL,
	})
	if err != nil {
		order.Status = StatusFailed
		order.ErrorCode = gatewayErrorCode(err)
		order.Message = err.Error()
		order.UpdatedAt = time.Now().UTC()
		if _, uErr := svc.Repo.UpdateOrder(ctx, order); uErr != nil {
			svc.Logger.Error("updating failed order", uErr, usr)
		}
		svc.Recorder.ObservePayment(StatusFailed)
		return Order{}, errors.Wrap(err, "initiating payment")
	}

	order.PaymentID = state.PaymentID
	order.PaymentURL = state.PaymentURL
	order.UpdatedAt = time.Now().UTC()
	return svc.Repo.UpdateOrder(ctx, order)
}

func (svc *service) HandleNotification(ctx context.Context, body []byte) (Order, error) {
	n, err := svc.Gateway.ParseNotification(body)
	if err != nil {
		return Order{}, errors.Wrap(err, "parsing notification")
	}

	var (
		order     Order
		activated bool
	)
	err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		order, err = svc.Repo.GetOrder(ctx, OrderFilter{OrderID: n.OrderID, ForUpdate: true}, exec)
		if err != nil {
			return err
		}
		order, activated, err = svc.applyState(ctx, exec, order, PaymentState{
			PaymentID: n.PaymentID,
			OrderID:   n.OrderID,
			Status:    n.Status,
			Amount:    n.Amount,
		}, n.RebillID, n.ErrorCode)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	if activated {
		svc.sendReceipt(ctx, order)
	}
	return order, nil
}

// applyState moves order according to the gateway state. It reports whether the order has just been paid.
// Repeated states are no-ops, so a paid order is never credited twice.
func (svc *service) applyState(
	ctx context.Context,
	exec core.DBExecutor,
	order Order,
	state PaymentState,
	rebillID, errCode string,
) (Order, bool, error) {
	if state.Amount != 0 && state.Amount != order.Amount {
		return order, false, errors.Wrapf(ErrAmountMismatch, "order %s: got %d, want %d", order.OrderID, state.Amount, order.Amount)
	}

	recorded := order.PaymentID == "" && state.PaymentID != ""
	if recorded {
		order.PaymentID = state.PaymentID
	}
	newStatus := OrderStatus(state.Status)
	if !canTransition(order.Status, newStatus) {
		if recorded {
			order.UpdatedAt = time.Now().UTC()
			updated, err := svc.Repo.UpdateOrder(ctx, order, exec)
			return updated, false, err
		}
		return order, false, nil
	}

	order.Status = newStatus
	order.UpdatedAt = time.Now().UTC()
	if rebillID != "" {
		order.RebillID = rebillID
	}
	if errCode != "" && errCode != "0" {
		order.ErrorCode = errCode
	}
	order, err := svc.Repo.UpdateOrder(ctx, order, exec)
	if err != nil {
		return order, false, errors.Wrap(err, "updating order")
	}
	svc.Recorder.ObservePayment(newStatus)

	if newStatus != StatusPaid {
		return order, false, nil
	}
	if err = svc.activate(ctx, exec, order); err != nil {
		return order, false, errors.Wrap(err, "activating subscription")
	}
	return order, true, nil
}

func canTransition(from, to string) bool {
	switch {
	case to == "" || from == to:
		return false
	case from == StatusPending:
		return true
	case from == StatusPaid:
		return to == StatusCancelled || to == StatusRefunded
	default:
		return false
	}
}

// activate extends the user's subscription by the plan's duration and credits the plan's checks.
func (svc *service) activate(ctx context.Context, exec core.DBExecutor, order Order) error {
	plan, err := svc.Repo.GetPlan(ctx, order.PlanID, exec)
	if err != nil {
		return errors.Wrap(err, "finding plan")
	}

	now := time.Now().UTC()
	sub, err := svc.Repo.GetSubscription(ctx, order.UserID, exec)
	if err != nil {
		if errors.Cause(err) != ErrSubscriptionNotFound {
			return errors.Wrap(err, "finding subscription")
		}
		sub = Subscription{UserID: order.UserID, CustomerKey: order.UserID, CreatedAt: now}
	}

	base := now
	if sub.ExpiresAt.After(base) {
		base = sub.ExpiresAt
	}
	sub.PlanID = plan.ID
	sub.Status = SubscriptionActive
	sub.ExpiresAt = base.AddDate(0, 0, plan.DurationDays)
	sub.UpdatedAt = now
	if order.RebillID != "" {
		sub.RebillID = order.RebillID
		sub.AutoRenew = true
		if order.ParentOrderID != "" {
			sub.ParentOrderID = order.ParentOrderID
		} else {
			sub.ParentOrderID = order.OrderID
		}
	}
	if _, err = svc.Repo.UpsertSubscription(ctx, sub, exec); err != nil {
		return errors.Wrap(err, "saving subscription")
	}

	if plan.CheckCredits > 0 {
		if _, err = svc.UserRepo.AddCheckBalance(ctx, order.UserID, plan.CheckCredits, exec); err != nil {
			return errors.Wrap(err, "crediting checks")
		}
	}
	return nil
}

func (svc *service) ListOrders(ctx context.Context, usr user.User) ([]Order, error) {
	return svc.Repo.ListOrders(ctx, OrderFilter{UserID: usr.ID})
}

func (svc *service) GetOrder(ctx context.Context, usr user.User, orderID string, sync bool) (Order, error) {
	order, err := svc.Repo.GetOrder(ctx, OrderFilter{OrderID: orderID, UserID: usr.ID})
	if err != nil {
		return Order{}, err
	}
	if !sync || order.Final() || order.PaymentID == "" {
		return order, nil
	}

	state, err := svc.Gateway.GetState(ctx, order.PaymentID)
	if err != nil {
		return Order{}, errors.Wrap(err, "getting payment state")
	}

	var activated bool
	err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		order, err = svc.Repo.GetOrder(ctx, OrderFilter{ID: order.ID, ForUpdate: true}, exec)
		if err != nil {
			return err
		}
		order, activated, err = svc.applyState(ctx, exec, order, state, "", "")
		return err
	})
	if err != nil {
		return Order{}, err
	}
	if activated {
		svc.sendReceipt(ctx, order)
	}
	return order, nil
}

// Subscriptions

func (svc *service) GetSubscription(ctx context.Context, usr user.User) (Subscription, error) {
	sub, err := svc.Repo.GetSubscription(ctx, usr.ID)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Status == SubscriptionActive && !sub.ActiveAt(time.Now()) {
		sub.Status = SubscriptionExpired
	}
	return sub, nil
}

func (svc *service) CancelAutoRenew(ctx context.Context, usr user.User) (Subscription, error) {
	var sub Subscription
	err := svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if sub, err = svc.Repo.GetSubscription(ctx, usr.ID, exec); err != nil {
			return err
		}
		sub.AutoRenew = false
		sub.UpdatedAt = time.Now().UTC()
		sub, err = svc.Repo.UpsertSubscription(ctx, sub, exec)
		return err
	})
	if err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// RenewDue charges every auto-renewing subscription expiring within the renewal lead time of now.
func (svc *service) RenewDue(ctx context.Context, now time.Time) ([]RenewalResult, error) {
	subs, err := svc.Repo.ListDueSubscriptions(ctx, now.Add(svc.Conf.Billing.RenewalLeadTime))
	if err != nil {
		return nil, errors.Wrap(err, "listing due subscriptions")
	}

	results := make([]RenewalResult, 0, len(subs))
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		res := svc.renew(ctx, sub)
		svc.Recorder.ObserveRenewal(res.Status)
		results = append(results, res)
	}
	return results, nil
}

func (svc *service) renew(ctx context.Context, sub Subscription) RenewalResult {
	res := RenewalResult{UserID: sub.UserID}

	pending, err := svc.Repo.ListOrders(ctx, OrderFilter{UserID: sub.UserID, ParentOrderID: sub.ParentOrderID, Status: StatusPending})
	if err != nil {
		res.Status, res.Error = StatusFailed, err.Error()
		return res
	}
	if len(pending) > 0 {
		res.OrderID, res.Status = pending[0].OrderID, StatusPending
		return res
	}

	plan, err := svc.Repo.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return svc.renewalFailed(ctx, sub, Order{}, res, errors.Wrap(err, "finding plan"))
	}
	if !plan.Purchasable() {
		return svc.renewalFailed(ctx, sub, Order{}, res, errors.New(errPlanNotPurchasable))
	}

	now := time.Now().UTC()
	order, err := svc.Repo.CreateOrder(ctx, Order{
		ID:            uuid.New().String(),
		UserID:        sub.UserID,
		PlanID:        plan.ID,
		OrderID:       OrderIDPrefix + uuid.New().String(),
		Amount:        plan.Price,
		Status:        StatusPending,
		ParentOrderID: sub.ParentOrderID,
		RebillID:      sub.RebillID,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		res.Status, res.Error = StatusFailed, err.Error()
		return res
	}
	res.OrderID = order.OrderID

	state, err := svc.Gateway.Init(ctx, InitRequest{
		OrderID:         order.OrderID,
		Amount:          order.Amount,
		Description:     fmt.Sprintf("%s: %s (renewal)", svc.Conf.AppName, plan.DisplayName),
		CustomerKey:     sub.CustomerKey,
		NotificationURL: svc.Conf.TBank.NotificationURL,
	})
	if err != nil {
		return svc.renewalFailed(ctx, sub, order, res, errors.Wrap(err, "initiating renewal payment"))
	}
	order.PaymentID = state.PaymentID
	order.UpdatedAt = time.Now().UTC()
	saved, err := svc.Repo.UpdateOrder(ctx, order)
	if err != nil {
		return svc.renewalFailed(ctx, sub, order, res, errors.Wrap(err, "recording renewal payment"))
	}
	order = saved

	state, err = svc.Gateway.Charge(ctx, state.PaymentID, sub.RebillID)
	if err != nil {
		return svc.renewalFailed(ctx, sub, order, res, errors.Wrap(err, "charging renewal payment"))
	}

	var activated bool
	err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		order, activated, err = svc.applyState(ctx, exec, order, state, sub.RebillID, "")
		return err
	})
	if err != nil {
		res.Status, res.Error = StatusFailed, err.Error()
		return res
	}
	if order.Status == StatusFailed {
		return svc.renewalFailed(ctx, sub, order, res, errors.Errorf("payment %s", state.Status))
	}
	if activated {
		svc.sendReceipt(ctx, order)
	}
	res.Status = order.Status
	return res
}

// renewalFailed fails the child order (if any), turns auto-renewal off and notifies the user.
func (svc *service) renewalFailed(ctx context.Context, sub Subscription, order Order, res RenewalResult, cause error) RenewalResult {
	res.Status, res.Error = StatusFailed, cause.Error()

	err := svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		if order.ID != "" && order.Status == StatusPending {
			order.Status = StatusFailed
			order.ErrorCode = gatewayErrorCode(cause)
			order.Message = cause.Error()
			order.UpdatedAt = time.Now().UTC()
			if _, err := svc.Repo.UpdateOrder(ctx, order, exec); err != nil {
				return errors.Wrap(err, "updating order")
			}
		}
		sub.AutoRenew = false
		sub.UpdatedAt = time.Now().UTC()
		_, err := svc.Repo.UpsertSubscription(ctx, sub, exec)
		return errors.Wrap(err, "saving subscription")
	})
	if err != nil {
		svc.Logger.Error("recording failed renewal", err, map[string]interface{}{"user_id": sub.UserID})
	}

	usr, err := svc.UserRepo.GetUser(ctx, user.GetFilter{ID: sub.UserID})
	if err != nil {
		return res
	}
	planName := sub.PlanID
	if plan, pErr := svc.Repo.GetPlan(ctx, sub.PlanID); pErr == nil {
		planName = plan.DisplayName
	}
	svc.MailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Subscription renewal failed",
		TemplateName: "renewal_failed",
		TemplateData: map[string]interface{}{
			"Name":     usr.Name,
			"PlanName": planName,
			"Reason":   cause.Error(),
		},
	})
	return res
}

func (svc *service) sendReceipt(ctx context.Context, order Order) {
	usr, err := svc.UserRepo.GetUser(ctx, user.GetFilter{ID: order.UserID})
	if err != nil {
		svc.Logger.Error("finding user for receipt", err, map[string]interface{}{"order_id": order.OrderID})
		return
	}
	plan, err := svc.Repo.GetPlan(ctx, order.PlanID)
	if err != nil {
		svc.Logger.Error("finding plan for receipt", err, map[string]interface{}{"order_id": order.OrderID})
		return
	}
	sub, err := svc.Repo.GetSubscription(ctx, order.UserID)
	if err != nil {
		svc.Logger.Error("finding subscription for receipt", err, map[string]interface{}{"order_id": order.OrderID})
		return
	}

	svc.MailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Payment received",
		TemplateName: "payment_receipt",
		TemplateData: map[string]interface{}{
			"Name":      usr.Name,
			"PlanName":  plan.DisplayName,
			"OrderID":   order.OrderID,
			"Amount":    fmt.Sprintf("%d.%02d", order.Amount/100, order.Amount%100),
			"Credits":   plan.CheckCredits,
			"ExpiresAt": sub.ExpiresAt.Format("02.01.2006"),
		},
	})
}

// Credits

func (svc *service) ConsumeCredit(ctx context.Context, userID string) (int, error) {
	return svc.UserRepo.AddCheckBalance(ctx, userID, -1)
}

func (svc *service) GrantCredits(ctx context.Context, userID string, n int) (int, error) {
	if n <= 0 {
		return 0, core.NewValidationError(nil, core.FieldError{Field: "credits", Error: "must be greater than 0"})
	}
	return svc.UserRepo.AddCheckBalance(ctx, userID, n)
}

type nopRecorder struct{}

func (nopRecorder) ObservePayment(string) {}
func (nopRecorder) ObserveRenewal(string) {}
