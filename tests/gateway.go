package testutil

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/lim5max/checklytool/core/billing"
)

// GatewayToken is the notification token FakeGateway accepts.
const GatewayToken = "fake-token"

// FakeGateway is an in-memory billing.Gateway.
// Charges end in ChargeStatus (CONFIRMED by default) unless ChargeErr is set.
type FakeGateway struct {
	mu       sync.Mutex
	seq      int
	payments map[string]billing.PaymentState

	InitErr      error
	ChargeErr    error
	ChargeStatus string
	Inits        []billing.InitRequest
	Charges      []string // rebill IDs
}

var _ billing.Gateway = (*FakeGateway)(nil)

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{payments: make(map[string]billing.PaymentState), ChargeStatus: billing.GatewayConfirmed}
}

func (g *FakeGateway) Init(_ context.Context, req billing.InitRequest) (billing.PaymentState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Inits = append(g.Inits, req)
	if g.InitErr != nil {
		return billing.PaymentState{}, g.InitErr
	}
	g.seq++
	state := billing.PaymentState{
		PaymentID:  strconv.Itoa(1000 + g.seq),
		OrderID:    req.OrderID,
		Status:     billing.GatewayNew,
		Amount:     req.Amount,
		PaymentURL: "https://pay.test/" + strconv.Itoa(1000+g.seq),
	}
	g.payments[state.PaymentID] = state
	return state, nil
}

func (g *FakeGateway) Charge(_ context.Context, paymentID, rebillID string) (billing.PaymentState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Charges = append(g.Charges, rebillID)
	if g.ChargeErr != nil {
		return billing.PaymentState{}, g.ChargeErr
	}
	state, ok := g.payments[paymentID]
	if !ok {
		return billing.PaymentState{}, errors.Errorf("unknown payment %s", paymentID)
	}
	state.Status = g.ChargeStatus
	g.payments[paymentID] = state
	return state, nil
}

func (g *FakeGateway) GetState(_ context.Context, paymentID string) (billing.PaymentState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.payments[paymentID]
	if !ok {
		return billing.PaymentState{}, errors.Errorf("unknown payment %s", paymentID)
	}
	return state, nil
}

func (g *FakeGateway) Cancel(_ context.Context, paymentID string, _ int64) (billing.PaymentState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.payments[paymentID]
	if !ok {
		return billing.PaymentState{}, errors.Errorf("unknown payment %s", paymentID)
	}
	state.Status = billing.GatewayCanceled
	g.payments[paymentID] = state
	return state, nil
}

// SetStatus changes the gateway-side status of a payment, e.g. to simulate a completed checkout.
func (g *FakeGateway) SetStatus(paymentID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.payments[paymentID]
	state.Status = status
	g.payments[paymentID] = state
}

type fakeNotification struct {
	billing.Notification
	Token string
}

func (g *FakeGateway) ParseNotification(body []byte) (billing.Notification, error) {
	var n fakeNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return billing.Notification{}, errors.Wrap(err, "decoding notification")
	}
	if n.Token != GatewayToken {
		return billing.Notification{}, billing.ErrInvalidNotificationToken
	}
	return n.Notification, nil
}

// NotificationBody builds a callback body FakeGateway accepts.
func NotificationBody(orderID, paymentID, status string, amount int64, rebillID string) []byte {
	body, _ := json.Marshal(fakeNotification{
		Notification: billing.Notification{
			OrderID:   orderID,
			PaymentID: paymentID,
			Status:    status,
			Success:   status == billing.GatewayConfirmed || status == billing.GatewayAuthorized,
			Amount:    amount,
			RebillID:  rebillID,
		},
		Token: GatewayToken,
	})
	return body
}
