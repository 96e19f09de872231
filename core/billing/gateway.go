package billing

import (
	"context"

	"github.com/pkg/errors"
)

// Gateway statuses
const (
	GatewayNew             = "NEW"
	GatewayFormShowed      = "FORM_SHOWED"
	GatewayAuthorizing     = "AUTHORIZING"
	GatewayAuthorized      = "AUTHORIZED"
	GatewayConfirming      = "CONFIRMING"
	GatewayConfirmed       = "CONFIRMED"
	GatewayRejected        = "REJECTED"
	GatewayDeadlineExpired = "DEADLINE_EXPIRED"
	GatewayAuthFail        = "AUTH_FAIL"
	GatewayCanceled        = "CANCELED"
	GatewayReversed        = "REVERSED"
	GatewayRefunded        = "REFUNDED"
	GatewayPartialRefunded = "PARTIAL_REFUNDED"
)

var ErrInvalidNotificationToken = errors.New("invalid notification token")

type (
	InitRequest struct {
		OrderID         string
		Amount          int64 // kopecks
		Description     string
		CustomerKey     string
		Recurrent       bool
		Email           string
		SuccessURL      string
		FailURL         string
		NotificationURL string
	}

	// PaymentState is the gateway's view of a payment.
	PaymentState struct {
		PaymentID  string
		OrderID    string
		Status     string
		Amount     int64
		PaymentURL string
	}

	// Notification is a verified gateway callback.
	Notification struct {
		TerminalKey string
		OrderID     string
		PaymentID   string
		Status      string
		Success     bool
		ErrorCode   string
		Amount      int64
		RebillID    string
		CardID      string
		Pan         string
	}

	// NotificationVerifier decodes a raw callback body and checks its token.
	// It returns ErrInvalidNotificationToken when the signature does not match.
	NotificationVerifier interface {
		ParseNotification(body []byte) (Notification, error)
	}

	// Gateway is a recurrent-capable acquiring API.
	Gateway interface {
		NotificationVerifier
		Init(ctx context.Context, req InitRequest) (PaymentState, error)
		Charge(ctx context.Context, paymentID, rebillID string) (PaymentState, error)
		GetState(ctx context.Context, paymentID string) (PaymentState, error)
		Cancel(ctx context.Context, paymentID string, amount int64) (PaymentState, error)
	}
)

// OrderStatus maps a gateway status to an order status.
// It returns "" for intermediate statuses that do not change the order.
func OrderStatus(gatewayStatus string) string {
	switch gatewayStatus {
	case GatewayConfirmed, GatewayAuthorized:
		return StatusPaid
	case GatewayRejected, GatewayDeadlineExpired, GatewayAuthFail:
		return StatusFailed
	case GatewayCanceled, GatewayReversed:
		return StatusCancelled
	case GatewayRefunded, GatewayPartialRefunded:
		return StatusRefunded
	default:
		return ""
	}
}

// gatewayErrorCode extracts the gateway error code from err, if any.
func gatewayErrorCode(err error) string {
	if coded, ok := errors.Cause(err).(interface{ ErrorCode() string }); ok {
		return coded.ErrorCode()
	}
	return ""
}
