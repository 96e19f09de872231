package billing

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lim5max/checklytool/core"
)

// Order statuses
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

// Subscription statuses
const (
	SubscriptionActive   = "active"
	SubscriptionExpired  = "expired"
	SubscriptionInactive = "inactive"
)

// OrderIDPrefix prefixes every order id sent to the payment gateway.
const OrderIDPrefix = "checkly-"

// Plan is a row of subscription_plans. Price is in kopecks.
type Plan struct {
	ID           string    `json:"id" yaml:"-" db:"id"`
	Name         string    `json:"name" yaml:"name" validate:"required,alphanum_" db:"name"`
	DisplayName  string    `json:"display_name" yaml:"display_name" validate:"required,notblank" db:"display_name"`
	Description  string    `json:"description" yaml:"description" db:"description"`
	Price        int64     `json:"price" yaml:"price" validate:"gte=0" db:"price"`
	CheckCredits int       `json:"check_credits" yaml:"check_credits" validate:"gte=0" db:"check_credits"`
	DurationDays int       `json:"duration_days" yaml:"duration_days" validate:"gte=0" db:"duration_days"`
	IsActive     bool      `json:"is_active" yaml:"is_active" db:"is_active"`
	SortOrder    int       `json:"sort_order" yaml:"sort_order" db:"sort_order"`
	CreatedAt    time.Time `json:"created_at" yaml:"-" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-" db:"updated_at"`
}

func (p *Plan) Validate(validate *validator.Validate) error {
	p.Name = core.CleanString(p.Name, true /* lower */)
	p.DisplayName = core.CleanString(p.DisplayName)
	return validate.Struct(p)
}

// Purchasable reports whether an order can be created for the plan.
func (p Plan) Purchasable() bool {
	return p.IsActive && p.Price > 0
}

// Order is a row of payment_orders.
type Order struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	PlanID        string    `json:"plan_id"`
	OrderID       string    `json:"order_id"` // gateway order id
	PaymentID     string    `json:"payment_id"`
	Amount        int64     `json:"amount"` // kopecks
	Status        string    `json:"status"`
	IsRecurrent   bool      `json:"is_recurrent"`
	ParentOrderID string    `json:"parent_order_id,omitempty"`
	RebillID      string    `json:"-"`
	PaymentURL    string    `json:"payment_url,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Message       string    `json:"message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (o Order) Final() bool {
	return o.Status != StatusPending
}

// Subscription is a row of subscriptions, one per user.
type Subscription struct {
	UserID        string    `json:"user_id"`
	PlanID        string    `json:"plan_id"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	AutoRenew     bool      `json:"auto_renew"`
	RebillID      string    `json:"-"`
	CustomerKey   string    `json:"-"`
	ParentOrderID string    `json:"-"` // gateway order id of the payment that registered RebillID
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s Subscription) ActiveAt(t time.Time) bool {
	return s.Status == SubscriptionActive && s.ExpiresAt.After(t)
}

// OrderFilter selects orders. Empty fields are ignored.
type OrderFilter struct {
	ID            string
	OrderID       string
	UserID        string
	ParentOrderID string
	Status        string
	ForUpdate     bool // lock selected rows until the end of the transaction
}

type RenewalResult struct {
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type CreatePaymentRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

func (r *CreatePaymentRequest) Validate(validate *validator.Validate) error {
	r.PlanID = core.CleanString(r.PlanID)
	return validate.Struct(r)
}

type GrantCreditsRequest struct {
	Credits int `json:"credits" validate:"required,gt=0"`
}

func (r GrantCreditsRequest) Validate(validate *validator.Validate) error { return validate.Struct(r) }
