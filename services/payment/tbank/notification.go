package tbank

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/lim5max/checklytool/core/billing"
)

type notification struct {
	TerminalKey string
	OrderID     string     `json:"OrderId"`
	PaymentID   flexString `json:"PaymentId"`
	Status      string
	Success     bool
	ErrorCode   string
	Amount      int64
	RebillID    flexString `json:"RebillId"`
	CardID      flexString `json:"CardId"`
	Pan         string
}

// ParseNotification decodes a gateway callback and checks its Token.
func (c *Client) ParseNotification(body []byte) (billing.Notification, error) {
	params := make(map[string]interface{})
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return billing.Notification{}, errors.Wrap(err, "decoding notification")
	}

	token, _ := params["Token"].(string)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(c.Token(params))) != 1 {
		return billing.Notification{}, billing.ErrInvalidNotificationToken
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return billing.Notification{}, errors.Wrap(err, "decoding notification")
	}
	if n.TerminalKey != c.terminalKey {
		return billing.Notification{}, errors.Wrapf(billing.ErrInvalidNotificationToken, "terminal %q", n.TerminalKey)
	}
	return billing.Notification{
		TerminalKey: n.TerminalKey,
		OrderID:     n.OrderID,
		PaymentID:   string(n.PaymentID),
		Status:      n.Status,
		Success:     n.Success,
		ErrorCode:   n.ErrorCode,
		Amount:      n.Amount,
		RebillID:    string(n.RebillID),
		CardID:      string(n.CardID),
		Pan:         n.Pan,
	}, nil
}
