// Package tbank is a client of the T-Bank (Tinkoff) acquiring API v2.
package tbank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/billing"
)

const DefaultBaseURL = "https://securepay.tinkoff.ru"

// Error is a gateway reply with Success=false or a non-zero ErrorCode.
type Error struct {
	Code    string
	Message string
	Details string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("tbank error %s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *Error) ErrorCode() string { return e.Code }

type Client struct {
	terminalKey string
	password    string
	baseURL     string
	http        *http.Client
}

var _ billing.Gateway = (*Client)(nil)

func NewClient(terminalKey, password, baseURL string, httpClient *http.Client) (*Client, error) {
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(terminalKey, "terminalKey"),
		vala.StringNotEmpty(password, "password"),
	).Check(); err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		terminalKey: terminalKey,
		password:    password,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		http:        httpClient,
	}, nil
}

func NewClientFromConfig(conf core.TBankConfig) (*Client, error) {
	return NewClient(conf.TerminalKey, conf.Password, conf.APIURL, nil)
}

func (c *Client) TerminalKey() string { return c.terminalKey }

// Token signs params with the terminal password.
func (c *Client) Token(params map[string]interface{}) string {
	return Token(params, c.password)
}

// flexString accepts both JSON strings and numbers: the gateway sends ids in either form.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

// Response holds the fields shared by Init, Charge, GetState and Cancel replies.
type Response struct {
	Success     bool
	ErrorCode   string
	Message     string
	Details     string
	TerminalKey string
	Status      string
	PaymentID   flexString `json:"PaymentId"`
	OrderID     string     `json:"OrderId"`
	Amount      int64
	NewAmount   int64
	PaymentURL  string
	RebillID    flexString `json:"RebillId"`
}

func (r Response) state() billing.PaymentState {
	amount := r.Amount
	if amount == 0 {
		amount = r.NewAmount
	}
	return billing.PaymentState{
		PaymentID:  string(r.PaymentID),
		OrderID:    r.OrderID,
		Status:     r.Status,
		Amount:     amount,
		PaymentURL: r.PaymentURL,
	}
}

// Call signs params and POSTs them to /v2/<method>.
func (c *Client) Call(ctx context.Context, method string, params map[string]interface{}) (Response, error) {
	params["TerminalKey"] = c.terminalKey
	params["Token"] = c.Token(params)

	body, err := json.Marshal(params)
	if err != nil {
		return Response{}, errors.Wrapf(err, "encoding %s request", method)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/"+method, bytes.NewReader(body))
	if err != nil {
		return Response{}, errors.Wrapf(err, "building %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return Response{}, errors.Wrapf(err, "calling %s", method)
	}
	defer res.Body.Close()

	raw, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return Response{}, errors.Wrapf(err, "reading %s response", method)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return Response{}, errors.Errorf("%s: unexpected status %d: %s", method, res.StatusCode, raw)
	}

	var resp Response
	if err = json.Unmarshal(raw, &resp); err != nil {
		return Response{}, errors.Wrapf(err, "decoding %s response", method)
	}
	if !resp.Success || (resp.ErrorCode != "" && resp.ErrorCode != "0") {
		return resp, &Error{Code: resp.ErrorCode, Message: resp.Message, Details: resp.Details}
	}
	return resp, nil
}

// Init registers a payment. With req.Recurrent the card is saved and a RebillId is sent in the notification.
func (c *Client) Init(ctx context.Context, req billing.InitRequest) (billing.PaymentState, error) {
	params := map[string]interface{}{
		"Amount":  req.Amount,
		"OrderId": req.OrderID,
	}
	setIfNotEmpty(params, "Description", req.Description)
	setIfNotEmpty(params, "CustomerKey", req.CustomerKey)
	setIfNotEmpty(params, "SuccessURL", req.SuccessURL)
	setIfNotEmpty(params, "FailURL", req.FailURL)
	setIfNotEmpty(params, "NotificationURL", req.NotificationURL)
	if req.Recurrent {
		params["Recurrent"] = "Y"
	}
	if req.Email != "" {
		params["DATA"] = map[string]string{"Email": req.Email}
	}

	resp, err := c.Call(ctx, "Init", params)
	if err != nil {
		return billing.PaymentState{}, err
	}
	return resp.state(), nil
}

// Charge debits a saved card for a payment created by Init.
func (c *Client) Charge(ctx context.Context, paymentID, rebillID string) (billing.PaymentState, error) {
	resp, err := c.Call(ctx, "Charge", map[string]interface{}{
		"PaymentId": paymentID,
		"RebillId":  rebillID,
	})
	if err != nil {
		return billing.PaymentState{}, err
	}
	return resp.state(), nil
}

func (c *Client) GetState(ctx context.Context, paymentID string) (billing.PaymentState, error) {
	resp, err := c.Call(ctx, "GetState", map[string]interface{}{"PaymentId": paymentID})
	if err != nil {
		return billing.PaymentState{}, err
	}
	return resp.state(), nil
}

// Cancel cancels or refunds a payment. A zero amount cancels the full amount.
func (c *Client) Cancel(ctx context.Context, paymentID string, amount int64) (billing.PaymentState, error) {
	params := map[string]interface{}{"PaymentId": paymentID}
	if amount > 0 {
		params["Amount"] = amount
	}
	resp, err := c.Call(ctx, "Cancel", params)
	if err != nil {
		return billing.PaymentState{}, err
	}
	return resp.state(), nil
}

func setIfNotEmpty(params map[string]interface{}, key, val string) {
	if val != "" {
		params[key] = val
	}
}
