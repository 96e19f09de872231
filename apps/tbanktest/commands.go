package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/billing"
	"github.com/lim5max/checklytool/services/payment/tbank"
)

const callTimeout = time.Minute

type commandHandler struct {
	conf core.TBankConfig
	in   *bufio.Reader
	out  io.Writer
}

func newRootCmd(conf core.TBankConfig, in io.Reader, out io.Writer) *cobra.Command {
	h := &commandHandler{conf: conf, in: bufio.NewReader(in), out: out}

	rootCmd := &cobra.Command{
		Use:   "tbanktest",
		Short: "T-Bank recurrent payments test tool",
		Long: `tbanktest walks through the recurrent payment flow used for subscriptions:
a parent payment saves the card and yields a RebillId, a child payment is then charged with it.

Terminal credentials are read from the configuration and may be overridden with flags.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&h.conf.TerminalKey, "terminal-key", conf.TerminalKey, "Terminal key")
	rootCmd.PersistentFlags().StringVar(&h.conf.Password, "password", conf.Password, "Terminal password")
	rootCmd.PersistentFlags().StringVar(&h.conf.APIURL, "api-url", conf.APIURL, "Gateway API base URL")

	parentCmd := &cobra.Command{
		Use:   "parent",
		Short: "Init a recurrent parent payment and print its payment URL",
		RunE:  h.parent,
	}
	parentCmd.Flags().Int64("amount", 1000, "Amount in kopecks")
	parentCmd.Flags().String("customer-key", "", "Customer key (random when empty)")
	parentCmd.Flags().String("email", "", "Receipt email")

	childCmd := &cobra.Command{
		Use:   "child",
		Short: "Init a child payment for a customer, to be charged with a RebillId",
		RunE:  h.child,
	}
	childCmd.Flags().Int64("amount", 1000, "Amount in kopecks")
	childCmd.Flags().String("customer-key", "", "Customer key of the parent payment")
	_ = childCmd.MarkFlagRequired("customer-key")

	chargeCmd := &cobra.Command{
		Use:   "charge",
		Short: "Charge a child payment with a saved card",
		RunE:  h.charge,
	}
	chargeCmd.Flags().String("payment-id", "", "Child payment ID")
	chargeCmd.Flags().String("rebill-id", "", "RebillId of the parent payment")
	_ = chargeCmd.MarkFlagRequired("payment-id")
	_ = chargeCmd.MarkFlagRequired("rebill-id")

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Print the state of a payment",
		RunE:  h.state,
	}
	stateCmd.Flags().String("payment-id", "", "Payment ID")
	_ = stateCmd.MarkFlagRequired("payment-id")

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel or refund a payment, fully or partially",
		RunE:  h.cancel,
	}
	cancelCmd.Flags().String("payment-id", "", "Payment ID")
	cancelCmd.Flags().Int64("amount", 0, "Amount to refund in kopecks (whole payment when 0)")
	_ = cancelCmd.MarkFlagRequired("payment-id")

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Print the request token for the given parameters, for manual calls",
		RunE:  h.token,
	}
	tokenCmd.Flags().StringArray("param", nil, "Request parameter as key=value (repeatable)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the whole flow: parent, RebillId prompt, child and charge",
		RunE:  h.run,
	}
	runCmd.Flags().Int64("amount", 1000, "Amount in kopecks")
	runCmd.Flags().String("customer-key", "", "Customer key (random when empty)")
	runCmd.Flags().String("email", "", "Receipt email")

	rootCmd.AddCommand(parentCmd, childCmd, chargeCmd, stateCmd, cancelCmd, tokenCmd, runCmd)
	return rootCmd
}

func (h *commandHandler) client() (*tbank.Client, error) {
	return tbank.NewClientFromConfig(h.conf)
}

func (h *commandHandler) printf(format string, args ...interface{}) {
	fmt.Fprintf(h.out, format, args...)
}

func (h *commandHandler) printState(state billing.PaymentState) {
	h.printf("PaymentId: %s\nOrderId:   %s\nStatus:    %s\nAmount:    %d\n", state.PaymentID, state.OrderID, state.Status, state.Amount)
	if state.PaymentURL != "" {
		h.printf("URL:       %s\n", state.PaymentURL)
	}
}

func newOrderID(kind string) string {
	return billing.OrderIDPrefix + "test-" + kind + "-" + uuid.New().String()
}

func (h *commandHandler) initPayment(ctx context.Context, kind string, amount int64, customerKey, email string, recurrent bool) (billing.PaymentState, error) {
	c, err := h.client()
	if err != nil {
		return billing.PaymentState{}, err
	}
	return c.Init(ctx, billing.InitRequest{
		OrderID:     newOrderID(kind),
		Amount:      amount,
		Description: "tbanktest " + kind + " payment",
		CustomerKey: customerKey,
		Recurrent:   recurrent,
		Email:       email,
	})
}

func customerKeyFlag(cmd *cobra.Command) string {
	key, _ := cmd.Flags().GetString("customer-key")
	if key == "" {
		key = "tbanktest-" + uuid.New().String()
	}
	return key
}

func (h *commandHandler) parent(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	amount, _ := cmd.Flags().GetInt64("amount")
	email, _ := cmd.Flags().GetString("email")
	customerKey := customerKeyFlag(cmd)

	state, err := h.initPayment(ctx, "parent", amount, customerKey, email, true)
	if err != nil {
		return errors.Wrap(err, "initiating parent payment")
	}
	h.printState(state)
	h.printf("CustomerKey: %s\n\n", customerKey)
	h.printf("Pay with a test card at the URL above. The RebillId arrives in the notification sent to the terminal's notification URL.\n")
	return nil
}

func (h *commandHandler) child(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	amount, _ := cmd.Flags().GetInt64("amount")
	customerKey, _ := cmd.Flags().GetString("customer-key")

	state, err := h.initPayment(ctx, "child", amount, customerKey, "", false)
	if err != nil {
		return errors.Wrap(err, "initiating child payment")
	}
	h.printState(state)
	return nil
}

func (h *commandHandler) charge(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	paymentID, _ := cmd.Flags().GetString("payment-id")
	rebillID, _ := cmd.Flags().GetString("rebill-id")

	c, err := h.client()
	if err != nil {
		return err
	}
	state, err := c.Charge(ctx, paymentID, rebillID)
	if err != nil {
		return errors.Wrap(err, "charging")
	}
	h.printState(state)
	return nil
}

func (h *commandHandler) state(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	paymentID, _ := cmd.Flags().GetString("payment-id")

	c, err := h.client()
	if err != nil {
		return err
	}
	state, err := c.GetState(ctx, paymentID)
	if err != nil {
		return errors.Wrap(err, "getting state")
	}
	h.printState(state)
	return nil
}

func (h *commandHandler) cancel(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	paymentID, _ := cmd.Flags().GetString("payment-id")
	amount, _ := cmd.Flags().GetInt64("amount")
	if amount < 0 {
		return errors.New("amount must not be negative")
	}

	c, err := h.client()
	if err != nil {
		return err
	}
	state, err := c.Cancel(ctx, paymentID, amount)
	if err != nil {
		return errors.Wrap(err, "cancelling")
	}
	h.printState(state)
	return nil
}

func (h *commandHandler) token(cmd *cobra.Command, _ []string) error {
	pairs, _ := cmd.Flags().GetStringArray("param")

	params := map[string]interface{}{"TerminalKey": h.conf.TerminalKey}
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return errors.Errorf("invalid param %q: expected key=value", pair)
		}
		params[kv[0]] = kv[1]
	}

	c, err := h.client()
	if err != nil {
		return err
	}
	h.printf("%s\n", c.Token(params))
	return nil
}

func (h *commandHandler) run(cmd *cobra.Command, _ []string) error {
	amount, _ := cmd.Flags().GetInt64("amount")
	email, _ := cmd.Flags().GetString("email")
	customerKey := customerKeyFlag(cmd)

	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	h.printf("== 1. parent payment\n")
	parent, err := h.initPayment(ctx, "parent", amount, customerKey, email, true)
	if err != nil {
		return errors.Wrap(err, "initiating parent payment")
	}
	h.printState(parent)
	h.printf("CustomerKey: %s\n\n", customerKey)

	h.printf("Pay at the URL above, then enter the RebillId from the notification: ")
	line, err := h.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "reading RebillId")
	}
	rebillID := strings.TrimSpace(line)
	if rebillID == "" {
		return errors.New("no RebillId entered")
	}

	ctx, cancel = context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	h.printf("\n== 2. child payment\n")
	child, err := h.initPayment(ctx, "child", amount, customerKey, "", false)
	if err != nil {
		return errors.Wrap(err, "initiating child payment")
	}
	h.printState(child)

	h.printf("\n== 3. charge\n")
	c, err := h.client()
	if err != nil {
		return err
	}
	charged, err := c.Charge(ctx, child.PaymentID, rebillID)
	if err != nil {
		return errors.Wrap(err, "charging")
	}
	h.printState(charged)
	return nil
}
