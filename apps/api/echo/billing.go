package echoapi

import (
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/lim5max/checklytool/core/billing"
	"github.com/lim5max/checklytool/core/user"
)

// maxNotificationSize bounds gateway callback bodies.
const maxNotificationSize = 64 << 10

type billingApi struct {
	usrSvc   user.Service
	svc      billing.Service
	validate *validator.Validate
}

func registerBillingAPI(g *echo.Group, jwt echo.MiddlewareFunc, usrSvc user.Service, svc billing.Service, validate *validator.Validate) {
	api := billingApi{usrSvc: usrSvc, svc: svc, validate: validate}

	g.GET("/subscription-plans", api.listPlans)

	sg := g.Group("/subscription", jwt)
	sg.GET("", api.subscription)
	sg.POST("/cancel-auto-renew", api.cancelAutoRenew)

	pg := g.Group("/payment")
	pg.POST("/webhook", api.webhook)
	pg.POST("/create", api.createPayment, jwt)
	pg.GET("/orders", api.listOrders, jwt)
	pg.GET("/orders/:orderId", api.retrieveOrder, jwt)
}

func (api *billingApi) listPlans(ctx echo.Context) error {
	plans, err := api.svc.ListPlans(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing plans")
	}
	return ctx.JSON(http.StatusOK, plans)
}

func (api *billingApi) subscription(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sub, err := api.svc.GetSubscription(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "getting subscription")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *billingApi) cancelAutoRenew(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sub, err := api.svc.CancelAutoRenew(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "cancelling auto renewal")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *billingApi) createPayment(ctx echo.Context) error {
	var data billing.CreatePaymentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CreatePaymentRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	order, err := api.svc.CreatePayment(ctx.Request().Context(), usr, data.PlanID)
	if err != nil {
		return errors.Wrap(err, "creating payment")
	}
	return ctx.JSON(http.StatusCreated, order)
}

func (api *billingApi) listOrders(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	orders, err := api.svc.ListOrders(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "listing orders")
	}
	if orders == nil {
		orders = []billing.Order{}
	}
	return ctx.JSON(http.StatusOK, orders)
}

func (api *billingApi) retrieveOrder(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sync, _ := strconv.ParseBool(ctx.QueryParam("sync"))

	order, err := api.svc.GetOrder(ctx.Request().Context(), usr, ctx.Param("orderId"), sync)
	if err != nil {
		return errors.Wrap(err, "getting order")
	}
	return ctx.JSON(http.StatusOK, order)
}

// webhook receives the gateway notifications. The gateway expects a plain "OK" body.
func (api *billingApi) webhook(ctx echo.Context) error {
	body, err := ioutil.ReadAll(http.MaxBytesReader(ctx.Response(), ctx.Request().Body, maxNotificationSize))
	if err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "could not read notification", Internal: err}
	}
	if _, err = api.svc.HandleNotification(ctx.Request().Context(), body); err != nil {
		return errors.Wrap(err, "handling payment notification")
	}
	return ctx.String(http.StatusOK, "OK")
}
