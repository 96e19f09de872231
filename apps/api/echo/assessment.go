package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/lim5max/checklytool/core/assessment"
	"github.com/lim5max/checklytool/core/user"
)

type assessmentApi struct {
	usrSvc   user.Service
	svc      assessment.Service
	validate *validator.Validate
}

func registerAssessmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, usrSvc user.Service, svc assessment.Service, validate *validator.Validate) {
	api := assessmentApi{usrSvc: usrSvc, svc: svc, validate: validate}

	cg := g.Group("/checks", jwt, api.ctxUserMiddleware)
	cg.GET("", api.queryChecks)
	cg.POST("", api.createCheck)
	cg.GET("/:id", api.retrieveCheck)
	cg.PUT("/:id", api.updateCheck)
	cg.DELETE("/:id", api.destroyCheck)
	cg.GET("/:id/statistics", api.statistics)
	cg.GET("/:id/submissions", api.listSubmissions)
	cg.POST("/:id/submissions", api.createSubmission)
	cg.GET("/:id/submissions/:sid", api.retrieveSubmission)
	cg.DELETE("/:id/submissions/:sid", api.destroySubmission)
	cg.POST("/:id/submissions/:sid/evaluate", api.evaluate)

	tg := g.Group("/tests", jwt, api.ctxUserMiddleware)
	tg.GET("", api.queryTests)
	tg.POST("", api.createTest)
	tg.GET("/:id", api.retrieveTest)
	tg.PUT("/:id", api.updateTest)
	tg.DELETE("/:id", api.destroyTest)
	tg.POST("/:id/checks", api.createCheckFromTest)
}

// ctxUserMiddleware loads the authenticated user; every query below is scoped to them.
func (api *assessmentApi) ctxUserMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if _, err := getContextUser(ctx, api.usrSvc); err != nil {
			return errors.Wrap(err, "getting context user")
		}
		return next(ctx)
	}
}

func ctxUser(ctx echo.Context) user.User {
	usr, _ := ctx.Get(contextUserKey).(user.User)
	return usr
}

// Checks

func (api *assessmentApi) queryChecks(ctx echo.Context) error {
	filter := new(assessment.CheckFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []assessment.Check{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	checks, err := api.svc.QueryChecks(ctx.Request().Context(), ctxUser(ctx), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying checks")
	}
	return ctx.JSON(http.StatusOK, checks)
}

func (api *assessmentApi) createCheck(ctx echo.Context) error {
	var data assessment.NewCheck
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCheck")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	chk, err := api.svc.CreateCheck(ctx.Request().Context(), ctxUser(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating check")
	}
	return ctx.JSON(http.StatusCreated, chk)
}

func (api *assessmentApi) retrieveCheck(ctx echo.Context) error {
	chk, err := api.svc.GetCheck(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting check")
	}
	return ctx.JSON(http.StatusOK, chk)
}

func (api *assessmentApi) updateCheck(ctx echo.Context) error {
	var data assessment.UpdateCheck
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCheck")
	}

	chk, err := api.svc.UpdateCheck(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating check")
	}
	return ctx.JSON(http.StatusOK, chk)
}

func (api *assessmentApi) destroyCheck(ctx echo.Context) error {
	if err := api.svc.DeleteCheck(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting check")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *assessmentApi) statistics(ctx echo.Context) error {
	stats, err := api.svc.Statistics(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "computing statistics")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// Submissions

func (api *assessmentApi) listSubmissions(ctx echo.Context) error {
	subs, err := api.svc.ListSubmissions(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *assessmentApi) createSubmission(ctx echo.Context) error {
	var data assessment.NewSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}

	sub, err := api.svc.CreateSubmission(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating submission")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *assessmentApi) retrieveSubmission(ctx echo.Context) error {
	sub, err := api.svc.GetSubmission(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), ctx.Param("sid"))
	if err != nil {
		return errors.Wrap(err, "getting submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *assessmentApi) destroySubmission(ctx echo.Context) error {
	err := api.svc.DeleteSubmission(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), ctx.Param("sid"))
	if err != nil {
		return errors.Wrap(err, "deleting submission")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *assessmentApi) evaluate(ctx echo.Context) error {
	ev, err := api.svc.Evaluate(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), ctx.Param("sid"))
	if err != nil {
		return errors.Wrap(err, "evaluating submission")
	}
	return ctx.JSON(http.StatusOK, ev)
}

// Generated tests

func (api *assessmentApi) queryTests(ctx echo.Context) error {
	tests, err := api.svc.QueryTests(ctx.Request().Context(), ctxUser(ctx))
	if err != nil {
		return errors.Wrap(err, "querying tests")
	}
	return ctx.JSON(http.StatusOK, tests)
}

func (api *assessmentApi) createTest(ctx echo.Context) error {
	var data assessment.NewTest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	test, err := api.svc.CreateTest(ctx.Request().Context(), ctxUser(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating test")
	}
	return ctx.JSON(http.StatusCreated, test)
}

func (api *assessmentApi) retrieveTest(ctx echo.Context) error {
	test, err := api.svc.GetTest(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting test")
	}
	return ctx.JSON(http.StatusOK, test)
}

func (api *assessmentApi) updateTest(ctx echo.Context) error {
	var data assessment.NewTest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	test, err := api.svc.UpdateTest(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating test")
	}
	return ctx.JSON(http.StatusOK, test)
}

func (api *assessmentApi) destroyTest(ctx echo.Context) error {
	if err := api.svc.DeleteTest(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting test")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *assessmentApi) createCheckFromTest(ctx echo.Context) error {
	var data assessment.CheckFromTest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckFromTest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	chk, err := api.svc.CreateCheckFromTest(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating check from test")
	}
	return ctx.JSON(http.StatusCreated, chk)
}
