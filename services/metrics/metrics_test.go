package metrics

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lim5max/checklytool/core"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.ObservePayment("paid")
	m.ObservePayment("paid")
	m.ObserveRenewal("failed")
	m.ObserveEvaluation("completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.payments.WithLabelValues("paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.renewals.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluations.WithLabelValues("completed")))
}

func TestMiddleware(t *testing.T) {
	m := New()
	e := echo.New()
	defaultHandler := e.HTTPErrorHandler
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if core.IsNotFound(err) {
			_ = c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
			return
		}
		defaultHandler(err, c)
	}
	e.Use(m.Middleware())
	e.GET("/api/checks/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return errors.Wrap(core.NewNotFoundError("check not found"), "getting check")
		}
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusTeapot) })

	codes := map[string]int{}
	for _, path := range []string{"/api/checks/1", "/api/checks/2", "/api/checks/missing", "/boom"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		codes[path] = rec.Code
	}

	assert.Equal(t, http.StatusNotFound, codes["/api/checks/missing"])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/checks/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/checks/:id", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/checks/:id", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/boom", "418")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, _ := ioutil.ReadAll(res.Body)
	assert.Contains(t, string(body), "checkly_http_requests_total")
}
