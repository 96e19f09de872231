package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	echoapi "github.com/lim5max/checklytool/apps/api/echo"
	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/assessment"
	"github.com/lim5max/checklytool/core/billing"
	"github.com/lim5max/checklytool/core/user"
	emailsvc "github.com/lim5max/checklytool/services/email"
	inmemdb "github.com/lim5max/checklytool/storage/database/inmem"
	testutil "github.com/lim5max/checklytool/tests"
)

var (
	conf = core.NewTestConfig()

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

func TestMain(m *testing.M) {
	core.ParseEmailTemplates(conf, testutil.NewLogger())
	os.Exit(m.Run())
}

type testApp struct {
	srv      echoapi.Server
	usrRepo  user.Repository
	billRepo billing.Repository
	asmtRepo assessment.Repository
	gw       *testutil.FakeGateway
}

func setup(t *testing.T) testApp {
	t.Helper()
	emailsvc.ResetSentMessages()

	db := inmemdb.Open()
	tx := inmemdb.NewTransactor(db)
	app := testApp{
		usrRepo:  inmemdb.NewUserRepository(db),
		billRepo: inmemdb.NewBillingRepository(db),
		asmtRepo: inmemdb.NewAssessmentRepository(db),
		gw:       testutil.NewFakeGateway(),
	}

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	assessment.InitValidators(validate, translator)

	logger := testutil.NewLogger()
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewServiceMock(tx, app.usrRepo, mailSvc, conf)
	billSvc := billing.NewService(billing.ServiceDeps{
		Tx:       tx,
		Repo:     app.billRepo,
		UserRepo: app.usrRepo,
		Gateway:  app.gw,
		MailSvc:  mailSvc,
		Logger:   logger,
		Conf:     conf,
	})
	asmtSvc := assessment.NewService(assessment.ServiceDeps{
		Tx:       tx,
		Repo:     app.asmtRepo,
		Credits:  billSvc,
		Validate: validate,
		Logger:   logger,
	})

	app.srv = echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		UserSvc:       usrSvc,
		BillingSvc:    billSvc,
		AssessmentSvc: asmtSvc,
	})
	return app
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func (app testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.srv.ServeHTTP(rec, req)
	return rec
}

func (app testApp) run(t *testing.T, tests []httpTest) {
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rec := app.do(method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func getToken(t *testing.T, usr user.User) string {
	token, err := echoapi.GenerateToken(echoapi.GetUserClaims(usr, conf), conf)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
