package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/lim5max/checklytool/apps/api/echo"
	"github.com/lim5max/checklytool/core/user"
	testutil "github.com/lim5max/checklytool/tests"
)

func TestUserAPI(t *testing.T) {
	app := setup(t)
	admin := testutil.CreateUser(t, app.usrRepo, "Admin", "admin@test.test", strongPwd, []string{user.RoleAdmin}, true)
	anna := testutil.CreateUser(t, app.usrRepo, "Anna", "anna@test.test", strongPwd, []string{user.RoleTeacher}, true)
	boris := testutil.CreateUser(t, app.usrRepo, "Boris", "boris@test.test", strongPwd, []string{user.RoleTeacher}, true)
	testutil.GiveCredits(t, app.usrRepo, anna, 3)

	adminToken, annaToken := getToken(t, admin), getToken(t, anna)

	app.run(t, []httpTest{
		{
			name:     "no token",
			path:     "/api/users/me",
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, errMissingToken),
		},
		{
			name:     "credits",
			path:     "/api/users/me/credits",
			token:    annaToken,
			wantCode: http.StatusOK,
			wantData: marshalObj(t, echoapi.BalanceResponse{CheckBalance: 3}),
		},
		{
			name:     "query as non admin",
			path:     "/api/users",
			token:    annaToken,
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, errForbidden),
		},
		{
			name:     "other user as non admin",
			path:     "/api/users/" + boris.ID,
			token:    annaToken,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "self delete",
			method:   http.MethodDelete,
			path:     "/api/users/" + admin.ID,
			token:    adminToken,
			wantCode: http.StatusForbidden,
		},
		{
			name:     "non admin sets roles",
			method:   http.MethodPut,
			path:     "/api/users/me",
			body:     []byte(`{"roles":["admin"]}`),
			token:    annaToken,
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, errForbidden),
		},
		{
			name:     "grant credits as non admin",
			method:   http.MethodPost,
			path:     "/api/users/" + anna.ID + "/credits",
			body:     []byte(`{"credits":10}`),
			token:    annaToken,
			wantCode: http.StatusForbidden,
		},
		{
			name:     "grant zero credits",
			method:   http.MethodPost,
			path:     "/api/users/" + anna.ID + "/credits",
			body:     []byte(`{"credits":0}`),
			token:    adminToken,
			wantCode: http.StatusBadRequest,
		},
	})

	t.Run("me", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/users/me", annaToken)
		require.Equal(t, http.StatusOK, rec.Code)
		var usr user.User
		decode(t, rec, &usr)
		assert.Equal(t, anna.ID, usr.ID)
		assert.Equal(t, 3, usr.CheckBalance)
	})

	t.Run("query as admin", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/users?search=anna", adminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		var users []user.User
		decode(t, rec, &users)
		require.Len(t, users, 1)
		assert.Equal(t, anna.ID, users[0].ID)
	})

	t.Run("update me", func(t *testing.T) {
		rec := app.do(http.MethodPut, "/api/users/me", annaToken, []byte(`{"name":"Anna Ivanova"}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var usr user.User
		decode(t, rec, &usr)
		assert.Equal(t, "Anna Ivanova", usr.Name)
		assert.Equal(t, 3, usr.CheckBalance)
	})

	t.Run("grant credits", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/api/users/"+anna.ID+"/credits", adminToken, []byte(`{"credits":10}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp echoapi.BalanceResponse
		decode(t, rec, &resp)
		assert.Equal(t, 13, resp.CheckBalance)
	})

	t.Run("delete other user", func(t *testing.T) {
		rec := app.do(http.MethodDelete, "/api/users/"+boris.ID, adminToken)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = app.do(http.MethodGet, "/api/users/"+boris.ID, adminToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
