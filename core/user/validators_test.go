package user

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lim5max/checklytool/core"
)

func TestPasswordPolicy(t *testing.T) {
	validate, translator := core.NewValidator()
	InitValidators(validate, translator)

	commonPasswordsMu.Lock()
	commonPasswords = []string{"p@ssw0rd!", "qwerty123"}
	commonPasswordsMu.Unlock()

	tests := []struct {
		name    string
		pwd     string
		wantTag string
	}{
		{name: "too short", pwd: "Ab1!xyz", wantTag: pwdMinLenTag},
		{name: "whitespace", pwd: "Has Space1!", wantTag: pwdNoSpaceTag},
		{name: "all numeric", pwd: "1234567890", wantTag: pwdNotAllNumTag},
		{name: "no complexity", pwd: "abcdefghij", wantTag: pwdComplexityTag},
		{name: "no special", pwd: "Abcdefgh12", wantTag: pwdComplexityTag},
		{name: "similar to name", pwd: "Johnathan1!", wantTag: pwdAttrSimTag},
		{name: "common", pwd: "P@ssw0rd!", wantTag: pwdNoCommonTag},
		{name: "valid", pwd: "Zx9!kLmq#2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := NewUser{
				Name:            "Johnathan Doe",
				Email:           "jd@test.test",
				Password:        tt.pwd,
				PasswordConfirm: tt.pwd,
			}
			err := validate.Struct(nu)
			if tt.wantTag == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			vErrs, ok := err.(validator.ValidationErrors)
			require.True(t, ok)
			require.Len(t, vErrs, 1)
			assert.Equal(t, "password", vErrs[0].Field())
			assert.Equal(t, tt.wantTag, vErrs[0].Tag())
		})
	}
}

func TestAllRolesValidation(t *testing.T) {
	validate, translator := core.NewValidator()
	InitValidators(validate, translator)

	base := NewUser{Name: "T", Email: "t@test.test", Password: "Zx9!kLmq#2", PasswordConfirm: "Zx9!kLmq#2"}

	valid := base
	valid.Roles = []string{RoleTeacher, RoleAdmin}
	assert.NoError(t, validate.Struct(valid))

	invalid := base
	invalid.Roles = []string{RoleTeacher, "student:"}
	err := validate.Struct(invalid)
	require.Error(t, err)

	fldErrs := core.TranslateValidationErrors(err.(validator.ValidationErrors), translator)
	assert.Equal(t, map[string]string{"roles": allRolesText}, fldErrs)
}

func TestMaxRolePriority(t *testing.T) {
	assert.Equal(t, 0, MaxRolePriority(nil))
	assert.Equal(t, 11, MaxRolePriority([]string{RoleTeacher}))
	assert.Equal(t, 30, MaxRolePriority([]string{RoleTeacher, RoleAdminOwner, RoleAdmin}))
}
