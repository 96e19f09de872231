package assessment

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/lim5max/checklytool/core"
)

var (
	checkTypeTag  = "checktype"
	checkTypeText = "must be one of: test, essay"

	questionTypeTag  = "questiontype"
	questionTypeText = "must be one of: single, multiple, text"
)

// InitValidators registers the assessment validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(checkTypeTag, checkTypeValidation)
	core.RegisterCustomTranslation(validate, translator, checkTypeTag, checkTypeText)

	_ = validate.RegisterValidation(questionTypeTag, questionTypeValidation)
	core.RegisterCustomTranslation(validate, translator, questionTypeTag, questionTypeText)
}

func checkTypeValidation(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case CheckTypeTest, CheckTypeEssay:
		return true
	}
	return false
}

func questionTypeValidation(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case QuestionSingle, QuestionMultiple, QuestionText:
		return true
	}
	return false
}
