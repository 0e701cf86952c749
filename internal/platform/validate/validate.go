// Package validate wraps go-playground/validator with an English
// translator, so boundary handlers can turn a struct tag failure into a
// human-readable message for the caregiver UI.
package validate

import (
	"sync"

	en "github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"

	perr "aginosd/internal/platform/errors"
)

var (
	once      sync.Once
	validate  *validator.Validate
	translate ut.Translator
)

func instance() (*validator.Validate, ut.Translator) {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		locale := en.New()
		uni := ut.New(locale, locale)
		translate, _ = uni.GetTranslator("en")
		_ = entranslations.RegisterDefaultTranslations(validate, translate)
	})
	return validate, translate
}

// Struct validates s against its `validate:"..."` tags, returning a
// platform/errors ErrorCodeValidation error naming the first failing field.
func Struct(s any) error {
	v, tr := instance()
	if err := v.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return perr.WithField(perr.Newf(perr0(), fe.Translate(tr)), fe.Field())
		}
		return perr.Newf(perr0(), err.Error())
	}
	return nil
}

func perr0() perr.ErrorCode { return perr.ErrorCodeValidation }
