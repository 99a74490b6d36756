// Package validation checks request payloads with go-playground/validator
// and reports failures as core violations with English messages.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"expenses/internal/core"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validator is safe for concurrent use once built.
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
}

// New builds a validator with English translations and the custom tags
// username, category and positive_amount registered.
func New() (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonFieldName)

	eng := en.New()
	uni := ut.New(eng, eng)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, fmt.Errorf("register default translations: %w", err)
	}

	custom := []struct {
		tag     string
		fn      validator.Func
		message string
	}{
		{"username", isUsername, "{0} may only contain letters, digits and underscores"},
		{"category", isCategory, core.CategoryErrorMessage()},
		{"positive_amount", isPositiveAmount, "Input should be greater than 0"},
	}
	for _, c := range custom {
		if err := validate.RegisterValidation(c.tag, c.fn); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.tag, err)
		}
		if err := registerMessage(validate, trans, c.tag, c.message); err != nil {
			return nil, err
		}
	}
	if err := registerMessage(validate, trans, "eqfield", "Passwords do not match"); err != nil {
		return nil, err
	}

	return &Validator{validate: validate, trans: trans}, nil
}

// MustNew is New for program start-up, where a failure is a programming error.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Struct validates s and returns a *core.ValidationError listing every
// failing field, or nil.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("validate: %w", err)
	}

	violations := make([]core.Violation, 0, len(errs))
	for _, fe := range errs {
		violations = append(violations, core.Violation{
			Loc:  []string{"body", fe.Field()},
			Msg:  fe.Translate(v.trans),
			Type: violationType(fe.Tag()),
		})
	}
	return &core.ValidationError{Violations: violations}
}

func registerMessage(validate *validator.Validate, trans ut.Translator, tag, message string) error {
	err := validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, err := ut.T(tag, fe.Field())
			if err != nil {
				return fe.Error()
			}
			return t
		},
	)
	if err != nil {
		return fmt.Errorf("register %s translation: %w", tag, err)
	}
	return nil
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

func violationType(tag string) string {
	switch tag {
	case "required":
		return "missing"
	case "min":
		return "string_too_short"
	case "max":
		return "string_too_long"
	case "email":
		return "value_error.email"
	case "numeric":
		return "float_parsing"
	case "positive_amount":
		return "greater_than"
	default:
		return "value_error"
	}
}

func isUsername(fl validator.FieldLevel) bool {
	return usernamePattern.MatchString(fl.Field().String())
}

func isCategory(fl validator.FieldLevel) bool {
	return core.NormalizeCategory(fl.Field().String()).Valid()
}

func isPositiveAmount(fl validator.FieldLevel) bool {
	_, err := core.ParseDecimalToCents(fl.Field().String())
	return err == nil
}
