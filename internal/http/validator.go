package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jmehdipour/wadispatch/internal/model"
	"github.com/jmehdipour/wadispatch/internal/options"
)

// requestValidator plugs go-playground/validator into echo's c.Validate.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()

	// report json names, not Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
		_, ok := model.ParseChannel(fl.Field().String())
		return ok
	})

	return &requestValidator{v: v}
}

// Validate reports the first failing field as an options.ValidationError so
// handlers map it like any other input error.
func (rv *requestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return options.NewValidationError("body", "%v", err)
	}

	fe := verrs[0]
	if fe.Param() != "" {
		return options.NewValidationError(fe.Field(), "failed %s=%s", fe.Tag(), fe.Param())
	}
	return options.NewValidationError(fe.Field(), "failed %s", fe.Tag())
}
