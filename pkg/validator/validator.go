package validator

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates structs against their `validate` tags.
type Validator interface {
	Validate(interface{}) error
}

type structValidator struct {
	validate *validator.Validate
}

func New() Validator {
	return &structValidator{validate: validator.New()}
}

func (v *structValidator) Validate(obj interface{}) error {
	if err := v.validate.Struct(obj); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			first := errs[0]
			return fmt.Errorf("%s failed validation on %s", first.Field(), first.Tag())
		}
		return err
	}
	return nil
}
