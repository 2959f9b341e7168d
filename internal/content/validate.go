package content

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Field errors are keyed by the names the forms use on the wire.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validation is the result of a form check. FieldErrors is keyed by field name.
type Validation struct {
	Valid       bool              `json:"valid"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
}

// LoginForm mirrors the login page fields.
type LoginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegistrationForm mirrors the registration page fields.
type RegistrationForm struct {
	Name            string `json:"name" validate:"required,min=2"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Phone           string `json:"phone,omitempty"`
	Address         string `json:"address,omitempty"`
}

func ValidateLogin(f LoginForm) Validation {
	return check(f)
}

// ValidateRegistration checks the form with the name trimmed.
func ValidateRegistration(f RegistrationForm) Validation {
	f.Name = strings.TrimSpace(f.Name)
	return check(f)
}

// ValidateMessage reports whether a chat message has visible content.
func ValidateMessage(text string) bool {
	return strings.TrimSpace(text) != ""
}

func check(form any) Validation {
	err := validate.Struct(form)
	if err == nil {
		return Validation{Valid: true}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Validation{FieldErrors: map[string]string{"form": err.Error()}}
	}

	v := Validation{FieldErrors: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		if _, ok := v.FieldErrors[fe.Field()]; ok {
			continue
		}
		v.FieldErrors[fe.Field()] = message(fe)
	}
	return v
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "invalid email format"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	case "eqfield":
		return "passwords do not match"
	default:
		return fe.Field() + " is invalid"
	}
}
