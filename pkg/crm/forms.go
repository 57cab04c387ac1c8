package crm

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Contact statuses accepted by the backend.
const (
	ContactStatusLead     = "lead"
	ContactStatusProspect = "prospect"
	ContactStatusPaid     = "paid"
)

// LoginForm is the credential submission for POST /api/login.
type LoginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterForm is the account creation submission for POST /api/register.
type RegisterForm struct {
	OwnerName       string `json:"ownerName" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6,max=20"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	OrgName         string `json:"orgName" validate:"required"`
}

// ContactForm is the submission for POST /api/contact/add.
type ContactForm struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone"`
	Company    string `json:"company"`
	Position   string `json:"position"`
	Notes      string `json:"notes"`
	Status     string `json:"status" validate:"omitempty,oneof=lead prospect paid"`
	AssignedTo string `json:"assignedTo"`
}

var fieldLabels = map[string]string{
	"ownerName":       "Name",
	"orgName":         "Organization name",
	"confirmPassword": "Confirm Password",
	"email":           "Email",
	"password":        "Password",
	"name":            "Name",
	"status":          "Status",
}

// ValidationError lists per-field problems found before submission.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return strings.Join(msgs, "; ")
}

// Field returns the message for one field, or "" when it passed.
func (e *ValidationError) Field(name string) string {
	return e.Fields[name]
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var formValidator = newValidator()

// Validate checks a form struct and returns *ValidationError on failure.
func Validate(form any) error {
	err := formValidator.Struct(form)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		if _, seen := out.Fields[fe.Field()]; seen {
			continue
		}
		out.Fields[fe.Field()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	label, ok := fieldLabels[fe.Field()]
	if !ok {
		label = fe.Field()
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", label)
	case "email":
		return "Invalid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
	case "eqfield":
		return "Passwords must match"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", label, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s is invalid", label)
	}
}
