package utils

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/services"
)

var (
	// validate is the singleton validator instance
	validate *validator.Validate

	// password character classes, all of which must be present
	passwordLower = regexp.MustCompile(`[a-z]`)
	passwordUpper = regexp.MustCompile(`[A-Z]`)
	passwordDigit = regexp.MustCompile(`\d`)
)

// fieldMessages holds the user-facing message for a (json field, rule) pair.
// Pairs not listed fall back to a generic message built from the rule.
var fieldMessages = map[string]string{
	"firstName.required":              "First name is required",
	"firstName.min":                   "First name must be between 2-50 characters",
	"firstName.max":                   "First name must be between 2-50 characters",
	"lastName.required":               "Last name is required",
	"lastName.min":                    "Last name must be between 2-50 characters",
	"lastName.max":                    "Last name must be between 2-50 characters",
	"email.required":                  "Valid email is required",
	"email.email":                     "Valid email is required",
	"password.required":               "Password is required",
	"password.min":                    "Password min 6 characters",
	"password.password_complexity":    "Password must contain at least one uppercase letter, one lowercase letter, and one number",
	"role.role":                       "Invalid role specified",
	"currentPassword.required":        "Current password is required",
	"newPassword.min":                 "New password min 6 characters",
	"newPassword.password_complexity": "Password must contain at least one uppercase letter, one lowercase letter, and one number",
}

// secretFields never have their submitted value echoed back
var secretFields = map[string]bool{
	"password":        true,
	"currentPassword": true,
	"newPassword":     true,
}

func init() {
	validate = validator.New()

	// report fields by their JSON name
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	if err := validate.RegisterValidation("password_complexity", validatePasswordComplexity); err != nil {
		panic(fmt.Sprintf("failed to register password_complexity rule: %v", err))
	}
	if err := validate.RegisterValidation("role", validateRole); err != nil {
		panic(fmt.Sprintf("failed to register role rule: %v", err))
	}
}

func validatePasswordComplexity(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return passwordLower.MatchString(s) && passwordUpper.MatchString(s) && passwordDigit.MatchString(s)
}

func validateRole(fl validator.FieldLevel) bool {
	return models.Role(fl.Field().String()).Valid()
}

// Normalizer is implemented by request types that clean their own fields
// before the rules run
type Normalizer interface {
	Normalize()
}

// RegisterRequest is the body of POST /api/auth/register
type RegisterRequest struct {
	FirstName string `json:"firstName" validate:"required,min=2,max=50"`
	LastName  string `json:"lastName" validate:"required,min=2,max=50"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"min=6,password_complexity"`
	Role      string `json:"role,omitempty" validate:"omitempty,role"`
}

// Normalize trims names and normalizes the email
func (r *RegisterRequest) Normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = models.NormalizeEmail(r.Email)
	r.Role = strings.TrimSpace(r.Role)
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Normalize normalizes the email
func (r *LoginRequest) Normalize() {
	r.Email = models.NormalizeEmail(r.Email)
}

// ChangePasswordRequest is the body of PUT /api/auth/password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"min=6,password_complexity"`
}

// ValidateStruct normalizes s when it implements Normalizer, then checks every
// rule. All violations are collected into one validation error.
func ValidateStruct(s interface{}) error {
	if n, ok := s.(Normalizer); ok {
		n.Normalize()
	}

	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// NewValidationError converts validator.ValidationErrors into a domain
// validation error, one violation per failed field in declaration order
func NewValidationError(errs validator.ValidationErrors) *services.DomainError {
	violations := make([]services.FieldViolation, 0, len(errs))
	for _, err := range errs {
		field := err.Field()

		var value interface{} = err.Value()
		if secretFields[field] {
			value = nil
		}

		violations = append(violations, services.FieldViolation{
			Field:   field,
			Message: messageFor(field, err.Tag(), err.Param()),
			Value:   value,
		})
	}
	return services.NewValidationError(violations)
}

func messageFor(field, tag, param string) string {
	if msg, ok := fieldMessages[field+"."+tag]; ok {
		return msg
	}

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	default:
		return fmt.Sprintf("%s validation failed on '%s' tag", field, tag)
	}
}

// ParseQueryInt parses an optional non-negative integer query parameter,
// returning def when s is empty
func ParseQueryInt(field, s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, services.NewValidationError([]services.FieldViolation{{
			Field:   field,
			Message: fmt.Sprintf("%s must be a non-negative integer", field),
			Value:   s,
		}})
	}
	return n, nil
}

// ParseUUID parses an id taken from a path parameter
func ParseUUID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, services.NewValidationError([]services.FieldViolation{{
			Field:   field,
			Message: fmt.Sprintf("%s must be a valid UUID", field),
			Value:   s,
		}})
	}
	return id, nil
}
