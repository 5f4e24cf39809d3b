package rest

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
)

const maxJSONBody = 1 << 20

// LoginRequest authenticates a user
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

// ResetPasswordRequest replaces a user's password. Username defaults to the caller,
// who must then supply CurrentPassword.
type ResetPasswordRequest struct {
	Username        string `json:"username,omitempty" validate:"omitempty,max=64"`
	CurrentPassword string `json:"current_password,omitempty" validate:"omitempty,max=72"`
	NewPassword     string `json:"new_password" validate:"required,max=72"`
}

// CreateUserRequest adds an account. Role defaults to Admin.
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=Admin Manager"`
}

type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=Active Suspended"`
}

// LoginResponse carries the bearer token for later requests
type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json field names rather than Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON parses a JSON body into v and validates it
func decodeJSON(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case stderrors.As(err, &maxBytesErr):
			return errors.NewValidationError("BODY_TOO_LARGE",
				fmt.Sprintf("request body too large (max %d bytes)", maxJSONBody))
		case stderrors.Is(err, io.EOF):
			return errors.NewValidationError("EMPTY_BODY", "request body is required")
		default:
			return errors.NewValidationError("INVALID_JSON", "invalid JSON").WithCause(err)
		}
	}

	if err := v.Struct(dst); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError converts validator errors to our format
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return errors.NewValidationError("VALIDATION_FAILED", "validation error").WithCause(err)
	}

	fields := make(map[string]interface{}, len(validationErrors))
	for _, fe := range validationErrors {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "This field is required"
		case "max":
			msg = fmt.Sprintf("Maximum length is %s", fe.Param())
		case "oneof":
			msg = fmt.Sprintf("Must be one of: %s", fe.Param())
		default:
			msg = fmt.Sprintf("Failed %s validation", fe.Tag())
		}
		fields[fe.Field()] = msg
	}

	return errors.NewValidationError("VALIDATION_FAILED", "request validation failed").
		WithDetails(map[string]interface{}{"fields": fields})
}
