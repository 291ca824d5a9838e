package handlers

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationErrorResponse represents a validation error with field-level details
type ValidationErrorResponse struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Global validator instance (reused across all handlers)
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names so messages match the request body
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateRequest validates a request struct using go-playground/validator
// Returns a user-friendly error message if validation fails
func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		if fields := validationDetails(err); len(fields) > 0 {
			return fmt.Errorf("validation failed: %s: %s", fields[0].Field, fields[0].Message)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func validationDetails(err error) []ValidationErrorResponse {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	details := make([]ValidationErrorResponse, 0, len(ve))
	for _, fieldError := range ve {
		details = append(details, ValidationErrorResponse{
			Field:   fieldError.Field(),
			Message: formatValidationError(fieldError),
		})
	}
	return details
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	numeric := isNumeric(fe.Kind())
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		if numeric {
			return fmt.Sprintf("must be at least %s", fe.Param())
		}
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		if numeric {
			return fmt.Sprintf("must be at most %s", fe.Param())
		}
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
