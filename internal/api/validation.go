package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ignite/fan-automation/internal/domain"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Report fields by their JSON names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	validate.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		return domain.EventType(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("suppression_reason", func(fl validator.FieldLevel) bool {
		return domain.SuppressionReason(fl.Field().String()).Valid()
	})
}

// validateRequest validates a request DTO and returns the first failure as
// a *domain.ValidationError.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	fe := verrs[0]
	return &domain.ValidationError{Field: fe.Field(), Reason: reasonFor(fe)}
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "event_type":
		return "unknown event type " + fmt.Sprint(fe.Value())
	case "suppression_reason":
		return "unknown reason " + fmt.Sprint(fe.Value())
	default:
		return "failed " + fe.Tag() + " check"
	}
}
