package validator

import (
	"fmt"
	"strings"
	"sync"

	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
)

func get() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRequest validates a request struct and converts field errors into a validation error
func ValidateRequest(req interface{}) error {
	if err := get().Struct(req); err != nil {
		var details = make(map[string]any)
		var fields []string

		if validationErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range validationErrs {
				details[fe.Field()] = fmt.Sprintf("failed on %s", fe.Tag())
				fields = append(fields, fe.Field())
			}
		} else {
			details["error"] = err.Error()
		}

		return ierr.WithError(err).
			WithHint(fmt.Sprintf("Invalid request: %s", strings.Join(fields, ", "))).
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}
	return nil
}
