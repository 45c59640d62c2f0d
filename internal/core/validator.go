package core

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"orderpulse/internal/types"
)

// Validator wraps go-playground/validator and translates validation failures
// into the API's structured error format.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ValidateStruct validates a struct against its `validate` tags. On failure
// it returns a *types.AppError with code "validation_missing_field" and a
// details map listing each failed field and the rule it broke.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalidErr *validator.InvalidValidationError
	if errors.As(err, &invalidErr) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "invalid value passed to validator", err)
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "unexpected validation failure", err)
	}

	fieldErrors := make([]map[string]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		fieldErrors = append(fieldErrors, map[string]string{
			"field": fe.Namespace(),
			"rule":  fe.Tag(),
			"param": fe.Param(),
		})
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
		map[string]any{"validation_errors": fieldErrors},
	)
}
