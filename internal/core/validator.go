package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"planguard/internal/types"
)

// Validator wraps go-playground/validator with the domain tags:
//
//	resource_kind  a known types.ResourceKind
//	paid_tier      a purchasable types.PlanTier
//	period_key     a YYYY-MM types.PeriodKey
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// tagCodes maps a failing tag to the error code reported for it.
var tagCodes = map[string]types.ErrorCode{
	"required":      types.ErrCodeValidationMissingField,
	"resource_kind": types.ErrCodeValidationInvalidKind,
	"paid_tier":     types.ErrCodeValidationInvalidTier,
	"period_key":    types.ErrCodeValidationInvalidPeriod,
	"gt":            types.ErrCodeValidationInvalidAmount,
	"gte":           types.ErrCodeValidationInvalidAmount,
	"max":           types.ErrCodeValidationInvalidAmount,
}

// NewValidator creates a Validator that reports fields by their JSON names.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	// Registration only fails for empty tags or nil functions.
	_ = v.RegisterValidation("resource_kind", func(fl validator.FieldLevel) bool {
		return types.ResourceKind(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("paid_tier", func(fl validator.FieldLevel) bool {
		return types.PlanTier(fl.Field().String()).IsPaid()
	})
	_ = v.RegisterValidation("period_key", func(fl validator.FieldLevel) bool {
		return types.PeriodKey(fl.Field().String()).IsValid()
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s and converts the first failure into an AppError
// with the field and rule in Details.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fe := fieldErrs[0]
	code, ok := tagCodes[fe.Tag()]
	if !ok {
		code = types.ErrCodeValidationInvalidBody
	}
	details := map[string]any{"field": fe.Field(), "rule": fe.Tag()}
	if fe.Param() != "" {
		details["param"] = fe.Param()
	}
	return types.NewAppErrorWithDetails(code, "invalid value for "+fe.Field(), err, details)
}
