package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	structValidator *validator.Validate
	once            sync.Once
)

func engine() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				return d.String()
			}
			return nil
		}, decimal.Decimal{})
		structValidator = v
	})
	return structValidator
}

// Struct runs the `validate` tags of s and folds failures into one AppError.
func Struct(s interface{}) *internal.AppError {
	err := engine().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return internal.NewValidationError(err.Error(), internal.ErrCodeValidationFailed)
	}

	out := make([]internal.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fieldPath(fe)
		out = append(out, internal.ValidationError{
			Field:   field,
			Message: message(field, fe),
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}
	return internal.NewValidationError("Validation failed", internal.ErrCodeValidationFailed).
		WithDetails(internal.ValidationErrors{Errors: out})
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must not exceed %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must not exceed %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

type ValidatorFunc func(interface{}) *internal.AppError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

type ValidationBuilder struct {
	fields []FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{
		fields: make([]FieldValidator, 0),
	}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := FieldValidator{
		FieldName:  name,
		Value:      value,
		Validators: make([]ValidatorFunc, 0),
	}
	v.fields = append(v.fields, fv)
	return &v.fields[len(v.fields)-1]
}


// Positive requires a decimal strictly greater than zero.
func (fv *FieldValidator) Positive(code internal.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *internal.AppError {
		if v, ok := value.(decimal.Decimal); ok && !v.IsPositive() {
			return internal.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must be greater than zero", fv.FieldName), code)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) NonNegative(code internal.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *internal.AppError {
		if v, ok := value.(decimal.Decimal); ok && v.IsNegative() {
			return internal.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s cannot be negative", fv.FieldName), code)
		}
		return nil
	})
	return fv
}

// MaxPlaces bounds the number of fractional digits.
func (fv *FieldValidator) MaxPlaces(places int32) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *internal.AppError {
		if v, ok := value.(decimal.Decimal); ok && !v.Equal(v.Round(places)) {
			return internal.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must have at most %d decimal places", fv.FieldName, places), internal.ErrCodeInvalidAmount)
		}
		return nil
	})
	return fv
}



func (v *ValidationBuilder) Validate() *internal.AppError {
	var validationErrors []internal.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			appErr := validator(field.Value)
			if appErr == nil {
				continue
			}
			if details, ok := appErr.Details.(internal.ValidationErrors); ok {
				validationErrors = append(validationErrors, details.Errors...)
				continue
			}
			validationErrors = append(validationErrors, internal.ValidationError{
				Field:   field.FieldName,
				Message: appErr.Message,
				Code:    string(appErr.Code),
			})
		}
	}

	if len(validationErrors) > 0 {
		return internal.NewValidationError("Validation failed", internal.ErrCodeValidationFailed).
			WithDetails(internal.ValidationErrors{Errors: validationErrors})
	}

	return nil
}

// ValidateAmount checks a money amount is positive with at most two decimal places.
func ValidateAmount(field string, amount decimal.Decimal) *internal.AppError {
	validator := NewValidator()
	validator.Field(field, amount).
		Positive(internal.ErrCodeInvalidAmount).
		MaxPlaces(2)
	return validator.Validate()
}

// Merge combines several validation results into one, or nil.
func Merge(errs ...*internal.AppError) *internal.AppError {
	var all []internal.ValidationError
	for _, e := range errs {
		if e == nil {
			continue
		}
		if details, ok := e.Details.(internal.ValidationErrors); ok {
			all = append(all, details.Errors...)
			continue
		}
		all = append(all, internal.ValidationError{Message: e.Message, Code: string(e.Code)})
	}
	if len(all) == 0 {
		return nil
	}
	return internal.NewValidationError("Validation failed", internal.ErrCodeValidationFailed).
		WithDetails(internal.ValidationErrors{Errors: all})
}
