package httpx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

// Validator checks request DTOs using struct tags.
type Validator struct {
	v *validator.Validate
}

// NewValidator constructs a Validator.
func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

// Struct validates dto and folds field errors into a single ErrValidation.
func (v *Validator) Struct(dto any) error {
	err := v.v.Struct(dto)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(parts, "; "))
}
