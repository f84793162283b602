package utils

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateStruct runs the `validate` struct tags and converts failures into a
// ValidationError naming every offending field.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	fields := ProcessValidationErrors(err)
	if fields == nil {
		return NewValidationError("%v", err)
	}
	parts := make([]string, 0, len(fields))
	for field, tag := range fields {
		parts = append(parts, fmt.Sprintf("%s failed %q", field, tag))
	}
	sort.Strings(parts)
	return NewValidationError("%s", strings.Join(parts, ", "))
}
