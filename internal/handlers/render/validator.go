package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const YearAll = "all"

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("year", validateYear)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

// Report fields by 'json' tag name instead of struct field name
func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// Year is "all" or exactly four digits
func validateYear(fl validator.FieldLevel) bool {
	year := fl.Field().String()
	if year == YearAll {
		return true
	}

	if len(year) != 4 {
		return false
	}
	for i := range len(year) {
		if year[i] < '0' || year[i] > '9' {
			return false
		}
	}
	return true
}
