package screenshot

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Global validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)
	validate.RegisterStructValidation(requestStructLevel, Request{})
	validate.RegisterStructValidation(regionStructLevel, Region{})
}

// ErrValidation matches every ValidationError
var ErrValidation = errors.New("invalid capture request")

// ValidationError reports a malformed or missing capture option
type ValidationError struct {
	Field string
	Tag   string
	Param string
	msg   string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Resolve checks that the request options are consistent with its capture
// type. It has no side effects and returns the request unchanged on success.
func Resolve(req Request) (Request, error) {
	if err := validate.Struct(req); err != nil {
		return Request{}, toValidationError(err)
	}
	return req, nil
}

// ValidateBrowser enforces that every browser field is present
func ValidateBrowser(b Browser) error {
	if err := validate.Struct(b); err != nil {
		return toValidationError(err)
	}
	return nil
}

func requestStructLevel(sl validator.StructLevel) {
	req := sl.Current().Interface().(Request)

	switch {
	case req.Type == TypeElement && len(req.Element) == 0:
		sl.ReportError(req.Element, "element", "Element", "required", "")
	case req.Type != TypeElement && req.Element != nil:
		sl.ReportError(req.Element, "element", "Element", "excluded", string(req.Type))
	}
}

func regionStructLevel(sl validator.StructLevel) {
	r := sl.Current().Interface().(Region)
	if strings.TrimSpace(r.Selector) == "" && !r.IsRect() {
		sl.ReportError(r.Selector, "selector", "Selector", "region", "")
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

// toValidationError converts validator errors to a readable ValidationError
func toValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return &ValidationError{Tag: "invalid", msg: fmt.Sprintf("validation failed: %v", err)}
	}

	fieldError := validationErrors[0]
	field := fieldPath(fieldError.Namespace())
	ve := &ValidationError{Field: field, Tag: fieldError.Tag(), Param: fieldError.Param()}

	switch fieldError.Tag() {
	case "required":
		if field == "element" {
			ve.msg = "element capture requires at least one selector"
		} else {
			ve.msg = fmt.Sprintf("missing required field: %s", field)
		}
	case "excluded":
		ve.msg = fmt.Sprintf("element selector is not allowed for %s capture", fieldError.Param())
	case "oneof":
		ve.msg = fmt.Sprintf("invalid value for field %s, must be one of: %s", field, fieldError.Param())
	case "min":
		ve.msg = fmt.Sprintf("field %s must not be empty when supplied", field)
	case "gt":
		ve.msg = fmt.Sprintf("field %s must be greater than %s: %v", field, fieldError.Param(), fieldError.Value())
	case "gte":
		ve.msg = fmt.Sprintf("field %s must be at least %s: %v", field, fieldError.Param(), fieldError.Value())
	case "lte", "max":
		ve.msg = fmt.Sprintf("field %s must be <= %s", field, fieldError.Param())
	case "region":
		ve.msg = fmt.Sprintf("field %s needs a selector or a positive width and height", strings.TrimSuffix(field, ".selector"))
	default:
		ve.msg = fmt.Sprintf("validation error for field %s: %s", field, fieldError.Tag())
	}

	return ve
}

// fieldPath drops the root struct name from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
