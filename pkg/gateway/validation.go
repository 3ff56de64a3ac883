package gateway

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"sahelpay-go/pkg/capability"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// checkStruct runs the struct tags and reports the first violation.
func (c *Client) checkStruct(req any) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Code: "VALIDATION_ERROR", Message: err.Error()}
	}
	fe := fieldErrs[0]
	return &ValidationError{
		Field:   fe.Field(),
		Code:    "VALIDATION_ERROR",
		Message: describeTag(fe),
	}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "e164":
		return "must be an international phone number such as +22370000000"
	case "email":
		return "must be an email address"
	case "url":
		return "must be an absolute URL"
	case "gt":
		return "must be greater than " + fe.Param()
	case "len":
		return "must be " + fe.Param() + " characters long"
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}

// requireCapability turns a missing capability into a local validation
// failure on the provider field.
func requireCapability(method capability.PaymentMethod, c capability.Capability) error {
	if _, ok := capability.Lookup(method); !ok {
		return &ValidationError{Field: "provider", Code: "UNSUPPORTED_PROVIDER", Message: fmt.Sprintf("unknown payment method %q", method)}
	}
	return capability.Require(method, c)
}
