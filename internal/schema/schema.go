// Package schema runs struct tag validation and turns the failures into
// field paths and user facing messages. Paths use the json names of fields.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Messages shared with callers that add their own checks.
const (
	MsgRequired   = "This field is required."
	MsgUndeclared = "Unknown field."
	MsgString     = "Must be a string."
	MsgInteger    = "Must be an integer."
	MsgNumber     = "Must be a number."
	MsgDate       = "Must be a date formatted YYYY-MM-DD."
	MsgIntList    = "Must be a comma separated list of integers."
)

// Pattern tags registered on the validator, usable as `validate:"batch"`.
var patterns = map[string]*regexp.Regexp{
	"batch":   regexp.MustCompile(`^[A-Z]{2}$`),
	"tplevel": regexp.MustCompile(`^TP[0-5]$`),
}

// Error is one problem found at Path.
type Error struct {
	Path    string
	Message string
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
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
	for tag, re := range patterns {
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return re.MatchString(fl.Field().String())
		}); err != nil {
			panic(fmt.Sprintf("register %s: %v", tag, err))
		}
	}
	return v
}

// Struct validates the tags of v and returns every failure in field order.
func Struct(v any) []Error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fails validator.ValidationErrors
	if !errors.As(err, &fails) {
		return []Error{{Message: err.Error()}}
	}
	out := make([]Error, 0, len(fails))
	for _, fe := range fails {
		out = append(out, Error{Path: path(fe.Namespace()), Message: Message(fe)})
	}
	return out
}

// Message renders a validation failure the way reports show it.
func Message(fe validator.FieldError) string {
	param := fe.Param()
	switch fe.ActualTag() {
	case "required", "required_with", "required_without":
		return MsgRequired
	case "oneof":
		return "Must be one of: " + strings.Join(strings.Fields(param), ", ") + "."
	case "min", "gte":
		if isCollection(fe.Kind()) {
			return "Must contain at least " + param + " item(s)."
		}
		return "Must be greater than or equal to " + param + "."
	case "max", "lte":
		if isCollection(fe.Kind()) {
			return "Must contain at most " + param + " item(s)."
		}
		return "Must be less than or equal to " + param + "."
	}
	if re, ok := patterns[fe.ActualTag()]; ok {
		return fmt.Sprintf("Value %q does not match %s.", fmt.Sprint(fe.Value()), re.String())
	}
	return fmt.Sprintf("Failed the %s check.", fe.ActualTag())
}

// Pattern returns the expression behind a registered pattern tag.
func Pattern(tag string) (*regexp.Regexp, bool) {
	re, ok := patterns[tag]
	return re, ok
}

func isCollection(k reflect.Kind) bool {
	return k == reflect.Slice || k == reflect.Array || k == reflect.Map
}

// path drops the root type name from a namespace such as Request.exposure[0].dose.
func path(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
