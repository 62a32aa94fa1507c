// Package validate holds the validator shared by transform configs.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	v = validator.New()

	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func init() {
	// errors refer to yaml names of fields.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifier.MatchString(fl.Field().String())
	})
}

// Struct validates struct fields against their tags. Failed rules are
// joined into a single error.
func Struct(s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
			continue
		}
		msgs[i] = fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Identifier returns true if s is a plain SQL identifier.
func Identifier(s string) bool {
	return identifier.MatchString(s)
}
