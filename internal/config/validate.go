package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"moonlander/internal/engine"
)

// validate is a package-level singleton; building a validator is expensive.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their YAML names so errors match the config file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("dotted_quad", func(fl validator.FieldLevel) bool {
		_, err := engine.ParseAddress(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}

	return v
}

// Validate checks config invariants and returns a user-friendly error naming
// every offending field, e.g. "target.port: must be <= 65535".
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: %s", fieldPath(fe), describe(fe)))
	}
	return errors.Join(msgs...)
}

// fieldPath drops the root struct name: "Config.target.port" -> "target.port".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "min":
		return "must be >= " + fe.Param()
	case "max":
		return "must be <= " + fe.Param()
	case "oneof":
		return fmt.Sprintf("must be one of %s (got %q)", strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "dotted_quad":
		return fmt.Sprintf("must be a dotted-quad IPv4 address (got %q)", fe.Value())
	case "hostname_port":
		return fmt.Sprintf("must be host:port (got %q)", fe.Value())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
