package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("varname", func(fl validator.FieldLevel) bool {
		return validName(fl.Field().String())
	})
	_ = v.RegisterValidation("envpair", func(fl validator.FieldLevel) bool {
		key, _, ok := strings.Cut(fl.Field().String(), "=")
		return ok && key != ""
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	return v
}

// ParseConfig parses a YAML or JSON build document into a validated Build.
func ParseConfig(data []byte) (*Build, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var build Build
	if err := dec.Decode(&build); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Err: errors.New("empty document")}
		}
		return nil, &ParseError{Err: err}
	}

	if err := Validate(&build); err != nil {
		return nil, err
	}
	return &build, nil
}

// LoadConfig reads a build document from path and parses it.
func LoadConfig(path string) (*Build, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// Validate checks a Build for structural errors and duplicate step ids.
func Validate(build *Build) error {
	if err := validate.Struct(build); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Build.")
			return &ParseError{Field: field, Err: fmt.Errorf("failed %q validation", fe.Tag())}
		}
		return &ParseError{Err: err}
	}

	seen := make(map[string]int, len(build.Steps))
	for i, step := range build.Steps {
		if step.ID == "" {
			continue
		}
		if first, ok := seen[step.ID]; ok {
			return &ParseError{
				Field: fmt.Sprintf("steps[%d].id", i),
				Err:   fmt.Errorf("duplicate id %q (first used by steps[%d])", step.ID, first),
			}
		}
		seen[step.ID] = i
	}
	return nil
}
