// Package stepconf fills configuration structs from environment variables
// described by `env` struct tags:
//
//	Token   Secret   `env:"token,required"`
//	Mode    string   `env:"mode,opt[fast,safe]"`
//	Headers []string `env:"headers"`
//	Input   string   `env:"input,file"`
//
// List items are separated by '|'.
package stepconf

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
)

// EnvGetter ...
type EnvGetter interface {
	Get(key string) string
}

// Secret is a string which is masked when printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

var (
	// ErrNotStructPtr indicates a type is not a pointer to a struct.
	ErrNotStructPtr = errors.New("must be a pointer to a struct")
	// ErrRequired indicates a required variable is not set.
	ErrRequired = errors.New("required variable is not present")
	// ErrNotExists indicates a path or directory does not exist.
	ErrNotExists = errors.New("path does not exist")
	// ErrNotDir indicates a path is not a directory.
	ErrNotDir = errors.New("not a directory")
	// ErrNotFile indicates a path is a directory.
	ErrNotFile = errors.New("is a directory")
	// ErrNotInOptions indicates a value is not one of the value options.
	ErrNotInOptions = errors.New("value is not in value options")
)

// ParseError collects the errors of all invalid fields.
type ParseError struct {
	Errs []error
}

func (e *ParseError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return "failed to parse config:\n- " + strings.Join(msgs, "\n- ")
}

// Unwrap ...
func (e *ParseError) Unwrap() []error {
	return e.Errs
}

// Parse populates a struct with the retrieved values from the environment.
func Parse(input interface{}) error {
	return parse(input, env.NewRepository())
}

func parse(input interface{}, envGetter EnvGetter) error {
	if input == nil {
		return ErrNotStructPtr
	}

	v := reflect.ValueOf(input)
	if v.Kind() != reflect.Ptr {
		return ErrNotStructPtr
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrNotStructPtr
	}

	var errs []error
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("env")
		if !ok || field.PkgPath != "" {
			continue
		}

		key, constraint := splitTag(tag)
		value := envGetter.Get(key)

		if err := setField(v.Field(i), value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if err := validate(value, constraint); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	if len(errs) > 0 {
		return &ParseError{Errs: errs}
	}
	return nil
}

func splitTag(tag string) (string, string) {
	key, constraint, _ := strings.Cut(tag, ",")
	return key, constraint
}

func setField(field reflect.Value, value string) error {
	if value == "" {
		if field.Kind() == reflect.Ptr {
			field.Set(reflect.Zero(field.Type()))
		}
		return nil
	}

	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if err := setField(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("can't convert %q to duration: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 0, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("can't convert %q to integer: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 0, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("can't convert %q to unsigned integer: %w", value, err)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("can't convert %q to float: %w", value, err)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		items := strings.Split(value, "|")
		slice := reflect.MakeSlice(field.Type(), len(items), len(items))
		for i, item := range items {
			slice.Index(i).SetString(item)
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported type: %s", field.Type())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("can't convert %q to bool: %w", value, err)
	}
	return b, nil
}

func validate(value, constraint string) error {
	switch {
	case constraint == "":
		return nil
	case constraint == "required":
		if value == "" {
			return ErrRequired
		}
	case constraint == "file":
		info, err := os.Stat(value)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNotExists, value)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotFile, value)
		}
	case constraint == "dir":
		info, err := os.Stat(value)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNotExists, value)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotDir, value)
		}
	case strings.HasPrefix(constraint, "opt[") && strings.HasSuffix(constraint, "]"):
		options := valueOptions(strings.TrimSuffix(strings.TrimPrefix(constraint, "opt["), "]"))
		for _, option := range options {
			if option == value {
				return nil
			}
		}
		return fmt.Errorf("%w: %q not in %v", ErrNotInOptions, value, options)
	default:
		return fmt.Errorf("invalid constraint: %s", constraint)
	}
	return nil
}

// valueOptions splits comma separated options. Options containing commas are
// quoted with single quotes.
func valueOptions(s string) []string {
	var options []string
	var current strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ',' && !quoted:
			options = append(options, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(options, current.String())
}
