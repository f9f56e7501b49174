package stepconf

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/bitrise-io/go-utils/colorstring"
)

// Print the name of the struct with Title case in blue color followed by a
// newline, then print all fields formatted as '- field name: field value`
// separated by newline.
func Print(config interface{}) {
	fmt.Print(toString(config))
}

func valueString(v reflect.Value) string {
	if v.Kind() != reflect.Ptr {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("%v", v.Interface())
	}

	if !v.IsNil() {
		return fmt.Sprintf("%v", v.Elem().Interface())
	}

	return ""
}

func toString(config interface{}) string {
	v := reflect.ValueOf(config)
	t := reflect.TypeOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
		t = t.Elem()
	}

	name := t.Name()
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	str := colorstring.Bluef("%s:\n", name)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}

		key := field.Name
		if tag, ok := field.Tag.Lookup("env"); ok {
			key, _ = splitTag(tag)
		}

		value := "<unset>"
		if !v.Field(i).IsZero() {
			value = valueString(v.Field(i))
		}
		str += fmt.Sprintf("- %s: %s\n", key, value)
	}

	return str
}
