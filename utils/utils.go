package utils

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/iancoleman/strcase"
)

func CamelCase(s string) string {
	return strcase.ToCamel(s)
}

func SnakeCase(s string) string {
	return strcase.ToSnake(s)
}

// TypeName renders a type key the way it shows up in logs and events:
// qualified by the full import path, pointers marked with a leading '*'.
// Distinct type keys always render differently.
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	if t.Name() != "" {
		if pkg := t.PkgPath(); pkg != "" {
			return pkg + "." + t.Name()
		}
		return t.Name()
	}

	switch t.Kind() {
	case reflect.Ptr:
		return "*" + TypeName(t.Elem())
	case reflect.Slice:
		return "[]" + TypeName(t.Elem())
	case reflect.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), TypeName(t.Elem()))
	case reflect.Map:
		return "map[" + TypeName(t.Key()) + "]" + TypeName(t.Elem())
	case reflect.Chan:
		return t.ChanDir().String() + " " + TypeName(t.Elem())
	default:
		return t.String()
	}
}

// LabelName turns a type key into a snake_case identifier usable as a
// topic suffix or metric label.
func LabelName(t reflect.Type) string {
	return Label(TypeName(t))
}

// Label is LabelName for a name already rendered by TypeName.
func Label(name string) string {
	name = labelReplacer.Replace(name)
	return strings.Trim(SnakeCase(name), "_")
}

var labelReplacer = strings.NewReplacer(
	"*", "ptr_",
	".", "_",
	"/", "_",
	"-", "_",
	"[", "_",
	"]", "_",
	" ", "_",
	"<", "_",
)

func init() {
	strcase.ConfigureAcronym("API", "api")
	strcase.ConfigureAcronym("ID", "id")
}
