// Package errorclass derives low-cardinality class names from errors so they
// can be used as metric tags.
package errorclass

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	apperrors "github.com/verity-dq/verity/internal/errors"
)

// Classify returns a stable, lowercase class name for err. Application
// errors classify by their code; everything else classifies by the innermost
// wrapped error's type name.
func Classify(err error) string {
	if err == nil {
		return "none"
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return strings.ToLower(string(appErr.Code))
	}

	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	return typeName(inner)
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	if t == nil {
		return "unknown"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		return "unknown"
	}
	return snakeCase(name)
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
