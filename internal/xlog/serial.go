package xlog

import (
	"errors"
	"fmt"
)

func toString(v interface{}) string {
	return fmt.Sprint(v)
}

// As is a thin wrapper over the standard errors.As, kept local so callers
// don't need a second import for the one place this package needs it.
func As(err error, target interface{}) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}

// KindOf reports the Kind tagged anywhere in err's cause chain, or
// KindUnspecified if err is not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind()
	}
	return KindUnspecified
}
