package service

import "fmt"

// Category tags a dispatch failure for the connection boundary's log
// line. Only categorized errors escape Dispatch.
type Category string

const (
	CatProtocol   Category = "protocol"
	CatValidation Category = "validation"
	CatExistence  Category = "existence"
	CatStore      Category = "store"
)

type Error struct {
	Cat Category
	Err error
}

func (e *Error) Error() string {
	return string(e.Cat) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errProtocol(format string, args ...interface{}) *Error {
	return &Error{Cat: CatProtocol, Err: fmt.Errorf(format, args...)}
}

func errValidation(format string, args ...interface{}) *Error {
	return &Error{Cat: CatValidation, Err: fmt.Errorf(format, args...)}
}

func errExistence(format string, args ...interface{}) *Error {
	return &Error{Cat: CatExistence, Err: fmt.Errorf(format, args...)}
}

func errStore(err error) *Error {
	return &Error{Cat: CatStore, Err: err}
}
