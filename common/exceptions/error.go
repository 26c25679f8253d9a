package exceptions

import (
	"errors"
	"fmt"
)

type Exception interface {
	error
	Cause() error
}

type exception struct {
	message string
	cause   error
}

func (e *exception) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *exception) Cause() error {
	return e.cause
}

func (e *exception) Unwrap() error {
	return e.cause
}

func New(message ...any) error {
	return errors.New(fmt.Sprint(message...))
}

func Cause(cause error, message ...any) error {
	return &exception{fmt.Sprint(message...), cause}
}

// Extend attaches a message to an existing error without hiding it from errors.Is.
func Extend(cause error, message ...any) error {
	if cause == nil {
		return New(message...)
	}
	return &causeError1{error: cause, cause: New(message...)}
}
