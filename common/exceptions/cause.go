package exceptions

type causeError1 struct {
	error
	cause error
}

func (e *causeError1) Error() string {
	return e.error.Error() + ": " + e.cause.Error()
}

func (e *causeError1) Unwrap() []error {
	return []error{e.error, e.cause}
}
