package internal

// UserError is an error caused by something the user controls (flags, config files, paths).
// Its message is printed as-is, without the "internal error" framing.
type UserError struct {
	Message string
}

func (e *UserError) Error() string {
	return e.Message
}
