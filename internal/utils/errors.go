package utils

// AppError carries the failing operation alongside the message so ingress
// surfaces and logs show where a sample or rule lookup died.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	s := e.Op + ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes the cause for errors.Is and errors.As chains.
func (e *AppError) Unwrap() error { return e.Err }

// NewAppError wraps err with operation and message context.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
