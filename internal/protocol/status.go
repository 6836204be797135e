package protocol

// Status wraps every client-bound reply: either the typed payload or an
// Error. Exactly one of Value/Err is meaningful, selected by Ok.
type Status[T any] struct {
	Ok    bool  `json:"ok"`
	Value T     `json:"value,omitempty"`
	Err   Error `json:"error,omitempty"`
}

// OkStatus wraps a successful reply value.
func OkStatus[T any](v T) Status[T] {
	return Status[T]{Ok: true, Value: v}
}

// ErrStatus wraps an error reply.
func ErrStatus[T any](err Error) Status[T] {
	return Status[T]{Ok: false, Err: err}
}
