package rss

import "fmt"

// ResultKind tells which variant a Result carries.
type ResultKind int

const (
	KindSuccess ResultKind = iota
	KindLoading
	KindError
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindLoading:
		return "loading"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the envelope of every published value: exactly one of
// Success(Data), Loading(Message) or Error(Message, Err).
type Result[T any] struct {
	Kind    ResultKind
	Data    T
	Message string
	// Err is the cause of an Error result, when one is known.
	Err error
}

// Success wraps data.
func Success[T any](data T) Result[T] {
	return Result[T]{Kind: KindSuccess, Data: data}
}

// Loading reports progress without data.
func Loading[T any](message string) Result[T] {
	return Result[T]{Kind: KindLoading, Message: message}
}

// Error reports a failure with a human-readable message.
func Error[T any](message string) Result[T] {
	return Result[T]{Kind: KindError, Message: message}
}

// Failure is Error with the message taken from err. err stays reachable for errors.Is.
func Failure[T any](err error) Result[T] {
	return Result[T]{Kind: KindError, Message: err.Error(), Err: err}
}

func (r Result[T]) IsSuccess() bool { return r.Kind == KindSuccess }
func (r Result[T]) IsLoading() bool { return r.Kind == KindLoading }
func (r Result[T]) IsError() bool   { return r.Kind == KindError }

func (r Result[T]) String() string {
	if r.Kind == KindSuccess {
		return fmt.Sprintf("success(%v)", r.Data)
	}
	return fmt.Sprintf("%s(%s)", r.Kind, r.Message)
}
