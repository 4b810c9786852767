// Package catchpanic turns panics in worker and job functions into errors.
package catchpanic

import (
	"errors"
	"fmt"
	"runtime"

	"fknsrs.biz/p/recall/internal/stackutil"
)

const stackDepth = 32

type PanicError struct {
	Value any
	Stack []runtime.Frame
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// StackOf returns the formatted stack of the first PanicError in err's
// chain, or nil if there isn't one.
func StackOf(err error) []string {
	var p *PanicError
	if !errors.As(err, &p) {
		return nil
	}

	return stackutil.FormatStack(p.Stack)
}

func Catch(fn func()) (err error) {
	defer func() {
		if ex := recover(); ex != nil {
			// skip this closure and runtime.gopanic
			err = fmt.Errorf("catchpanic.Catch: %w", &PanicError{
				Value: ex,
				Stack: stackutil.GetStack(stackDepth, 2),
			})
		}
	}()

	fn()

	return nil
}

func CatchErr0(fn func() error) error {
	var err error

	if err1 := Catch(func() { err = fn() }); err1 != nil {
		return err1
	}

	return err
}

func CatchErr1[T any](fn func() (T, error)) (T, error) {
	var res T
	var err error

	if err1 := Catch(func() { res, err = fn() }); err1 != nil {
		var zero T
		return zero, err1
	}

	return res, err
}
