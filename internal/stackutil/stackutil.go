// Package stackutil captures call stacks and renders them for log fields.
package stackutil

import (
	"fmt"
	"runtime"
	"strings"
)

// GetStack returns up to depth frames, starting with the caller of GetStack.
// skip drops that many additional frames from the top.
func GetStack(depth, skip int) []runtime.Frame {
	if depth <= 0 {
		return nil
	}

	pc := make([]uintptr, depth)
	n := runtime.Callers(skip+2, pc)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pc[:n])

	a := make([]runtime.Frame, 0, n)
	for {
		frame, more := frames.Next()
		a = append(a, frame)
		if !more {
			break
		}
	}

	return a
}

// PackagePath returns the import path of the package the frame's function
// belongs to, e.g. "github.com/sirupsen/logrus" for
// "github.com/sirupsen/logrus.(*Entry).Info".
func PackagePath(f runtime.Frame) string {
	name := f.Function

	slash := strings.LastIndex(name, "/")
	if slash < 0 {
		slash = 0
	}

	if dot := strings.Index(name[slash:], "."); dot >= 0 {
		return name[:slash+dot]
	}

	return name
}

// InPackages reports whether the frame belongs to any of the given packages
// or their subpackages.
func InPackages(f runtime.Frame, packages ...string) bool {
	p := PackagePath(f)

	for _, e := range packages {
		if p == e || strings.HasPrefix(p, e+"/") {
			return true
		}
	}

	return false
}

func FormatStack(a []runtime.Frame) []string {
	r := make([]string, len(a))
	for i, e := range a {
		r[i] = FormatStackFrame(e)
	}
	return r
}

func FormatStackFrame(f runtime.Frame) string {
	return fmt.Sprintf("%s:%d: %s", f.File, f.Line, f.Function)
}
