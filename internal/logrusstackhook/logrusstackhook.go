// Package logrusstackhook attaches the caller's stack to log entries at
// selected levels.
package logrusstackhook

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/stackutil"
)

const (
	DefaultDepth  = 25
	DefaultPrefix = "stack"
)

// FilterFunc returns false for frames that should be left out.
type FilterFunc func(frame runtime.Frame) bool

func SkipPackages(packages ...string) FilterFunc {
	return func(frame runtime.Frame) bool {
		return !stackutil.InPackages(frame, packages...)
	}
}

func SkipFunctions(prefixes ...string) FilterFunc {
	return func(frame runtime.Frame) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(frame.Function, p) {
				return false
			}
		}

		return true
	}
}

func CombineFilters(filters ...FilterFunc) FilterFunc {
	return func(frame runtime.Frame) bool {
		for _, fn := range filters {
			if fn != nil && !fn(frame) {
				return false
			}
		}

		return true
	}
}

var DefaultFilter = CombineFilters(
	SkipPackages("github.com/sirupsen/logrus", "fknsrs.biz/p/recall/internal/stackutil"),
	SkipFunctions("fknsrs.biz/p/recall/internal/logrusstackhook.(*StackHook)."),
)

type StackHook struct {
	levels []logrus.Level
	filter FilterFunc
	depth  int
	prefix string
}

// NewStackHook returns a hook for levels. A nil filter means DefaultFilter.
func NewStackHook(levels []logrus.Level, filter FilterFunc) *StackHook {
	if filter == nil {
		filter = DefaultFilter
	}

	return &StackHook{
		levels: levels,
		filter: filter,
		depth:  DefaultDepth,
		prefix: DefaultPrefix,
	}
}

func (h *StackHook) WithDepth(depth int) *StackHook {
	h.depth = depth
	return h
}

func (h *StackHook) WithPrefix(prefix string) *StackHook {
	h.prefix = prefix
	return h
}

// AllLevelsAbove returns every level at least as severe as level.
func AllLevelsAbove(level logrus.Level) []logrus.Level {
	var a []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= level {
			a = append(a, l)
		}
	}
	return a
}

func (h *StackHook) Levels() []logrus.Level {
	return h.levels
}

func (h *StackHook) Fire(e *logrus.Entry) error {
	n := 0
	for _, frame := range stackutil.GetStack(h.depth, 0) {
		if !h.filter(frame) {
			continue
		}

		e.Data[fmt.Sprintf("%s.%02d", h.prefix, n)] = stackutil.FormatStackFrame(frame)
		n++
	}

	return nil
}
