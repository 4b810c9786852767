package logrusstackhook

import (
	"runtime"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func logFromHere(l logrus.FieldLogger, level logrus.Level, msg string) {
	l.WithField("where", "here").Log(level, msg)
}

func TestFire(t *testing.T) {
	a := assert.New(t)

	logger, entries := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	logger.AddHook(NewStackHook([]logrus.Level{logrus.WarnLevel}, nil))

	logFromHere(logger, logrus.WarnLevel, "with stack")
	logFromHere(logger, logrus.InfoLevel, "without stack")

	if a.Len(entries.AllEntries(), 2) {
		withStack := entries.AllEntries()[0]
		first, ok := withStack.Data["stack.00"].(string)
		if a.True(ok) {
			a.True(strings.HasSuffix(first, "logrusstackhook.logFromHere"), first)
		}
		a.Contains(withStack.Data, "stack.01")

		for k := range withStack.Data {
			if strings.HasPrefix(k, "stack.") {
				a.NotContains(withStack.Data[k], "github.com/sirupsen/logrus.")
			}
		}

		a.NotContains(entries.AllEntries()[1].Data, "stack.00")
	}
}

func TestFireCustom(t *testing.T) {
	a := assert.New(t)

	logger, entries := test.NewNullLogger()
	logger.AddHook(NewStackHook(AllLevelsAbove(logrus.ErrorLevel), CombineFilters(
		DefaultFilter,
		func(frame runtime.Frame) bool { return !strings.HasSuffix(frame.Function, "logFromHere") },
	)).WithPrefix("trace").WithDepth(40))

	logFromHere(logger, logrus.ErrorLevel, "custom")

	entry := entries.LastEntry()
	if a.NotNil(entry) {
		first, ok := entry.Data["trace.00"].(string)
		if a.True(ok) {
			a.True(strings.HasSuffix(first, "logrusstackhook.TestFireCustom"), first)
		}
		a.NotContains(entry.Data, "stack.00")
	}
}

func TestAllLevelsAbove(t *testing.T) {
	a := assert.New(t)

	a.Equal([]logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}, AllLevelsAbove(logrus.WarnLevel))
	a.Len(AllLevelsAbove(logrus.TraceLevel), len(logrus.AllLevels))
}

func TestFilters(t *testing.T) {
	for _, tc := range []struct {
		function string
		keep     bool
	}{
		{"github.com/sirupsen/logrus.(*Entry).log", false},
		{"github.com/sirupsen/logrus.LevelHooks.Fire", false},
		{"fknsrs.biz/p/recall/internal/stackutil.GetStack", false},
		{"fknsrs.biz/p/recall/internal/logrusstackhook.(*StackHook).Fire", false},
		{"fknsrs.biz/p/recall/internal/logrusstackhook.logFromHere", true},
		{"fknsrs.biz/p/recall/internal/syncer.(*Runner).sync", true},
	} {
		t.Run(tc.function, func(t *testing.T) {
			a := assert.New(t)

			a.Equal(tc.keep, DefaultFilter(runtime.Frame{Function: tc.function}))
		})
	}
}
