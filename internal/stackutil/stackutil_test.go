package stackutil

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func helper() []runtime.Frame {
	return GetStack(10, 0)
}

func TestGetStack(t *testing.T) {
	a := assert.New(t)

	frames := helper()
	if a.NotEmpty(frames) {
		a.True(strings.HasSuffix(frames[0].Function, "stackutil.helper"), frames[0].Function)
		a.True(strings.HasSuffix(frames[1].Function, "stackutil.TestGetStack"), frames[1].Function)
	}

	skipped := func() []runtime.Frame { return GetStack(10, 1) }()
	if a.NotEmpty(skipped) {
		a.True(strings.HasSuffix(skipped[0].Function, "stackutil.TestGetStack"), skipped[0].Function)
	}

	a.Len(GetStack(1, 0), 1)
	a.Nil(GetStack(0, 0))
}

func TestPackagePath(t *testing.T) {
	for _, tc := range []struct {
		function string
		path     string
		in       []string
		inAny    bool
	}{
		{"github.com/sirupsen/logrus.(*Entry).Info", "github.com/sirupsen/logrus", []string{"github.com/sirupsen/logrus"}, true},
		{"github.com/sirupsen/logrus/hooks/test.(*Hook).Fire", "github.com/sirupsen/logrus/hooks/test", []string{"github.com/sirupsen/logrus"}, true},
		{"github.com/sirupsen/logrusx.Fire", "github.com/sirupsen/logrusx", []string{"github.com/sirupsen/logrus"}, false},
		{"main.main", "main", []string{"runtime"}, false},
		{"runtime.goexit", "runtime", []string{"main", "runtime"}, true},
		{"fknsrs.biz/p/recall/internal/ctxdb.UsingTx.func1", "fknsrs.biz/p/recall/internal/ctxdb", []string{"fknsrs.biz/p/recall/internal/ctxdb"}, true},
	} {
		t.Run(tc.function, func(t *testing.T) {
			a := assert.New(t)

			f := runtime.Frame{Function: tc.function}
			a.Equal(tc.path, PackagePath(f))
			a.Equal(tc.inAny, InPackages(f, tc.in...))
		})
	}
}

func TestFormatStack(t *testing.T) {
	a := assert.New(t)

	a.Equal([]string{"/src/a.go:12: pkg.Fn"}, FormatStack([]runtime.Frame{{File: "/src/a.go", Line: 12, Function: "pkg.Fn"}}))
	a.Empty(FormatStack(nil))
}
