package ptr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOr(t *testing.T) {
	a := assert.New(t)

	a.Equal(3, Or(Int(3), 7))
	a.Equal(7, Or(nil, 7))
	a.Equal("", Or(String(""), "fallback"))
	a.Equal("fallback", Or[string](nil, "fallback"))
}
