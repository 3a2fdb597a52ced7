package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "delivery")
		panic("kaboom")
	})

	out := buf.String()
	assert.True(t, strings.Contains(out, "PANIC recovered"))
	assert.True(t, strings.Contains(out, "kaboom"))
	assert.True(t, strings.Contains(out, `"context":"delivery"`))
}

func TestRecoverPanicWithCallback(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})

	var got interface{}
	func() {
		defer RecoverPanicWithCallback(logger, "tick", func(r interface{}) { got = r })
		panic("bad tick")
	}()
	assert.Equal(t, "bad tick", got)

	called := false
	func() {
		defer RecoverPanicWithCallback(logger, "tick", func(interface{}) { called = true })
	}()
	assert.False(t, called)
}

func TestPanicError(t *testing.T) {
	assert.NoError(t, PanicError(nil))
	assert.EqualError(t, PanicError("oops"), "panic: oops")
}
