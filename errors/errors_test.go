package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.class.String())
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"eagain", syscall.EAGAIN, ErrorTransient},
		{"deadline", context.DeadlineExceeded, ErrorTransient},
		{"too many open files", &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept4", syscall.EMFILE)}, ErrorTransient},
		{"file table full", syscall.ENFILE, ErrorTransient},
		{"no buffer space", syscall.ENOBUFS, ErrorTransient},
		{"wrapped timeout", fmt.Errorf("radio: %w", ErrTimeout), ErrorTransient},
		{"invalid config", ErrInvalidConfig, ErrorInvalid},
		{"einval", syscall.EINVAL, ErrorInvalid},
		{"eof", io.EOF, ErrorFatal},
		{"reset", syscall.ECONNRESET, ErrorFatal},
		{"closed", net.ErrClosed, ErrorFatal},
		{"unknown", errors.New("boom"), ErrorFatal},
		{"classified transient wins", WrapTransient(io.EOF, "radio", "send"), ErrorTransient},
		{"classified invalid", WrapInvalid(errors.New("x"), "table", "load"), ErrorInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrapKeepsChain(t *testing.T) {
	base := errors.New("port gone")
	err := WrapFatal(base, "xbee", "write")

	assert.ErrorIs(t, err, base)
	assert.True(t, IsFatal(err))
	assert.Equal(t, "xbee.write: port gone", err.Error())
	assert.Nil(t, WrapTransient(nil, "a", "b"))
}
