package comm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandErrorMessage(t *testing.T) {
	err := &CommandError{Command: "false", ExitCode: 1}
	assert.Equal(t, `command "false" exited with status 1`, err.Error())

	err = &CommandError{Command: "cat /nope", ExitCode: 1, Stderr: "cat: /nope: No such file or directory"}
	assert.Contains(t, err.Error(), "No such file or directory")
}

func TestUnsupported(t *testing.T) {
	err := Unsupported("serial", "BackgroundSubprocess")
	var unsupErr *UnsupportedError
	assert.ErrorAs(t, err, &unsupErr)
	assert.Equal(t, "serial", unsupErr.Transport)
	assert.Equal(t, "BackgroundSubprocess is not supported on the serial transport", err.Error())
}

func TestErrNotInPathWrapping(t *testing.T) {
	err := fmt.Errorf("%q: %w", "vanished", ErrNotInPath)
	assert.True(t, errors.Is(err, ErrNotInPath))
}

func TestSucceeded(t *testing.T) {
	ok, err := Succeeded(nil)
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, err = Succeeded(&CommandError{Command: "false", ExitCode: 1})
	assert.False(t, ok)
	assert.NoError(t, err)

	wrapped := fmt.Errorf("rig a: %w", &CommandError{Command: "false", ExitCode: 2})
	ok, err = Succeeded(wrapped)
	assert.False(t, ok)
	assert.NoError(t, err)

	transportErr := errors.New("connection reset")
	ok, err = Succeeded(transportErr)
	assert.False(t, ok)
	assert.Equal(t, transportErr, err)
}

func TestShortWriteErrorMessage(t *testing.T) {
	err := &ShortWriteError{Written: 3, Expected: 10}
	assert.Equal(t, "short write on communication channel: wrote 3 of 10 bytes", err.Error())
}
