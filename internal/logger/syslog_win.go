//go:build windows
// +build windows

package logger

import (
	"errors"
	"io"
)

// the syslog destination is rejected at logger creation on Windows;
// pick stdout or file there instead.
func newSyslog(_ string) (io.WriteCloser, error) {
	return nil, errors.New("the syslog log destination is not supported on Windows")
}
